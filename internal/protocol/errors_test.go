package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrCompile,
		ErrInstantiate,
		ErrNameQuery,
		ErrMissingExport,
		ErrOutOfFuel,
		ErrTimeout,
		ErrTrap,
		ErrBadBuffer,
		ErrBadPayload,
		ErrBufferTooSmall,
		ErrInternal,
		ErrGameplayRejected,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestOffsetDistances(t *testing.T) {
	o := TileOffset{X: 4, Y: -3}
	if got := o.Taxicab(); got != 7 {
		t.Fatalf("taxicab=%d want 7", got)
	}
	if got := o.Chebyshev(); got != 4 {
		t.Fatalf("chebyshev=%d want 4", got)
	}
	if got := North.Extend(2); got != (TileOffset{Y: 2}) {
		t.Fatalf("North.Extend(2)=%v", got)
	}
	if got := West.Extend(1).Add(South.Extend(1)); got != (TileOffset{X: -1, Y: -1}) {
		t.Fatalf("west+south=%v", got)
	}
}
