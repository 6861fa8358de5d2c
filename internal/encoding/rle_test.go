package encoding

import (
	"testing"

	"bombarena.ai/internal/protocol"
)

func TestTilesRLE_RoundTrip(t *testing.T) {
	in := []protocol.Tile{protocol.Wall, protocol.Wall, protocol.Floor, protocol.Hill, protocol.Hill}
	for i := 0; i < 50; i++ {
		in = append(in, protocol.Floor)
	}
	in = append(in, protocol.Wall)

	enc := EncodeTilesRLE(in)
	out, err := DecodeTilesRLE(enc, len(in))
	if err != nil {
		t.Fatalf("DecodeTilesRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %v want %v", i, out[i], in[i])
		}
	}
}

func TestTilesRLE_Limit(t *testing.T) {
	enc := EncodeTilesRLE(make([]protocol.Tile, 100))
	if _, err := DecodeTilesRLE(enc, 99); err == nil {
		t.Fatalf("expected limit error")
	}
}
