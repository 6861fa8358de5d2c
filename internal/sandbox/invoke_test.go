package sandbox

import (
	"bytes"
	"testing"
	"time"

	"bombarena.ai/internal/encoding"
)

func instantiate(t *testing.T, rt *Runtime, src string) *Store {
	t.Helper()
	m, err := rt.Compile([]byte(src))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	s, err := rt.Instantiate(m, rt.Config().FuelPerTurn)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// The buffer exports trap, so any query or write of the shared buffer fails.
const hookModule = `(module
  (memory (export "memory") 1)
  (global $n (mut i32) (i32.const 0))
  (func (export "__wasm_get_buffer_address") (result i32) unreachable)
  (func (export "__wasm_get_buffer_size") (result i32) unreachable)
  (func (export "on_round_start")
    (global.set $n (i32.add (global.get $n) (i32.const 1))))
  (func (export "count") (result i32) (global.get $n))
)`

func TestInvokeVoidWithoutArgsSkipsBuffer(t *testing.T) {
	rt := testRuntime(t, nil)
	s := instantiate(t, rt, hookModule)
	before := append([]byte(nil), s.memory()...)

	for i := 0; i < 2; i++ {
		if err := InvokeVoid(s, "on_round_start"); err != nil {
			t.Fatalf("InvokeVoid %d: %v", i, err)
		}
	}
	if n, err := s.call("count"); err != nil || n != 2 {
		t.Fatalf("count = %d, %v; want 2", n, err)
	}
	if !bytes.Equal(before, s.memory()) {
		t.Fatalf("memory changed by argument-less calls")
	}

	// With arguments the buffer is needed, and querying it traps here.
	if err := InvokeVoid(s, "on_round_start", []byte{1}); KindOf(err) != KindTrap {
		t.Fatalf("err = %v, want trap from buffer query", err)
	}
	if n, _ := s.call("count"); n != 2 {
		t.Fatalf("export ran after failed buffer query, count = %d", n)
	}
}

const movingBufferModule = `(module
  (memory (export "memory") 1)
  (global $addr (mut i32) (i32.const 1024))
  (data (i32.const 16) "\03\00\00\00\00\00\00\00bot")
  (func (export "__wasm_get_buffer_address") (result i32) (global.get $addr))
  (func (export "__wasm_get_buffer_size") (result i32) (i32.const 256))
  (func (export "__wasm_shim_name") (result i32)
    (memory.copy (global.get $addr) (i32.const 16) (i32.const 11))
    (i32.const 11))
  (func (export "move")
    (memory.fill (global.get $addr) (i32.const 0) (i32.const 256))
    (global.set $addr (i32.add (global.get $addr) (i32.const 4096))))
  (func (export "escape")
    (global.set $addr (i32.const 65500)))
)`

func TestBufferIsQueriedEveryCall(t *testing.T) {
	rt := testRuntime(t, nil)
	s := instantiate(t, rt, movingBufferModule)

	for i := 0; i < 3; i++ {
		name, err := Invoke(s, ExportName, encoding.StringCodec)
		if err != nil || name != "bot" {
			t.Fatalf("call %d: Name = %q, %v", i, name, err)
		}
		if err := InvokeVoid(s, "move"); err != nil {
			t.Fatalf("move: %v", err)
		}
	}

	if err := InvokeVoid(s, "escape"); err != nil {
		t.Fatalf("escape: %v", err)
	}
	if _, err := Invoke(s, ExportName, encoding.StringCodec); KindOf(err) != KindBadBuffer {
		t.Fatalf("err = %v, want bad buffer after it left memory", err)
	}
}

func TestTimeoutDoesNotInterruptOtherStores(t *testing.T) {
	rt := testRuntime(t, func(c *Config) {
		c.FuelPerTurn = 1 << 60
		c.CallTimeout = 100 * time.Millisecond
	})
	slow := loadPlayer(t, rt, agent(1024, 4096, `(loop $l (br $l)) (i32.const 0)`))
	fast := loadPlayer(t, rt, agent(1024, 4096, moveNorth))

	done := make(chan error, 1)
	go func() {
		_, err := slow.Act(sampleView())
		done <- err
	}()

	calls := 0
	for finished := false; !finished || calls < 5; calls++ {
		select {
		case err := <-done:
			if KindOf(err) != KindTimeout {
				t.Fatalf("slow err = %v, want timeout", err)
			}
			finished = true
		default:
		}
		if _, err := fast.Act(sampleView()); err != nil {
			t.Fatalf("fast call %d: %v", calls, err)
		}
	}
}
