package sandbox

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"
)

// Store is one instantiated module with its own fuel ledger. It is not safe
// for concurrent use.
type Store struct {
	rt    *Runtime
	store *wasmtime.Store
	inst  *wasmtime.Instance
	mem   *wasmtime.Memory

	// issued is every unit of fuel ever granted. Consumed fuel is issued minus
	// what the store still holds.
	issued uint64

	inCall bool
	closed bool
}

var errClosed = errors.New("store closed")

// FuelRemaining returns the fuel the store still holds.
func (s *Store) FuelRemaining() (uint64, error) {
	if s.closed {
		return 0, &Error{Kind: KindInternal, Op: "fuel", Err: errClosed}
	}
	left, err := s.store.GetFuel()
	if err != nil {
		return 0, &Error{Kind: KindInternal, Op: "fuel", Err: err}
	}
	if left > s.issued {
		return 0, &Error{Kind: KindInternal, Op: "fuel", Err: fmt.Errorf("remaining fuel %d exceeds issued %d", left, s.issued)}
	}
	return left, nil
}

// FuelConsumed returns the total fuel burned since instantiation. It never
// decreases.
func (s *Store) FuelConsumed() (uint64, error) {
	left, err := s.FuelRemaining()
	if err != nil {
		return 0, err
	}
	return s.issued - left, nil
}

// AddFuel grants x more fuel on top of what remains.
func (s *Store) AddFuel(x uint64) error {
	left, err := s.FuelRemaining()
	if err != nil {
		return err
	}
	if x > math.MaxUint64-s.issued || x > math.MaxUint64-left {
		return &Error{Kind: KindInternal, Op: "fuel", Err: errors.New("fuel overflow")}
	}
	if err := s.store.SetFuel(left + x); err != nil {
		return &Error{Kind: KindInternal, Op: "fuel", Err: err}
	}
	s.issued += x
	return nil
}

// Refuel tops the remaining fuel up to budget. A store already holding at least
// budget is left alone.
func (s *Store) Refuel(budget uint64) error {
	left, err := s.FuelRemaining()
	if err != nil {
		return err
	}
	if left >= budget {
		return nil
	}
	return s.AddFuel(budget - left)
}

// Close releases the instance. Further calls fail with an internal error.
func (s *Store) Close() {
	if s == nil || s.closed {
		return
	}
	s.closed = true
	s.store.Close()
}

// guard runs fn with the epoch deadline armed and a wall-clock timer that bumps
// the engine epoch when it expires. It holds the runtime's call lock so an
// expiring timer only ever interrupts its own call, and the timer is fully
// retired before guard returns.
func (s *Store) guard(fn func()) {
	s.rt.callMu.Lock()
	defer s.rt.callMu.Unlock()
	timeout := s.rt.cfg.CallTimeout
	if timeout <= 0 {
		s.store.SetEpochDeadline(1 << 40)
		fn()
		return
	}
	s.store.SetEpochDeadline(1)
	fired := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		s.rt.engine.IncrementEpoch()
		close(fired)
	})
	fn()
	if !timer.Stop() {
		<-fired
	}
}

// checkExport verifies that name is an exported function taking nparams i32
// and returning nresults i32.
func (s *Store) checkExport(name string, nparams, nresults int) error {
	fn := s.inst.GetFunc(s.store, name)
	if fn == nil {
		return &Error{Kind: KindMissingExport, Op: "instantiate", Export: name}
	}
	ft := fn.Type(s.store)
	params, results := ft.Params(), ft.Results()
	ok := len(params) == nparams && len(results) == nresults
	for _, vt := range append(params, results...) {
		if vt.Kind() != wasmtime.KindI32 {
			ok = false
		}
	}
	if !ok {
		return &Error{Kind: KindMissingExport, Op: "instantiate", Export: name,
			Err: fmt.Errorf("want %d i32 params and %d i32 results", nparams, nresults)}
	}
	return nil
}

// call invokes an export returning a single i32.
func (s *Store) call(name string, args ...int32) (int32, error) {
	out, err := s.callRaw(name, args...)
	if err != nil {
		return 0, err
	}
	v, ok := out.(int32)
	if !ok {
		return 0, &Error{Kind: KindMissingExport, Op: "call", Export: name, Err: fmt.Errorf("unexpected result %T", out)}
	}
	return v, nil
}

// callRaw invokes an export and returns whatever it produced, nil for an
// export with no results.
func (s *Store) callRaw(name string, args ...int32) (interface{}, error) {
	if s.closed {
		return nil, &Error{Kind: KindInternal, Op: "call", Export: name, Err: errClosed}
	}
	if s.inCall {
		return nil, &Error{Kind: KindInternal, Op: "call", Export: name, Err: errors.New("re-entrant call")}
	}
	fn := s.inst.GetFunc(s.store, name)
	if fn == nil {
		return nil, &Error{Kind: KindMissingExport, Op: "call", Export: name}
	}
	params := make([]interface{}, len(args))
	for i, a := range args {
		params[i] = a
	}

	var (
		out  interface{}
		cerr error
	)
	s.inCall = true
	s.guard(func() {
		out, cerr = fn.Call(s.store, params...)
	})
	s.inCall = false
	if cerr != nil {
		return nil, classifyExec("call", name, cerr)
	}
	return out, nil
}

func (s *Store) memory() []byte {
	return s.mem.UnsafeData(s.store)
}
