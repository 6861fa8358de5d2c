// Package sandbox runs untrusted WebAssembly agents under a fuel budget and a
// wall-clock backstop, talking to them only through a shared memory buffer.
package sandbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"
)

type Config struct {
	// FuelPerTurn is the instruction budget topped up before every act call.
	FuelPerTurn uint64
	// CallTimeout interrupts a call that runs longer than this in wall time.
	// Zero disables the backstop.
	CallTimeout time.Duration
	// MaxMemoryBytes caps linear memory growth per instance. Zero or less means
	// no cap beyond the engine default.
	MaxMemoryBytes int64
}

func DefaultConfig() Config {
	return Config{
		FuelPerTurn:    10_000_000,
		CallTimeout:    250 * time.Millisecond,
		MaxMemoryBytes: 64 << 20,
	}
}

// Runtime owns the engine shared by every compiled module. Stores created from
// it may be used from different goroutines, but guest calls on one Runtime run
// one at a time: the wall-clock backstop bumps the engine-wide epoch, which
// would otherwise interrupt every call in flight.
type Runtime struct {
	cfg    Config
	engine *wasmtime.Engine
	logger *log.Logger

	callMu sync.Mutex
}

func NewRuntime(cfg Config, logger *log.Logger) *Runtime {
	if logger == nil {
		logger = log.New(os.Stdout, "[sandbox] ", log.LstdFlags|log.Lmicroseconds)
	}
	wc := wasmtime.NewConfig()
	wc.SetConsumeFuel(true)
	wc.SetEpochInterruption(true)
	return &Runtime{
		cfg:    cfg,
		engine: wasmtime.NewEngineWithConfig(wc),
		logger: logger,
	}
}

func (r *Runtime) Config() Config { return r.cfg }

// Module is a validated, compiled agent binary.
type Module struct {
	module *wasmtime.Module
	Digest string
}

var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// Compile validates and compiles src. Binary modules are used as is; anything
// else is treated as WebAssembly text.
func (r *Runtime) Compile(src []byte) (*Module, error) {
	if len(src) == 0 {
		return nil, &Error{Kind: KindCompile, Op: "compile", Err: errors.New("empty module")}
	}
	bin := src
	if !bytes.HasPrefix(src, wasmMagic) {
		b, err := wasmtime.Wat2Wasm(string(src))
		if err != nil {
			return nil, &Error{Kind: KindCompile, Op: "compile", Err: err}
		}
		bin = b
	}
	m, err := wasmtime.NewModule(r.engine, bin)
	if err != nil {
		return nil, &Error{Kind: KindCompile, Op: "compile", Err: err}
	}
	sum := sha256.Sum256(src)
	return &Module{module: m, Digest: hex.EncodeToString(sum[:])}, nil
}

// Instantiate creates a fresh store holding one instance of m. The start
// function, if any, runs against the initial fuel grant.
func (r *Runtime) Instantiate(m *Module, fuel uint64) (*Store, error) {
	if m == nil || m.module == nil {
		return nil, &Error{Kind: KindInternal, Op: "instantiate", Err: errors.New("nil module")}
	}
	ws := wasmtime.NewStore(r.engine)
	if r.cfg.MaxMemoryBytes > 0 {
		ws.Limiter(r.cfg.MaxMemoryBytes, -1, 1, -1, 1)
	}
	s := &Store{rt: r, store: ws}
	if err := ws.SetFuel(fuel); err != nil {
		ws.Close()
		return nil, &Error{Kind: KindInternal, Op: "instantiate", Err: err}
	}
	s.issued = fuel

	var (
		inst *wasmtime.Instance
		ierr error
	)
	s.guard(func() {
		inst, ierr = wasmtime.NewInstance(ws, m.module, []wasmtime.AsExtern{})
	})
	if ierr != nil {
		ws.Close()
		return nil, classifyExec("instantiate", "", ierr)
	}
	s.inst = inst

	ext := inst.GetExport(ws, ExportMemory)
	if ext == nil || ext.Memory() == nil {
		ws.Close()
		return nil, &Error{Kind: KindMissingExport, Op: "instantiate", Export: ExportMemory}
	}
	s.mem = ext.Memory()
	return s, nil
}

// LoadPlayer compiles src and instantiates it with one turn's worth of fuel.
func (r *Runtime) LoadPlayer(src []byte) (*Player, error) {
	m, err := r.Compile(src)
	if err != nil {
		return nil, err
	}
	return r.InstantiatePlayer(m)
}

// InstantiatePlayer instantiates an already compiled module as a player and
// checks that every export the arena calls is present.
func (r *Runtime) InstantiatePlayer(m *Module) (*Player, error) {
	s, err := r.Instantiate(m, r.cfg.FuelPerTurn)
	if err != nil {
		return nil, err
	}
	for _, exp := range playerExports {
		if err := s.checkExport(exp.name, exp.params, exp.results); err != nil {
			s.Close()
			return nil, err
		}
	}
	return &Player{Store: s, digest: m.Digest}, nil
}

func (r *Runtime) String() string {
	return fmt.Sprintf("sandbox.Runtime{fuel=%d timeout=%s mem=%d}", r.cfg.FuelPerTurn, r.cfg.CallTimeout, r.cfg.MaxMemoryBytes)
}
