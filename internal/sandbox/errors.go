package sandbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytecodealliance/wasmtime-go/v25"

	"bombarena.ai/internal/protocol"
)

// Kind says why a sandbox operation failed. The lifecycle controller bans on
// faults and the turn driver downgrades the rest.
type Kind int

const (
	KindCompile Kind = iota + 1
	KindInstantiate
	KindMissingExport
	KindOutOfFuel
	KindTimeout
	KindTrap
	KindBadBuffer
	KindMalformedPayload
	KindBufferTooSmall
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindCompile:
		return "compile"
	case KindInstantiate:
		return "instantiate"
	case KindMissingExport:
		return "missing export"
	case KindOutOfFuel:
		return "out of fuel"
	case KindTimeout:
		return "timeout"
	case KindTrap:
		return "trap"
	case KindBadBuffer:
		return "bad buffer"
	case KindMalformedPayload:
		return "malformed payload"
	case KindBufferTooSmall:
		return "buffer too small"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code maps the kind onto the reason codes recorded with bans.
func (k Kind) Code() string {
	switch k {
	case KindCompile:
		return protocol.ErrCompile
	case KindInstantiate:
		return protocol.ErrInstantiate
	case KindMissingExport:
		return protocol.ErrMissingExport
	case KindOutOfFuel:
		return protocol.ErrOutOfFuel
	case KindTimeout:
		return protocol.ErrTimeout
	case KindTrap:
		return protocol.ErrTrap
	case KindBadBuffer:
		return protocol.ErrBadBuffer
	case KindMalformedPayload:
		return protocol.ErrBadPayload
	case KindBufferTooSmall:
		return protocol.ErrBufferTooSmall
	}
	return protocol.ErrInternal
}

// Error is the structured failure of a compile, instantiate or call.
type Error struct {
	Kind   Kind
	Op     string // "compile", "instantiate" or "call"
	Export string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Export != "" {
		b.WriteString(" ")
		b.WriteString(e.Export)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrBufferTooSmall is wrapped by calls whose arguments do not fit in the
// module's shared buffer. Nothing is written to module memory in that case.
var ErrBufferTooSmall = errors.New("arguments exceed shared buffer capacity")

// KindOf returns the kind of a sandbox error, or 0 if err is not one.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsFault reports whether err is the module's fault and must ban it.
func IsFault(err error) bool {
	switch KindOf(err) {
	case 0, KindBufferTooSmall, KindInternal:
		return false
	}
	return true
}

// ReasonCode returns the protocol reason code for err.
func ReasonCode(err error) string {
	if k := KindOf(err); k != 0 {
		return k.Code()
	}
	return protocol.ErrInternal
}

// classifyExec turns an execution error from wasmtime into a structured error.
func classifyExec(op, export string, err error) *Error {
	kind := KindTrap
	if op == "instantiate" {
		kind = KindInstantiate
	}
	var trap *wasmtime.Trap
	if errors.As(err, &trap) {
		if code := trap.Code(); code != nil {
			switch *code {
			case wasmtime.OutOfFuel:
				kind = KindOutOfFuel
			case wasmtime.Interrupt:
				kind = KindTimeout
			}
		}
	} else {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "all fuel consumed"):
			kind = KindOutOfFuel
		case strings.Contains(msg, "epoch deadline") || strings.Contains(msg, "interrupt"):
			kind = KindTimeout
		}
	}
	return &Error{Kind: kind, Op: op, Export: export, Err: err}
}
