package sandbox

import (
	"fmt"
	"math"

	"bombarena.ai/internal/encoding"
)

// sharedBuffer is the region of module memory the host writes arguments into
// and reads results from. It is queried afresh for every call, so a module may
// move or resize its buffer between calls.
type sharedBuffer struct {
	addr uint32
	size uint32
}

// buffer queries and validates the module's shared buffer.
func (s *Store) buffer(export string) (sharedBuffer, error) {
	addr, err := s.call(ExportBufferAddress)
	if err != nil {
		return sharedBuffer{}, err
	}
	size, err := s.call(ExportBufferSize)
	if err != nil {
		return sharedBuffer{}, err
	}
	b := sharedBuffer{addr: uint32(addr), size: uint32(size)}
	if uint64(b.addr)+uint64(b.size) > uint64(len(s.memory())) {
		return sharedBuffer{}, &Error{Kind: KindBadBuffer, Op: "call", Export: export,
			Err: fmt.Errorf("buffer [%d,+%d) outside memory of %d bytes", b.addr, b.size, len(s.memory()))}
	}
	return b, nil
}

// writeArgs packs args back to back at the start of the shared buffer and
// returns the interleaved (address, length) call parameters. Capacity is
// checked before any byte is written.
func (s *Store) writeArgs(export string, b sharedBuffer, args [][]byte) ([]int32, error) {
	var total uint64
	for _, a := range args {
		total += uint64(len(a))
	}
	if total > uint64(b.size) {
		return nil, &Error{Kind: KindBufferTooSmall, Op: "call", Export: export,
			Err: fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, total, b.size)}
	}
	mem := s.memory()
	if uint64(b.addr)+total > uint64(len(mem)) || uint64(b.addr)+total > math.MaxInt32 {
		return nil, &Error{Kind: KindBadBuffer, Op: "call", Export: export,
			Err: fmt.Errorf("buffer at %d no longer inside memory", b.addr)}
	}
	params := make([]int32, 0, 2*len(args))
	off := b.addr
	for _, a := range args {
		copy(mem[off:], a)
		params = append(params, int32(off), int32(len(a)))
		off += uint32(len(a))
	}
	return params, nil
}

// readResult copies n bytes from the start of the shared buffer.
func (s *Store) readResult(export string, b sharedBuffer, n int32) ([]byte, error) {
	if n < 0 || uint32(n) > b.size {
		return nil, &Error{Kind: KindBadBuffer, Op: "call", Export: export,
			Err: fmt.Errorf("returned length %d outside buffer of %d bytes", n, b.size)}
	}
	mem := s.memory()
	end := uint64(b.addr) + uint64(n)
	if end > uint64(len(mem)) {
		return nil, &Error{Kind: KindBadBuffer, Op: "call", Export: export,
			Err: fmt.Errorf("result [%d,+%d) outside memory of %d bytes", b.addr, n, len(mem))}
	}
	out := make([]byte, n)
	copy(out, mem[b.addr:end])
	return out, nil
}

// Invoke serializes args into the shared buffer, calls export, and decodes the
// bytes it reports having written back with result.
func Invoke[R any](s *Store, export string, result encoding.Codec[R], args ...[]byte) (R, error) {
	var zero R
	b, err := s.buffer(export)
	if err != nil {
		return zero, err
	}
	params, err := s.writeArgs(export, b, args)
	if err != nil {
		return zero, err
	}
	n, err := s.call(export, params...)
	if err != nil {
		return zero, err
	}
	raw, err := s.readResult(export, b, n)
	if err != nil {
		return zero, err
	}
	v, err := result.Decode(raw)
	if err != nil {
		return zero, &Error{Kind: KindMalformedPayload, Op: "call", Export: export, Err: err}
	}
	return v, nil
}

// InvokeVoid calls an export that returns nothing, or whose result is
// ignored. With no arguments the shared buffer is never queried or written.
func InvokeVoid(s *Store, export string, args ...[]byte) error {
	var params []int32
	if len(args) > 0 {
		b, err := s.buffer(export)
		if err != nil {
			return err
		}
		if params, err = s.writeArgs(export, b, args); err != nil {
			return err
		}
	}
	_, err := s.callRaw(export, params...)
	return err
}
