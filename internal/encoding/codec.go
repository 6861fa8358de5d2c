// Package encoding implements the binary contract spoken across the sandbox
// boundary. The layout is bincode-compatible: little-endian fixed-width
// integers, u32 enum discriminants, u8 option tags and u64 length prefixes.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformedPayload is returned (wrapped) by every decoder on bad input.
var ErrMalformedPayload = errors.New("malformed payload")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

// Codec pairs an encoder and a strict decoder for one wire type.
type Codec[T any] struct {
	Encode func(T) []byte
	Decode func([]byte) (T, error)
}

// Writer appends values to a growing buffer. It never fails.
type Writer struct {
	buf []byte
}

func NewWriter(sizeHint int) *Writer { return &Writer{buf: make([]byte, 0, sizeHint)} }

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// Variant writes an enum discriminant.
func (w *Writer) Variant(v uint32) { w.U32(v) }

// Option writes the presence tag of an optional value.
func (w *Writer) Option(present bool) {
	if present {
		w.U8(1)
		return
	}
	w.U8(0)
}

// Len64 writes a sequence length prefix.
func (w *Writer) Len64(n int) { w.U64(uint64(n)) }

func (w *Writer) String(s string) {
	w.Len64(len(s))
	w.buf = append(w.buf, s...)
}

// Reader consumes values from a byte slice. The first failure sticks: later
// reads return zero values and Err reports the original problem.
type Reader struct {
	b   []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{b: b} }

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Remaining() int { return len(r.b) - r.off }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.fail(malformed("truncated %s at offset %d: need %d bytes, have %d", what, r.off, n, r.Remaining()))
		return nil
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1, "u8")
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U32() uint32 {
	b := r.take(4, "u32")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) I32() int32 { return int32(r.U32()) }

func (r *Reader) U64() uint64 {
	b := r.take(8, "u64")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Variant reads an enum discriminant and checks it is below count.
func (r *Reader) Variant(what string, count uint32) uint32 {
	v := r.U32()
	if r.err == nil && v >= count {
		r.fail(malformed("unknown %s discriminant %d", what, v))
		return 0
	}
	return v
}

// Option reads an option tag; any tag other than 0 or 1 is malformed.
func (r *Reader) Option(what string) bool {
	tag := r.U8()
	if r.err != nil {
		return false
	}
	switch tag {
	case 0:
		return false
	case 1:
		return true
	}
	r.fail(malformed("invalid option tag %d for %s", tag, what))
	return false
}

// Len64 reads a sequence length and rejects lengths that cannot possibly fit
// in the rest of the input given a minimum encoded element size.
func (r *Reader) Len64(what string, minElem int) int {
	n := r.U64()
	if r.err != nil {
		return 0
	}
	if minElem < 1 {
		minElem = 1
	}
	if n > uint64(r.Remaining()/minElem) {
		r.fail(malformed("%s length %d exceeds remaining %d bytes", what, n, r.Remaining()))
		return 0
	}
	return int(n)
}

func (r *Reader) String(what string) string {
	n := r.U64()
	if r.err != nil {
		return ""
	}
	if n > uint64(r.Remaining()) {
		r.fail(malformed("%s length %d exceeds remaining %d bytes", what, n, r.Remaining()))
		return ""
	}
	b := r.take(int(n), what)
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.fail(malformed("%s is not valid utf-8", what))
		return ""
	}
	return string(b)
}

// Finish reports the sticky error, or a malformed error if input is left over.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.Remaining() != 0 {
		return malformed("%d trailing bytes", r.Remaining())
	}
	return nil
}
