package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrShort is returned when a field runs past the end of the buffer.
var ErrShort = errors.New("wire: short buffer")

// Reader decodes little-endian fixed-width fields from a byte slice. The
// first failure sticks: later reads return zero values and Err reports it.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader creates a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Position returns the current byte position.
func (r *Reader) Position() int {
	return r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) take(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Len() < n {
		r.err = &ParseError{Field: field, Position: r.pos, Err: ErrShort}
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// U8 reads one byte.
func (r *Reader) U8(field string) uint8 {
	b := r.take(1, field)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 reads a little-endian uint16.
func (r *Reader) U16(field string) uint16 {
	b := r.take(2, field)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32 reads a little-endian uint32.
func (r *Reader) U32(field string) uint32 {
	b := r.take(4, field)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian uint64.
func (r *Reader) U64(field string) uint64 {
	b := r.take(8, field)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// I32 reads a little-endian int32.
func (r *Reader) I32(field string) int32 {
	return int32(r.U32(field))
}

// I64 reads a little-endian int64.
func (r *Reader) I64(field string) int64 {
	return int64(r.U64(field))
}

// Bool reads a uint32 and reports whether it is nonzero.
func (r *Reader) Bool(field string) bool {
	return r.U32(field) != 0
}

// Bytes reads exactly n bytes. The result aliases the buffer.
func (r *Reader) Bytes(n int, field string) []byte {
	return r.take(n, field)
}

// Skip discards n bytes of padding.
func (r *Reader) Skip(n int) {
	r.take(n, "padding")
}

// Remaining returns every unread byte.
func (r *Reader) Remaining() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// String reads the rest of the buffer as UTF-8.
func (r *Reader) String(field string) string {
	b := r.Remaining()
	if !utf8.Valid(b) && r.err == nil {
		r.err = &ParseError{Field: field, Position: r.pos - len(b), Err: errors.New("invalid UTF-8")}
		return ""
	}
	return string(b)
}

// Fail records err against field unless an earlier error is already
// recorded.
func (r *Reader) Fail(field string, err error) {
	if r.err == nil {
		r.err = &ParseError{Field: field, Position: r.pos, Err: err}
	}
}

// ParseError reports which field failed and where.
type ParseError struct {
	Err      error
	Field    string
	Position int
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("wire: %s at position %d: %v", e.Field, e.Position, e.Err)
	}
	return fmt.Sprintf("wire: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
