package protocol

import (
	"fmt"
	"strconv"
	"unsafe"
)

// FixedSize is the size of the fixed part of every request and reply,
// header included. Variable data follows it.
const FixedSize = 64

// Layout is the framing of one pointer width. Clients and the server must
// agree on it bit for bit.
type Layout struct {
	PointerSize int
}

var (
	Layout32 = Layout{PointerSize: 4}
	Layout64 = Layout{PointerSize: 8}
)

// HostLayout returns the layout of the running binary.
func HostLayout() Layout {
	return Layout{PointerSize: int(unsafe.Sizeof(uintptr(0)))}
}

// ParseLayout accepts "32", "64" or "host".
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "", "host":
		return HostLayout(), nil
	case "32":
		return Layout32, nil
	case "64":
		return Layout64, nil
	}
	return Layout{}, fmt.Errorf("unknown layout %q", s)
}

// Valid reports whether l is one of the supported widths.
func (l Layout) Valid() bool {
	return l.PointerSize == 4 || l.PointerSize == 8
}

// RequestHeaderSize is opcode, request_size and reply_size, padded to the
// pointer width.
func (l Layout) RequestHeaderSize() int {
	if l.PointerSize == 8 {
		return 16
	}
	return 12
}

// ReplyHeaderSize is status and reply_size, padded to the pointer width.
func (l Layout) ReplyHeaderSize() int {
	if l.PointerSize == 8 {
		return 16
	}
	return 8
}

// RequestFieldSize is the room left for request fields in the fixed part.
func (l Layout) RequestFieldSize() int {
	return FixedSize - l.RequestHeaderSize()
}

// ReplyFieldSize is the room left for reply fields in the fixed part.
func (l Layout) ReplyFieldSize() int {
	return FixedSize - l.ReplyHeaderSize()
}

func (l Layout) String() string {
	return strconv.Itoa(l.PointerSize*8) + "-bit"
}
