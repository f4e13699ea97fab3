package handle

import "fmt"

// Handle is the 32-bit client-visible value of a table entry:
//
//	(generation << 16) | (index << 1) | tag
//
// Generation 0 never appears in a live handle, so the zero Handle is always
// invalid.
type Handle uint32

const (
	generationShift = 16
	indexShift      = 1
	indexMask       = 0x7fff
	tagMask         = 0x1

	// GenerationAny in a lookup matches whatever generation the slot holds.
	// Only privileged callers resolving truncated 16-bit values use it.
	GenerationAny uint16 = 0xffff

	// MaxSlots is the number of slots addressable by the 15-bit index field.
	MaxSlots = indexMask + 1
)

// Tags distinguish the tables a handle can belong to.
const (
	TagLocal  uint8 = 0 // per-process handle tables
	TagGlobal uint8 = 1 // thread and process ids
)

// Encode builds a handle from its fields.
func Encode(index int, generation uint16, tag uint8) Handle {
	return Handle(uint32(generation)<<generationShift |
		uint32(index&indexMask)<<indexShift |
		uint32(tag&tagMask))
}

// FromTruncated widens a 16-bit handle value into a lookup key that matches
// any generation.
func FromTruncated(v uint16) Handle {
	return Handle(uint32(GenerationAny)<<generationShift | uint32(v))
}

// Index returns the slot index.
func (h Handle) Index() int {
	return int(uint32(h)>>indexShift) & indexMask
}

// Generation returns the generation tag.
func (h Handle) Generation() uint16 {
	return uint16(uint32(h) >> generationShift)
}

// Tag returns the tag bit.
func (h Handle) Tag() uint8 {
	return uint8(uint32(h) & tagMask)
}

// Truncate returns the low 16 bits, as seen by legacy 16-bit clients.
func (h Handle) Truncate() uint16 {
	return uint16(h)
}

// String formats a handle as "index@generation".
func (h Handle) String() string {
	return fmt.Sprintf("%#x(%d@%d)", uint32(h), h.Index(), h.Generation())
}

// nextGeneration skips the reserved values 0 and GenerationAny.
func nextGeneration(g uint16) uint16 {
	g++
	if g == 0 || g == GenerationAny {
		g = 1
	}
	return g
}
