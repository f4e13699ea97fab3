package cpucontext

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/ntserver/errors"
)

// Location places one canonical register inside a native register area.
type Location struct {
	Set    RegSet
	Offset int
	Size   int
}

// Layout maps a machine's register file onto one host ABI.
type Layout struct {
	File  *RegisterFile
	Order binary.ByteOrder
	// Sizes is the byte size of each native area.
	Sizes map[RegSet]int
	// Native holds the host identifier of each area: an NT_* note type for
	// ptrace regsets, a thread_state flavor for Mach, a PC* control code for
	// procfs writes.
	Native map[RegSet]uint32
	// Base is the offset of each area inside a containing status file.
	Base map[RegSet]int
	loc  [numGroups][]Location
	ABI  ABI
}

// Machine returns the laid-out machine.
func (l *Layout) Machine() Machine {
	return l.File.Machine
}

// Locations returns the native locations of group g, parallel to
// File.Groups.
func (l *Layout) Locations(g Group) []Location {
	var out []Location
	g.each(func(i int, _ Group) {
		out = append(out, l.loc[i]...)
	})
	return out
}

// Sets returns the distinct native areas touched by groups, in a stable order.
func (l *Layout) Sets(groups Group) []RegSet {
	var seen [SetWatch + 1]bool
	groups.each(func(i int, _ Group) {
		for _, loc := range l.loc[i] {
			seen[loc.Set] = true
		}
	})
	var sets []RegSet
	for s := SetGeneral; s <= SetWatch; s++ {
		if seen[s] {
			sets = append(sets, s)
		}
	}
	return sets
}

// Reachable returns the groups with at least one register that lives in a
// native area.
func (l *Layout) Reachable() Group {
	var g Group
	for i := 0; i < numGroups; i++ {
		for _, loc := range l.loc[i] {
			if loc.Set != SetNone {
				g |= 1 << i
				break
			}
		}
	}
	return g
}

// Decode copies the registers of groups that live in set from buf into ctx.
// Registers of other areas are not touched.
func (l *Layout) Decode(set RegSet, buf []byte, ctx *Context, groups Group) {
	groups.each(func(gi int, _ Group) {
		for ri, loc := range l.loc[gi] {
			if loc.Set != set {
				continue
			}
			ctx.regs[gi][ri] = l.load(buf, loc)
		}
	})
}

// Encode writes the registers of groups that live in set from ctx into buf,
// leaving every other byte of buf as it was.
func (l *Layout) Encode(set RegSet, buf []byte, ctx *Context, groups Group) {
	groups.each(func(gi int, _ Group) {
		for ri, loc := range l.loc[gi] {
			if loc.Set != set {
				continue
			}
			l.store(buf, loc, ctx.regs[gi][ri])
		}
	})
}

// ZeroUnreachable clears the registers of groups that have no native home.
func (l *Layout) ZeroUnreachable(ctx *Context, groups Group) {
	groups.each(func(gi int, _ Group) {
		for ri, loc := range l.loc[gi] {
			if loc.Set == SetNone {
				ctx.regs[gi][ri] = 0
			}
		}
	})
}

// UserRegs returns the registers of groups that are accessed one word at a
// time, with their canonical positions.
func (l *Layout) UserRegs(groups Group) []UserReg {
	var out []UserReg
	groups.each(func(gi int, _ Group) {
		for ri, loc := range l.loc[gi] {
			if loc.Set == SetUser {
				out = append(out, UserReg{Group: gi, Index: ri, Location: loc})
			}
		}
	})
	return out
}

// UserReg is a register living in the per-word user area.
type UserReg struct {
	Location
	Group int
	Index int
}

func (l *Layout) load(buf []byte, loc Location) uint64 {
	if loc.Offset+loc.Size > len(buf) {
		return 0
	}
	b := buf[loc.Offset : loc.Offset+loc.Size]
	switch loc.Size {
	case 2:
		return uint64(l.Order.Uint16(b))
	case 4:
		return uint64(l.Order.Uint32(b))
	case 8:
		return l.Order.Uint64(b)
	}
	return 0
}

func (l *Layout) store(buf []byte, loc Location, v uint64) {
	if loc.Offset+loc.Size > len(buf) {
		return
	}
	b := buf[loc.Offset : loc.Offset+loc.Size]
	switch loc.Size {
	case 2:
		l.Order.PutUint16(b, uint16(v))
	case 4:
		l.Order.PutUint32(b, uint32(v))
	case 8:
		l.Order.PutUint64(b, v)
	}
}

// LoadWord decodes a single register word, as read by PEEKUSER.
func (l *Layout) LoadWord(b []byte, size int) uint64 {
	return l.load(b, Location{Size: size})
}

// StoreWord encodes a single register word.
func (l *Layout) StoreWord(b []byte, size int, v uint64) {
	l.store(b, Location{Size: size}, v)
}

type layoutKey struct {
	abi     ABI
	machine Machine
}

var layouts = map[layoutKey]*Layout{}

// LayoutFor returns the native layout of machine m under abi.
func LayoutFor(abi ABI, m Machine) (*Layout, error) {
	if l, ok := layouts[layoutKey{abi, m}]; ok {
		return l, nil
	}
	return nil, errors.Unsupported(errors.PhaseContext, fmt.Sprintf("no %s register layout for %s", abi, m))
}

// Layouts returns every registered layout of abi.
func Layouts(abi ABI) []*Layout {
	var out []*Layout
	for _, m := range []Machine{MachineI386, MachineAMD64, MachinePowerPC, MachineSPARC, MachineAlpha, MachineARM64} {
		if l, ok := layouts[layoutKey{abi, m}]; ok {
			out = append(out, l)
		}
	}
	return out
}

type layoutSpec struct {
	file   *RegisterFile
	order  binary.ByteOrder
	sizes  map[RegSet]int
	native map[RegSet]uint32
	base   map[RegSet]int
	regs   map[string]Location
	abi    ABI
}

// defineLayout builds a layout from a name->location table. Registers of the
// file that the table omits have no native home.
func defineLayout(s layoutSpec) *Layout {
	l := &Layout{
		ABI:    s.abi,
		File:   s.file,
		Order:  s.order,
		Sizes:  s.sizes,
		Native: s.native,
		Base:   s.base,
	}
	for gi, names := range s.file.Groups {
		l.loc[gi] = make([]Location, len(names))
		for ri, name := range names {
			if loc, ok := s.regs[name]; ok {
				l.loc[gi][ri] = loc
			}
		}
	}
	layouts[layoutKey{s.abi, s.file.Machine}] = l
	return l
}

// at is shorthand for a register table entry.
func at(set RegSet, offset, size int) Location {
	return Location{Set: set, Offset: offset, Size: size}
}

// words lays out names[i] at start+i*stride.
func words(regs map[string]Location, set RegSet, names []string, start, stride, size int) {
	for i, n := range names {
		regs[n] = at(set, start+i*stride, size)
	}
}
