package cpucontext

import (
	"fmt"

	"github.com/wippyai/ntserver/errors"
)

// Context is a register bundle for one machine. Flags records which groups
// hold meaningful values; the contents of other groups are unspecified.
type Context struct {
	file    *RegisterFile
	regs    [numGroups][]uint64
	Machine Machine
	Flags   Group
}

// New allocates an empty context for m.
func New(m Machine) (*Context, error) {
	f, ok := RegisterFileFor(m)
	if !ok {
		return nil, errors.Unsupported(errors.PhaseContext, fmt.Sprintf("no register file for %s", m))
	}
	c := &Context{file: f, Machine: m}
	for i, names := range f.Groups {
		c.regs[i] = make([]uint64, len(names))
	}
	return c, nil
}

// MustNew is New for machines known to be registered.
func MustNew(m Machine) *Context {
	c, err := New(m)
	if err != nil {
		panic(err)
	}
	return c
}

// File returns the register file describing c.
func (c *Context) File() *RegisterFile {
	return c.file
}

// Values returns the registers of a single group, in register file order.
// The slice aliases c.
func (c *Context) Values(g Group) []uint64 {
	for i := 0; i < numGroups; i++ {
		if g == 1<<i {
			return c.regs[i]
		}
	}
	return nil
}

// Reg returns a register by name.
func (c *Context) Reg(name string) (uint64, bool) {
	gi, ri, ok := c.file.Find(name)
	if !ok {
		return 0, false
	}
	return c.regs[gi][ri], true
}

// SetReg stores a register by name and marks its group valid.
func (c *Context) SetReg(name string, v uint64) error {
	gi, ri, ok := c.file.Find(name)
	if !ok {
		return errors.InvalidParameter(errors.PhaseContext, fmt.Sprintf("%s has no register %q", c.Machine, name))
	}
	c.regs[gi][ri] = v
	c.Flags |= 1 << gi
	return nil
}

// CopyFrom copies the groups in mask that src holds. Groups outside mask are
// left exactly as they were.
func (c *Context) CopyFrom(src *Context, mask Group) error {
	if src.Machine != c.Machine {
		return errors.InvalidParameter(errors.PhaseContext,
			fmt.Sprintf("machine mismatch: %s into %s", src.Machine, c.Machine))
	}
	(mask & src.Flags).each(func(i int, bit Group) {
		copy(c.regs[i], src.regs[i])
		c.Flags |= bit
	})
	return nil
}

// Fill sets every register of every group to v without touching Flags.
func (c *Context) Fill(v uint64) {
	for i := range c.regs {
		for j := range c.regs[i] {
			c.regs[i][j] = v
		}
	}
}

// Zero clears the registers of groups and marks them valid.
func (c *Context) Zero(groups Group) {
	groups.each(func(i int, bit Group) {
		clear(c.regs[i])
		c.Flags |= bit
	})
}

// Clone returns a deep copy.
func (c *Context) Clone() *Context {
	out := &Context{file: c.file, Machine: c.Machine, Flags: c.Flags}
	for i := range c.regs {
		out.regs[i] = append([]uint64(nil), c.regs[i]...)
	}
	return out
}

// Equal compares the registers of groups, ignoring Flags.
func (c *Context) Equal(o *Context, groups Group) bool {
	if c.Machine != o.Machine {
		return false
	}
	eq := true
	groups.each(func(i int, _ Group) {
		for j := range c.regs[i] {
			if c.regs[i][j] != o.regs[i][j] {
				eq = false
			}
		}
	})
	return eq
}

// String renders a short summary for traces.
func (c *Context) String() string {
	return fmt.Sprintf("%s context [%s]", c.Machine, c.Flags)
}
