package cpucontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ntserver/errors"
)

func TestNewUnknownMachine(t *testing.T) {
	_, err := New(Machine(0x1234))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestContextRegisters(t *testing.T) {
	c := MustNew(MachineAMD64)
	assert.Equal(t, Group(0), c.Flags)

	require.NoError(t, c.SetReg("rip", 0x401000))
	v, ok := c.Reg("rip")
	require.True(t, ok)
	assert.Equal(t, uint64(0x401000), v)
	assert.Equal(t, GroupControl, c.Flags)

	_, ok = c.Reg("eip")
	assert.False(t, ok)
	assert.ErrorIs(t, c.SetReg("eip", 1), errors.ErrInvalidParameter)

	assert.Len(t, c.Values(GroupInteger), 15)
	assert.Nil(t, c.Values(GroupControl|GroupInteger))
}

func TestCopyFromMask(t *testing.T) {
	src := MustNew(MachineI386)
	src.Fill(0xaaaa)
	src.Flags = GroupAll

	dst := MustNew(MachineI386)
	dst.Fill(0x5555)
	dst.Flags = GroupSegments

	require.NoError(t, dst.CopyFrom(src, GroupControl|GroupFloatingPoint))

	assert.Equal(t, GroupControl|GroupFloatingPoint|GroupSegments, dst.Flags)
	for _, v := range dst.Values(GroupControl) {
		assert.Equal(t, uint64(0xaaaa), v)
	}
	for _, v := range dst.Values(GroupInteger) {
		assert.Equal(t, uint64(0x5555), v)
	}
	for _, v := range dst.Values(GroupDebugRegisters) {
		assert.Equal(t, uint64(0x5555), v)
	}
}

func TestCopyFromSkipsGroupsSourceLacks(t *testing.T) {
	src := MustNew(MachineARM64)
	src.Fill(1)
	src.Flags = GroupControl

	dst := MustNew(MachineARM64)
	require.NoError(t, dst.CopyFrom(src, GroupAll))
	assert.Equal(t, GroupControl, dst.Flags)
	for _, v := range dst.Values(GroupInteger) {
		assert.Zero(t, v)
	}
}

func TestCopyFromMachineMismatch(t *testing.T) {
	err := MustNew(MachineAMD64).CopyFrom(MustNew(MachineI386), GroupAll)
	assert.ErrorIs(t, err, errors.ErrInvalidParameter)
}

func TestCloneIsDeep(t *testing.T) {
	c := MustNew(MachineSPARC)
	require.NoError(t, c.SetReg("pc", 0x1000))
	d := c.Clone()
	require.NoError(t, d.SetReg("pc", 0x2000))

	v, _ := c.Reg("pc")
	assert.Equal(t, uint64(0x1000), v)
	assert.False(t, c.Equal(d, GroupControl))
	assert.True(t, c.Equal(d, GroupInteger))
}

func TestGroupString(t *testing.T) {
	assert.Equal(t, "none", Group(0).String())
	assert.Equal(t, "control|integer|fpu", GroupFull.String())
	assert.Equal(t, "debug|0x80", (GroupDebugRegisters | 0x80).String())
}

func TestParseMachine(t *testing.T) {
	tests := []struct {
		in   string
		want Machine
	}{
		{"x86_64", MachineAMD64},
		{"amd64", MachineAMD64},
		{"i386", MachineI386},
		{"aarch64", MachineARM64},
		{"ppc", MachinePowerPC},
		{"sparc", MachineSPARC},
		{"alpha", MachineAlpha},
	}
	for _, tt := range tests {
		got, err := ParseMachine(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseMachine("vax")
	assert.ErrorIs(t, err, errors.ErrInvalidParameter)
}
