package cpucontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ntserver/errors"
)

// fakeBackend keeps one register file per thread and counts calls.
type fakeBackend struct {
	caps    Capabilities
	threads map[int]*Context
	gets    int
	sets    int
	machine Machine
}

func newFakeBackend(m Machine, caps Capabilities) *fakeBackend {
	return &fakeBackend{machine: m, caps: caps, threads: map[int]*Context{}}
}

func (f *fakeBackend) thread(tid int) *Context {
	c, ok := f.threads[tid]
	if !ok {
		c = MustNew(f.machine)
		c.Flags = GroupAll
		f.threads[tid] = c
	}
	return c
}

func (f *fakeBackend) Name() string               { return "fake" }
func (f *fakeBackend) Capabilities() Capabilities { return f.caps }
func (f *fakeBackend) Close() error               { return nil }

func (f *fakeBackend) Get(_ context.Context, t Target, regs *Context, groups Group) error {
	f.gets++
	if t.TID < 0 {
		return errors.ThreadGone(t.TID, nil)
	}
	return regs.CopyFrom(f.thread(t.TID), groups)
}

func (f *fakeBackend) Set(_ context.Context, t Target, regs *Context, groups Group) error {
	f.sets++
	if t.TID < 0 {
		return errors.ThreadGone(t.TID, nil)
	}
	return f.thread(t.TID).CopyFrom(regs, groups)
}

type subject struct {
	target Target
	snap   *Context
}

func (s *subject) Target() Target     { return s.target }
func (s *subject) Snapshot() *Context { return s.snap }

func fullCaps() Capabilities {
	return Capabilities{Groups: GroupAll, DebugRead: true, DebugWrite: true}
}

func TestAccessorSentinelRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, m := range []Machine{MachineI386, MachineAMD64, MachineARM64, MachinePowerPC} {
		fake := newFakeBackend(m, fullCaps())
		acc := NewAccessor(WithCapabilities(fake), m)
		th := &subject{target: Target{PID: 10, TID: 11}}

		for _, g := range []Group{GroupControl, GroupInteger, GroupFloatingPoint, GroupDebugRegisters, GroupControl | GroupExtended} {
			before := fake.thread(11).Clone()

			src := MustNew(m)
			src.Fill(0x5a5a5a5a)
			src.Flags = GroupAll
			require.NoError(t, acc.Write(ctx, th, src, g), "%s %s", m, g)

			got, err := acc.Read(ctx, th, g)
			require.NoError(t, err)
			assert.True(t, got.Equal(src, g), "%s %s: read back differs", m, g)
			assert.True(t, fake.thread(11).Equal(before, GroupAll&^g), "%s %s: other groups changed", m, g)

			// reset to zero for the next group
			fake.thread(11).Zero(GroupAll)
		}
	}
}

func TestAccessorWriteOnlyHeldGroups(t *testing.T) {
	fake := newFakeBackend(MachineAMD64, fullCaps())
	acc := NewAccessor(fake, MachineAMD64)
	th := &subject{target: Target{TID: 1}}

	src := MustNew(MachineAMD64)
	src.Fill(7)
	src.Flags = GroupControl
	require.NoError(t, acc.Write(context.Background(), th, src, GroupControl|GroupInteger))

	for _, v := range fake.thread(1).Values(GroupInteger) {
		assert.Zero(t, v)
	}
	for _, v := range fake.thread(1).Values(GroupControl) {
		assert.Equal(t, uint64(7), v)
	}

	src.Flags = 0
	require.NoError(t, acc.Write(context.Background(), th, src, GroupAll))
	assert.Equal(t, 1, fake.sets)
}

func TestAccessorSnapshotReadSkipsBackend(t *testing.T) {
	fake := newFakeBackend(MachineAMD64, fullCaps())
	var calls int
	acc := NewAccessor(fake, MachineAMD64, WithCallObserver(func(string, string, error) { calls++ }))

	snap := MustNew(MachineAMD64)
	require.NoError(t, snap.SetReg("rip", 0xdead))
	require.NoError(t, snap.SetReg("rax", 0xbeef))
	th := &subject{target: Target{TID: 3}, snap: snap}

	got, err := acc.Read(context.Background(), th, GroupControl|GroupInteger)
	require.NoError(t, err)
	rip, _ := got.Reg("rip")
	rax, _ := got.Reg("rax")
	assert.Equal(t, uint64(0xdead), rip)
	assert.Equal(t, uint64(0xbeef), rax)
	assert.Equal(t, 0, fake.gets)
	assert.Equal(t, 0, calls)
}

func TestAccessorSnapshotWriteSkipsBackend(t *testing.T) {
	fake := newFakeBackend(MachineAMD64, fullCaps())
	acc := NewAccessor(fake, MachineAMD64)

	snap := MustNew(MachineAMD64)
	snap.Flags = GroupControl
	th := &subject{target: Target{TID: 3}, snap: snap}

	src := MustNew(MachineAMD64)
	require.NoError(t, src.SetReg("rip", 0x1234))
	require.NoError(t, acc.Write(context.Background(), th, src, GroupControl))
	assert.Equal(t, 0, fake.sets)
	rip, _ := snap.Reg("rip")
	assert.Equal(t, uint64(0x1234), rip)

	require.NoError(t, acc.Commit(context.Background(), th.target, snap, GroupAll))
	assert.Equal(t, 1, fake.sets)
	rip, _ = fake.thread(3).Reg("rip")
	assert.Equal(t, uint64(0x1234), rip)
}

func TestAccessorSnapshotFetchesMissingGroups(t *testing.T) {
	fake := newFakeBackend(MachineAMD64, fullCaps())
	require.NoError(t, fake.thread(3).SetReg("dr7", 0x401))
	acc := NewAccessor(fake, MachineAMD64)

	snap := MustNew(MachineAMD64)
	snap.Flags = GroupControl
	th := &subject{target: Target{TID: 3}, snap: snap}

	got, err := acc.Read(context.Background(), th, GroupControl|GroupDebugRegisters)
	require.NoError(t, err)
	dr7, _ := got.Reg("dr7")
	assert.Equal(t, uint64(0x401), dr7)
	assert.Equal(t, 1, fake.gets)
	assert.Equal(t, GroupControl|GroupDebugRegisters, snap.Flags)

	_, err = acc.Read(context.Background(), th, GroupDebugRegisters)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.gets)
}

func TestAccessorMachineMismatch(t *testing.T) {
	acc := NewAccessor(newFakeBackend(MachineAMD64, fullCaps()), MachineAMD64)
	err := acc.ReadInto(context.Background(), &subject{}, MustNew(MachineI386), GroupControl)
	assert.ErrorIs(t, err, errors.ErrInvalidParameter)
}

func TestAccessorObserverSeesErrors(t *testing.T) {
	var seen []error
	acc := NewAccessor(newFakeBackend(MachineAMD64, fullCaps()), MachineAMD64,
		WithCallObserver(func(_ string, _ string, err error) { seen = append(seen, err) }))

	_, err := acc.Read(context.Background(), &subject{target: Target{TID: -1}}, GroupControl)
	require.Error(t, err)
	assert.True(t, errors.IsGone(err))
	require.Len(t, seen, 1)
	assert.True(t, errors.IsGone(seen[0]))
}
