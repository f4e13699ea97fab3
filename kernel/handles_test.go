package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
	"github.com/wippyai/ntserver/kernel"
)

func TestStaleHandleAfterReuse(t *testing.T) {
	f := newFixture(t)

	h1, _, err := f.k.CreateEvent(f.proc, "", true, false, kernel.EventAllAccess, 0)
	require.NoError(t, err)
	require.NoError(t, f.k.CloseHandle(f.proc, h1))
	assert.Equal(t, 0, f.k.Live(kernel.KindEvent))

	h2, ev2, err := f.k.CreateEvent(f.proc, "", true, false, kernel.EventAllAccess, 0)
	require.NoError(t, err)
	assert.Equal(t, h1.Index(), h2.Index(), "slot is reused")
	assert.NotEqual(t, h1, h2)

	_, err = f.k.LookupEvent(f.main, h1, 0)
	assert.ErrorIs(t, err, errors.ErrInvalidHandle)
	assert.Equal(t, errors.StatusInvalidHandle, errors.StatusOf(err))

	got, err := f.k.LookupEvent(f.main, h2, kernel.EventModifyState)
	require.NoError(t, err)
	assert.Same(t, ev2, got)

	assert.ErrorIs(t, f.k.CloseHandle(f.proc, h1), errors.ErrInvalidHandle)
}

func TestLookupTypeAndAccess(t *testing.T) {
	f := newFixture(t)

	h, _, err := f.k.CreateEvent(f.proc, "", false, false, kernel.EventQueryState, 0)
	require.NoError(t, err)

	_, err = f.k.LookupMutex(f.main, h, 0)
	assert.Equal(t, errors.StatusObjectTypeMismatch, errors.StatusOf(err))

	_, err = f.k.LookupEvent(f.main, h, kernel.EventModifyState)
	assert.ErrorIs(t, err, errors.ErrAccessDenied)

	_, err = f.k.LookupEvent(f.main, h, kernel.EventQueryState)
	assert.NoError(t, err)
}

func TestPseudoHandles(t *testing.T) {
	f := newFixture(t)

	p, err := f.k.LookupProcess(f.main, kernel.CurrentProcess, kernel.ProcessTerminate)
	require.NoError(t, err)
	assert.Same(t, f.proc, p)

	th, err := f.k.LookupThread(f.main, kernel.CurrentThread, kernel.ThreadGetContext)
	require.NoError(t, err)
	assert.Same(t, f.main, th)

	assert.NoError(t, f.k.CloseHandle(f.proc, kernel.CurrentThread))
	assert.Equal(t, 0, f.proc.Handles())
}

func TestDuplicateNeverWidens(t *testing.T) {
	f := newFixture(t)
	other, err := f.k.CreateProcess(nil, cpucontext.Target{PID: 20}, false)
	require.NoError(t, err)

	src, _, err := f.k.CreateEvent(f.proc, "", true, false, kernel.EventQueryState|kernel.AccessSynchronize, 0)
	require.NoError(t, err)

	// the request is intersected with the source rights
	wide, err := f.k.DuplicateHandle(f.main, f.proc, src, f.proc, 0, kernel.EventAllAccess, 0, 0)
	require.NoError(t, err)
	_, err = f.k.Lookup(f.main, wide, kernel.KindEvent, kernel.EventQueryState|kernel.AccessSynchronize)
	assert.NoError(t, err)
	_, err = f.k.Lookup(f.main, wide, kernel.KindEvent, kernel.EventModifyState)
	assert.ErrorIs(t, err, errors.ErrAccessDenied)

	dup, err := f.k.DuplicateHandle(f.main, f.proc, src, other, 0, 0, 0, kernel.DuplicateSameAccess)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Handles())

	narrowed, err := f.k.DuplicateHandle(f.main, f.proc, src, f.proc, 0, kernel.AccessSynchronize, 0, 0)
	require.NoError(t, err)
	_, err = f.k.Lookup(f.main, narrowed, kernel.KindEvent, kernel.EventQueryState)
	assert.ErrorIs(t, err, errors.ErrAccessDenied)

	assert.NotEqual(t, handle.Handle(0), dup)
}

func TestDuplicateCloseSourceOnFailure(t *testing.T) {
	f := newFixture(t)

	dead, err := f.k.CreateProcess(nil, cpucontext.Target{PID: 20}, false)
	require.NoError(t, err)
	f.k.ProcessExited(20, 0)
	require.True(t, dead.Terminated())

	src, ev, err := f.k.CreateEvent(f.proc, "", true, false, kernel.EventQueryState, 0)
	require.NoError(t, err)

	_, err = f.k.DuplicateHandle(f.main, f.proc, src, dead, 0, 0, 0, kernel.DuplicateSameAccess|kernel.DuplicateCloseSource)
	assert.True(t, errors.IsGone(err), "%v", err)

	_, err = f.k.LookupEvent(f.main, src, 0)
	assert.ErrorIs(t, err, errors.ErrInvalidHandle, "source is closed even though the copy failed")
	assert.Equal(t, 0, ev.Refs())
	assert.Equal(t, 0, f.k.Live(kernel.KindEvent))
}

func TestDuplicateSameAttributes(t *testing.T) {
	f := newFixture(t)

	src, _, err := f.k.CreateEvent(f.proc, "", true, false, kernel.EventAllAccess, kernel.ObjInherit)
	require.NoError(t, err)
	dup, err := f.k.DuplicateHandle(f.main, f.proc, src, f.proc, 0, 0, 0,
		kernel.DuplicateSameAccess|kernel.DuplicateSameAttributes)
	require.NoError(t, err)
	plain, err := f.k.DuplicateHandle(f.main, f.proc, src, f.proc, 0, 0, 0, kernel.DuplicateSameAccess)
	require.NoError(t, err)

	child, err := f.k.CreateProcess(f.proc, cpucontext.Target{PID: 30}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, child.Handles())

	childMain := f.thread(t, child)
	_, err = f.k.LookupEvent(childMain, dup, 0)
	assert.NoError(t, err)
	_, err = f.k.LookupEvent(childMain, src, 0)
	assert.NoError(t, err)
	_, err = f.k.LookupEvent(childMain, plain, 0)
	assert.ErrorIs(t, err, errors.ErrInvalidHandle)
}

func TestHandleLimit(t *testing.T) {
	f := newFixture(t, func(o *kernel.Options) { o.HandleLimit = 2 })

	for i := 0; i < 2; i++ {
		_, _, err := f.k.CreateSemaphore(f.proc, "", 0, 1, kernel.SemaphoreAllAccess, 0)
		require.NoError(t, err)
	}
	_, _, err := f.k.CreateSemaphore(f.proc, "", 0, 1, kernel.SemaphoreAllAccess, 0)
	assert.ErrorIs(t, err, errors.ErrResourceExhausted)
	assert.Equal(t, 2, f.k.Live(kernel.KindSemaphore))
}

func TestMapAccess(t *testing.T) {
	assert.Equal(t, kernel.EventAllAccess, kernel.MapAccess(kernel.KindEvent, kernel.GenericAll))
	assert.Equal(t, kernel.EventAllAccess, kernel.MapAccess(kernel.KindEvent, kernel.MaximumAllowed))

	got := kernel.MapAccess(kernel.KindThread, kernel.ThreadQueryInformation)
	assert.NotZero(t, got&kernel.ThreadQueryLimitedInformation)

	got = kernel.MapAccess(kernel.KindProcess, kernel.GenericRead)
	assert.NotZero(t, got&kernel.ProcessQueryLimitedInformation)
	assert.Zero(t, got&kernel.GenericRead)
}

func TestDuplicateIntoHint(t *testing.T) {
	f := newFixture(t)
	other, err := f.k.CreateProcess(nil, cpucontext.Target{PID: 20}, false)
	require.NoError(t, err)
	src, _, err := f.k.CreateEvent(f.proc, "", true, false, kernel.EventAllAccess, 0)
	require.NoError(t, err)

	hint := handle.Encode(5, 1, 0)
	dup, err := f.k.DuplicateHandle(f.main, f.proc, src, other, hint, 0, 0, kernel.DuplicateSameAccess)
	require.NoError(t, err)
	assert.Equal(t, 5, dup.Index())

	// a taken slot falls back to any free one
	again, err := f.k.DuplicateHandle(f.main, f.proc, src, other, hint, 0, 0, kernel.DuplicateSameAccess)
	require.NoError(t, err)
	assert.NotEqual(t, 5, again.Index())
	assert.Equal(t, 2, other.Handles())
}
