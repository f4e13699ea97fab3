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

func TestNestedSuspendResume(t *testing.T) {
	f := newFixture(t)
	th := f.thread(t, f.proc)

	for i := 0; i < 3; i++ {
		prev, err := f.k.SuspendThread(th)
		require.NoError(t, err)
		assert.Equal(t, i, prev)
	}
	assert.Equal(t, 1, f.host.count("stop"), "host stop only on the first suspension")

	assert.Equal(t, 3, f.k.ResumeThread(th))
	assert.Equal(t, 2, f.k.ResumeThread(th))
	assert.Equal(t, 0, f.host.count("continue"))
	assert.Equal(t, 1, f.k.ResumeThread(th))
	assert.Equal(t, 1, f.host.count("continue"))

	assert.Equal(t, 0, f.k.ResumeThread(th), "resuming a running thread changes nothing")
	assert.Equal(t, 1, f.host.count("continue"))
}

func TestSuspendCountLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < kernel.MaximumSuspendCount; i++ {
		_, err := f.k.SuspendThread(f.main)
		require.NoError(t, err)
	}
	prev, err := f.k.SuspendThread(f.main)
	assert.Equal(t, kernel.MaximumSuspendCount, prev)
	assert.Equal(t, errors.StatusSuspendCountExceeded, errors.StatusOf(err))
	assert.Equal(t, kernel.MaximumSuspendCount, f.main.SuspendCount())
}

func TestProcessSuspendAddsToThreads(t *testing.T) {
	f := newFixture(t)
	other := f.thread(t, f.proc)

	_, err := f.k.SuspendThread(other)
	require.NoError(t, err)
	f.host.calls = nil

	assert.Equal(t, 0, f.k.SuspendProcess(f.proc))
	assert.Equal(t, 1, f.host.count("stop"), "the already suspended thread is not stopped twice")

	f.k.ResumeThread(other)
	assert.Equal(t, 0, f.host.count("continue"), "process suspension still holds it")
	assert.True(t, other.Suspended())

	assert.Equal(t, 1, f.k.ResumeProcess(f.proc))
	assert.Equal(t, 2, f.host.count("continue"))
	assert.False(t, other.Suspended())
}

func TestHostGoneIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.host.err = errors.ThreadGone(101, nil)

	_, err := f.k.SuspendThread(f.main)
	require.NoError(t, err)
	assert.ErrorIs(t, f.main.HostError, errors.ErrThreadGone)
}

func TestKillThreadIdempotent(t *testing.T) {
	f := newFixture(t)
	th := f.thread(t, f.proc)

	f.k.KillThread(th, 7, true)
	f.k.KillThread(th, 9, true)

	assert.Equal(t, kernel.ThreadTerminated, th.State())
	assert.Equal(t, int32(7), th.ExitCode())
	assert.Equal(t, 1, f.host.count("kill"))
	assert.Len(t, f.proc.Threads(), 1)
	assert.False(t, f.proc.Terminated())
}

func TestKillEndsPendingWaits(t *testing.T) {
	f := newFixture(t)
	th := f.thread(t, f.proc)
	h, _, err := f.k.CreateEvent(f.proc, "", true, false, kernel.EventAllAccess, 0)
	require.NoError(t, err)

	status, err := f.k.SelectHandles(th, kernel.WaitRequest{Handles: []handle.Handle{h}, Timeout: kernel.Infinite, Cookie: 42})
	require.NoError(t, err)
	assert.Equal(t, errors.StatusPending, status)
	assert.Equal(t, kernel.ThreadSleeping, th.State())

	f.k.KillThread(th, 0, true)
	require.Len(t, f.waker.wakes, 1)
	assert.Equal(t, wake{th.ID(), 42, errors.StatusThreadIsTerminating}, f.waker.wakes[0])
	assert.Equal(t, 0, f.host.count("kill"), "a thread blocked in a wait is not signaled")
}

func TestLastThreadKillsProcess(t *testing.T) {
	f := newFixture(t)
	ph, err := f.k.AllocHandle(f.proc, f.proc, kernel.ProcessAllAccess, 0)
	require.NoError(t, err)
	_, _, err = f.k.CreateEvent(f.proc, "", true, false, kernel.EventAllAccess, 0)
	require.NoError(t, err)

	waiterProc, err := f.k.CreateProcess(nil, cpucontext.Target{PID: 11}, false)
	require.NoError(t, err)
	waiter := f.thread(t, waiterProc)
	wh, err := f.k.DuplicateHandle(f.main, f.proc, ph, waiterProc, 0, 0, 0, kernel.DuplicateSameAccess)
	require.NoError(t, err)
	status, err := f.k.SelectHandles(waiter, kernel.WaitRequest{Handles: []handle.Handle{wh}, Timeout: kernel.Infinite, Cookie: 1})
	require.NoError(t, err)
	require.Equal(t, errors.StatusPending, status)

	f.k.TerminateProcess(f.proc, nil, 3)

	assert.True(t, f.proc.Terminated())
	assert.Equal(t, int32(3), f.proc.ExitCode())
	assert.Equal(t, 0, f.proc.Handles())
	assert.Equal(t, 0, f.k.Live(kernel.KindEvent))
	assert.NotContains(t, f.k.Processes(), f.proc)
	require.Len(t, f.waker.wakes, 1)
	assert.Equal(t, errors.StatusWait0, f.waker.wakes[0].status)

	// the waiter's handle keeps the process object alive
	p, err := f.k.LookupProcess(waiter, wh, 0)
	require.NoError(t, err)
	assert.Same(t, f.proc, p)
	_, err = f.k.CreateThread(p, cpucontext.Target{PID: 10, TID: 999})
	assert.ErrorIs(t, err, errors.ErrProcessGone)
}

func TestTerminateProcessSkipsCaller(t *testing.T) {
	f := newFixture(t)
	other := f.thread(t, f.proc)

	f.k.TerminateProcess(f.proc, f.main, 5)
	assert.True(t, other.Terminated())
	assert.False(t, f.main.Terminated())
	assert.Equal(t, int32(5), other.ExitCode())
	assert.False(t, f.proc.Terminated())
}

func TestThreadIDs(t *testing.T) {
	f := newFixture(t)
	got, err := f.k.ThreadByID(f.main.ID())
	require.NoError(t, err)
	assert.Same(t, f.main, got)

	_, err = f.k.ThreadByID(f.proc.ID())
	assert.Equal(t, errors.StatusInvalidCID, errors.StatusOf(err))

	assert.Same(t, f.main, f.k.ThreadByHostTID(f.main.Target().TID))
	assert.Same(t, f.proc, f.k.ProcessByHostPID(10))
}

func TestProcessExited(t *testing.T) {
	f := newFixture(t)
	f.thread(t, f.proc)

	f.k.ProcessExited(10, 2)
	assert.True(t, f.proc.Terminated())
	assert.Equal(t, int32(2), f.proc.ExitCode())
	assert.Equal(t, 0, f.host.count("kill"))
	assert.Nil(t, f.k.ProcessByHostPID(10))
}

type countingTrace struct{ closes int }

func (c *countingTrace) Resolve(t cpucontext.Target) (cpucontext.Target, error) { return t, nil }
func (c *countingTrace) Close() error { c.closes++; return nil }

func TestTraceAttachOnce(t *testing.T) {
	f := newFixture(t)
	tr := &countingTrace{}
	opens := 0
	open := func() (cpucontext.Trace, error) {
		opens++
		return tr, nil
	}
	require.NoError(t, f.proc.AttachTrace(open))
	require.NoError(t, f.proc.AttachTrace(open))
	assert.Equal(t, 1, opens)
	assert.True(t, f.proc.Traced())

	f.k.TerminateProcess(f.proc, nil, 0)
	assert.Equal(t, 1, tr.closes)
	assert.False(t, f.proc.Traced())
}

func TestKernelClose(t *testing.T) {
	f := newFixture(t)
	_, err := f.k.CreateProcess(f.proc, cpucontext.Target{PID: 12}, false)
	require.NoError(t, err)

	require.NoError(t, f.k.Close())
	assert.Empty(t, f.k.Processes())
	assert.Equal(t, 0, f.k.Live(kernel.KindThread))
}
