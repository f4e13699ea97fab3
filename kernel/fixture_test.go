package kernel_test

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/cpucontext/contexttest"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/syncprim"
)

type hostCall struct {
	op  string
	tid int
}

type fakeHost struct {
	calls []hostCall
	err   error
}

func (h *fakeHost) record(op string, t cpucontext.Target) error {
	h.calls = append(h.calls, hostCall{op, t.TID})
	return h.err
}

func (h *fakeHost) Stop(t cpucontext.Target) error     { return h.record("stop", t) }
func (h *fakeHost) Continue(t cpucontext.Target) error { return h.record("continue", t) }
func (h *fakeHost) Kill(t cpucontext.Target) error     { return h.record("kill", t) }

func (h *fakeHost) count(op string) int {
	n := 0
	for _, c := range h.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type wake struct {
	tid    uint32
	cookie uint64
	status errors.Status
}

type recordingWaker struct {
	wakes []wake
}

func (w *recordingWaker) Wake(t *kernel.Thread, cookie uint64, status errors.Status) {
	w.wakes = append(w.wakes, wake{t.ID(), cookie, status})
}

// manualClock fires timers only when advanced.
type manualClock struct {
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) func() bool {
	tm := &manualTimer{at: c.now + d, fn: fn}
	c.timers = append(c.timers, tm)
	return func() bool {
		pending := !tm.stopped
		tm.stopped = true
		return pending
	}
}

func (c *manualClock) Advance(d time.Duration) {
	c.now += d
	sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at < c.timers[j].at })
	var keep []*manualTimer
	var due []*manualTimer
	for _, tm := range c.timers {
		switch {
		case tm.stopped:
		case tm.at <= c.now:
			due = append(due, tm)
		default:
			keep = append(keep, tm)
		}
	}
	c.timers = keep
	for _, tm := range due {
		tm.stopped = true
		tm.fn()
	}
}

type fixture struct {
	k       *kernel.Kernel
	host    *fakeHost
	waker   *recordingWaker
	clock   *manualClock
	backend *contexttest.Backend
	proc    *kernel.Process
	main    *kernel.Thread
	nextTID int
}

func newFixture(t *testing.T, opts ...func(*kernel.Options)) *fixture {
	t.Helper()
	f := &fixture{
		host:    &fakeHost{},
		waker:   &recordingWaker{},
		clock:   &manualClock{},
		backend: contexttest.NewBackend(cpucontext.MachineAMD64),
		nextTID: 100,
	}
	o := kernel.Options{
		Sync:      syncprim.NewProvider("", syncprim.Disabled()),
		Accessor:  cpucontext.NewAccessor(f.backend, cpucontext.MachineAMD64),
		Host:      f.host,
		Waker:     f.waker,
		Scheduler: f.clock,
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.k = kernel.New(o)
	var err error
	f.proc, err = f.k.CreateProcess(nil, cpucontext.Target{PID: 10}, false)
	require.NoError(t, err)
	f.main = f.thread(t, f.proc)
	return f
}

func (f *fixture) thread(t *testing.T, p *kernel.Process) *kernel.Thread {
	t.Helper()
	f.nextTID++
	th, err := f.k.CreateThread(p, cpucontext.Target{PID: p.Target().PID, TID: f.nextTID})
	require.NoError(t, err)
	return th
}
