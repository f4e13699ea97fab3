package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
)

// MaximumSuspendCount is the deepest a thread's suspensions may nest.
const MaximumSuspendCount = 127

// ThreadState is the scheduling state visible to clients.
type ThreadState uint8

const (
	ThreadRunning ThreadState = iota
	ThreadSleeping
	ThreadTerminated
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "running"
	case ThreadSleeping:
		return "sleeping"
	case ThreadTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Thread is a client thread.
type Thread struct {
	Header
	id      uint32
	process *Process
	target  cpucontext.Target

	terminated bool
	suspend    int
	wait       *wait

	snapshot      *cpucontext.Context
	snapshotDirty cpucontext.Group

	userAPC   []*APC
	systemAPC []*APC
	mutexes   []*Mutex

	lastError uint32
	exitCode  int32
	priority  int32
	affinity  uint64

	// HostError records the last failed host stop, continue or kill.
	HostError error
	// Description is the client-supplied thread name.
	Description string
}

// ID returns the thread id.
func (t *Thread) ID() uint32 { return t.id }

// Process returns the owning process.
func (t *Thread) Process() *Process { return t.process }

// Target returns the host identifiers of the thread.
func (t *Thread) Target() cpucontext.Target { return t.target }

// Snapshot returns the context captured by the pending debug event, if any.
func (t *Thread) Snapshot() *cpucontext.Context { return t.snapshot }

// State returns the scheduling state.
func (t *Thread) State() ThreadState {
	switch {
	case t.terminated:
		return ThreadTerminated
	case t.wait != nil:
		return ThreadSleeping
	}
	return ThreadRunning
}

// Terminated reports whether the thread has been killed.
func (t *Thread) Terminated() bool { return t.terminated }

// SuspendCount returns the thread's own suspend count.
func (t *Thread) SuspendCount() int { return t.suspend }

// Suspended reports whether the thread or its process is suspended.
func (t *Thread) Suspended() bool { return t.suspend+t.process.suspend > 0 }

// ExitCode returns the exit code, meaningful once terminated.
func (t *Thread) ExitCode() int32 { return t.exitCode }

// LastError returns the last error code stored by the client.
func (t *Thread) LastError() uint32 { return t.lastError }

// SetLastError stores the client's last error code.
func (t *Thread) SetLastError(code uint32) { t.lastError = code }

// Priority returns the thread priority.
func (t *Thread) Priority() int32 { return t.priority }

// SetPriority changes the thread priority.
func (t *Thread) SetPriority(p int32) { t.priority = p }

// Affinity returns the affinity mask.
func (t *Thread) Affinity() uint64 { return t.affinity }

// SetAffinity changes the affinity mask. A mask outside the process mask is
// rejected.
func (t *Thread) SetAffinity(mask uint64) error {
	if mask == 0 || (t.process.affinity != 0 && mask&^t.process.affinity != 0) {
		return errors.InvalidParameter(errors.PhaseObject, fmt.Sprintf("affinity %#x", mask))
	}
	t.affinity = mask
	return nil
}

func (t *Thread) signaled(*Thread) bool  { return t.terminated }
func (t *Thread) satisfied(*Thread) bool { return false }

func (t *Thread) String() string {
	return fmt.Sprintf("thread %04x (%s)", t.id, t.target)
}

// CreateThread adds a thread backed by target to p. The process keeps the
// thread alive until it is killed.
func (k *Kernel) CreateThread(p *Process, target cpucontext.Target) (*Thread, error) {
	if p.terminated || p.terminating {
		return nil, errors.ProcessGone(p.target.PID, nil)
	}
	t := &Thread{
		process:  p,
		target:   target,
		priority: p.basePriority,
		affinity: p.affinity,
	}
	k.initHeader(&t.Header, KindThread, "", func() error { return k.destroyThread(t) })
	id, err := k.allocID(t)
	if err != nil {
		k.live[KindThread]--
		return nil, err
	}
	t.id = id
	grab(p)
	p.threads = append(p.threads, t)
	k.log().Debug("thread created", zap.Uint32("tid", id), zap.Uint32("pid", p.id), zap.Stringer("target", target))
	return t, nil
}

// AttachHost binds a thread created ahead of its host thread to the host
// thread that has now started. A thread can be attached once.
func (k *Kernel) AttachHost(t *Thread, target cpucontext.Target) error {
	if t.terminated {
		return errors.New(errors.PhaseObject, errors.KindThreadGone).Detail("%s", t).Build()
	}
	if t.target.TID != 0 {
		return errors.InvalidParameter(errors.PhaseObject, fmt.Sprintf("%s already attached", t))
	}
	t.target = target
	return nil
}

func (k *Kernel) destroyThread(t *Thread) error {
	k.freeID(t.id)
	return release(t.process)
}

// SuspendThread increments the suspend count and stops the host thread when
// it becomes suspended. It returns the previous count.
func (k *Kernel) SuspendThread(t *Thread) (int, error) {
	old := t.suspend
	if t.terminated {
		return old, errors.New(errors.PhaseObject, errors.KindThreadGone).Detail("%s", t).Build()
	}
	if t.suspend >= MaximumSuspendCount {
		return old, errors.SuspendCountExceeded(old)
	}
	if t.process.suspend+t.suspend == 0 {
		k.stopThread(t)
	}
	t.suspend++
	return old, nil
}

// ResumeThread decrements the suspend count and lets the thread run again
// when nothing keeps it suspended. It returns the previous count.
func (k *Kernel) ResumeThread(t *Thread) int {
	old := t.suspend
	if t.suspend > 0 {
		t.suspend--
		if t.suspend+t.process.suspend == 0 {
			k.continueThread(t)
		}
	}
	return old
}

func (k *Kernel) stopThread(t *Thread) {
	if t.terminated {
		return
	}
	k.hostCall(t, "stop", k.opts.Host.Stop)
}

func (k *Kernel) continueThread(t *Thread) {
	if t.terminated {
		return
	}
	k.hostCall(t, "continue", k.opts.Host.Continue)
	k.wakeThread(t)
}

// hostCall runs a host operation. Failures are recorded on the thread and
// logged; a vanished target is routine.
func (k *Kernel) hostCall(t *Thread, op string, fn func(cpucontext.Target) error) {
	err := fn(t.target)
	if err == nil {
		return
	}
	t.HostError = err
	if errors.IsGone(err) {
		k.log().Debug("host thread gone", zap.String("op", op), zap.Stringer("thread", t), zap.Error(err))
		return
	}
	k.log().Warn("host thread control failed", zap.String("op", op), zap.Stringer("thread", t), zap.Error(err))
}

// KillThread terminates t. Waits end with STATUS_THREAD_IS_TERMINATING,
// owned mutexes are abandoned and waiters on the thread are released. A
// violent death also kills the host thread unless it was blocked in a wait.
// Killing a terminated thread does nothing.
func (k *Kernel) KillThread(t *Thread, exitCode int32, violent bool) {
	if t.terminated {
		return
	}
	t.terminated = true
	t.exitCode = exitCode
	k.log().Debug("thread killed", zap.Uint32("tid", t.id), zap.Int32("exit_code", exitCode))

	if t.wait != nil {
		for t.wait != nil {
			w := t.wait
			status := k.endWait(t, errors.StatusThreadIsTerminating)
			if w.pending {
				k.opts.Waker.Wake(t, w.cookie, status)
			}
		}
		// a thread blocked in the server needs no signal to die
		violent = false
	}
	k.abandonMutexes(t)
	k.WakeUp(t, 0)
	if violent {
		k.hostCall(t, "kill", k.opts.Host.Kill)
	}
	t.snapshot = nil
	t.snapshotDirty = 0
	k.clearAPCs(t)
	k.removeProcessThread(t.process, t)
}

func (k *Kernel) removeProcessThread(p *Process, t *Thread) {
	for i, pt := range p.threads {
		if pt == t {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			break
		}
	}
	if len(p.threads) == 0 {
		p.exitCode = t.exitCode
		if err := k.processKilled(p); err != nil {
			k.log().Warn("process teardown", zap.Uint32("pid", p.id), zap.Error(err))
		}
	}
	if err := release(t); err != nil {
		k.log().Warn("thread teardown", zap.Uint32("tid", t.id), zap.Error(err))
	}
}
