package kernel

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
)

// Process is a client process: a handle table and a set of threads.
type Process struct {
	Header
	id     uint32
	parent uint32
	target cpucontext.Target

	handles *handle.Table[handleEntry]
	threads []*Thread

	suspend     int
	exitCode    int32
	terminating bool
	terminated  bool

	basePriority int32
	affinity     uint64

	trace     cpucontext.Trace
	traceOpen bool
}

// ID returns the process id.
func (p *Process) ID() uint32 { return p.id }

// ParentID returns the id of the creating process, zero for the first one.
func (p *Process) ParentID() uint32 { return p.parent }

// Target returns the host identifiers of the process.
func (p *Process) Target() cpucontext.Target { return p.target }

// Threads returns the live threads.
func (p *Process) Threads() []*Thread { return append([]*Thread(nil), p.threads...) }

// Handles returns the number of open handles.
func (p *Process) Handles() int { return p.handles.Len() }

// SuspendCount returns the process suspend count.
func (p *Process) SuspendCount() int { return p.suspend }

// ExitCode returns the exit code, meaningful once terminated.
func (p *Process) ExitCode() int32 { return p.exitCode }

// Terminated reports whether every thread has exited.
func (p *Process) Terminated() bool { return p.terminated }

// Priority returns the base priority.
func (p *Process) Priority() int32 { return p.basePriority }

// SetPriority changes the base priority.
func (p *Process) SetPriority(prio int32) { p.basePriority = prio }

// Affinity returns the affinity mask, zero meaning unrestricted.
func (p *Process) Affinity() uint64 { return p.affinity }

// SetAffinity changes the process mask and narrows the thread masks to it.
func (p *Process) SetAffinity(mask uint64) error {
	if mask == 0 {
		return errors.InvalidParameter(errors.PhaseObject, "empty affinity mask")
	}
	p.affinity = mask
	for _, t := range p.threads {
		if t.affinity&mask != 0 {
			t.affinity &= mask
		} else {
			t.affinity = mask
		}
	}
	return nil
}

func (p *Process) signaled(*Thread) bool  { return p.terminated }
func (p *Process) satisfied(*Thread) bool { return false }

func (p *Process) String() string {
	return fmt.Sprintf("process %04x (pid %d)", p.id, p.target.PID)
}

// CreateProcess registers a process backed by target. When inherit is set
// the inheritable handles of parent are copied at the same values.
func (k *Kernel) CreateProcess(parent *Process, target cpucontext.Target, inherit bool) (*Process, error) {
	p := &Process{
		target:  target,
		handles: handle.NewTable[handleEntry](handle.TagLocal),
	}
	if k.opts.HandleLimit > 0 {
		p.handles.SetLimit(k.opts.HandleLimit)
	}
	if k.opts.HandleObserver != nil {
		p.handles.Subscribe(k.opts.HandleObserver)
	}
	k.initHeader(&p.Header, KindProcess, "", func() error { return k.destroyProcess(p) })
	id, err := k.allocID(p)
	if err != nil {
		k.live[KindProcess]--
		return nil, err
	}
	p.id = id

	if parent != nil {
		p.parent = parent.id
		p.basePriority = parent.basePriority
		p.affinity = parent.affinity
		if inherit {
			if err := k.inheritHandles(parent, p); err != nil {
				k.closeHandles(p)
				k.freeID(id)
				k.live[KindProcess]--
				return nil, err
			}
		}
	}
	k.processes = append(k.processes, p)
	k.log().Debug("process created", zap.Uint32("pid", id), zap.Stringer("target", target),
		zap.Int("inherited", p.handles.Len()))
	return p, nil
}

func (k *Kernel) inheritHandles(parent, child *Process) error {
	var err error
	parent.handles.Each(func(h handle.Handle, e handleEntry) bool {
		if !e.inherit {
			return true
		}
		if rerr := child.handles.Restore(h, e); rerr != nil {
			err = rerr
			return false
		}
		grab(e.obj)
		return true
	})
	return err
}

func (k *Kernel) destroyProcess(p *Process) error {
	k.freeID(p.id)
	return nil
}

// SuspendProcess stops every thread that was not already suspended on its
// own and increments the process suspend count.
func (k *Kernel) SuspendProcess(p *Process) int {
	old := p.suspend
	if p.suspend == 0 {
		for _, t := range p.threads {
			if t.suspend == 0 {
				k.stopThread(t)
			}
		}
	}
	p.suspend++
	return old
}

// ResumeProcess undoes one SuspendProcess.
func (k *Kernel) ResumeProcess(p *Process) int {
	old := p.suspend
	if p.suspend == 0 {
		return old
	}
	p.suspend--
	if p.suspend == 0 {
		for _, t := range p.Threads() {
			if t.suspend == 0 {
				k.continueThread(t)
			}
		}
	}
	return old
}

// TerminateProcess kills every thread of p except skip. A nonzero exitCode
// replaces the exit code of each killed thread.
func (k *Kernel) TerminateProcess(p *Process, skip *Thread, exitCode int32) {
	p.terminating = true
	for {
		var victim *Thread
		for _, t := range p.threads {
			if t == skip || t.terminated {
				continue
			}
			victim = t
			break
		}
		if victim == nil {
			return
		}
		if exitCode != 0 {
			victim.exitCode = exitCode
		}
		k.KillThread(victim, victim.exitCode, true)
	}
}

// ProcessExited handles the host reporting that pid is gone. Its threads
// die without being signaled.
func (k *Kernel) ProcessExited(pid int, exitCode int32) {
	p := k.ProcessByHostPID(pid)
	if p == nil {
		return
	}
	k.log().Debug("host process exited", zap.Int("host_pid", pid), zap.Int32("exit_code", exitCode))
	p.terminating = true
	for len(p.threads) > 0 {
		k.KillThread(p.threads[0], exitCode, false)
	}
	if !p.terminated {
		p.exitCode = exitCode
		if err := k.processKilled(p); err != nil {
			k.log().Warn("process teardown", zap.Uint32("pid", p.id), zap.Error(err))
		}
	}
}

// processKilled runs once the last thread is gone: the handle table is
// emptied, tracing ends and waiters on the process are released.
func (k *Kernel) processKilled(p *Process) error {
	if p.terminated {
		return nil
	}
	p.terminated = true
	p.terminating = true
	for i, q := range k.processes {
		if q == p {
			k.processes = append(k.processes[:i], k.processes[i+1:]...)
			break
		}
	}
	err := k.closeHandles(p)
	err = multierr.Append(err, p.finishTrace())
	k.log().Debug("process terminated", zap.Uint32("pid", p.id), zap.Int32("exit_code", p.exitCode))
	k.WakeUp(p, 0)
	return multierr.Append(err, release(p))
}

func (k *Kernel) closeHandles(p *Process) error {
	var objs []Object
	p.handles.Each(func(_ handle.Handle, e handleEntry) bool {
		objs = append(objs, e.obj)
		return true
	})
	p.handles.Clear()
	var err error
	for _, o := range objs {
		err = multierr.Append(err, release(o))
	}
	return err
}

// AttachTrace sets up per-process tracing state on first use. Later calls
// keep the existing state, and open may return nil when the backend keeps
// none. The trace is closed once when the process ends.
func (p *Process) AttachTrace(open func() (cpucontext.Trace, error)) error {
	if p.traceOpen {
		return nil
	}
	if p.terminated {
		return errors.ProcessGone(p.target.PID, nil)
	}
	tr, err := open()
	if err != nil {
		if errors.KindOf(err) != "" {
			return err
		}
		return errors.Wrap(errors.PhaseHost, errors.KindUnsuccessful, err, "trace attach")
	}
	p.trace = tr
	p.traceOpen = true
	return nil
}

// Traced reports whether tracing state is attached.
func (p *Process) Traced() bool { return p.trace != nil }

func (p *Process) finishTrace() error {
	if p.trace == nil {
		return nil
	}
	c := p.trace
	p.trace = nil
	return c.Close()
}
