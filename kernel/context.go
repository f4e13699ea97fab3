package kernel

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
)

func (k *Kernel) accessor() (*cpucontext.Accessor, error) {
	if k.opts.Accessor == nil {
		return nil, errors.Unsupported(errors.PhaseContext, "register access not configured")
	}
	return k.opts.Accessor, nil
}

// contextTarget checks t can have its registers accessed by caller and
// suspends it when needed. The returned function undoes the suspension.
func (k *Kernel) contextTarget(caller, t *Thread) (func(), error) {
	if t.terminated {
		return nil, errors.Unsuccessful(errors.PhaseContext, "thread is not running")
	}
	if t == caller || t.snapshot != nil {
		return func() {}, nil
	}
	if _, err := k.SuspendThread(t); err != nil {
		return nil, err
	}
	return func() { k.ResumeThread(t) }, nil
}

// hostTarget resolves the host target of t through the trace of its
// process, opening the trace on first use.
func (k *Kernel) hostTarget(a *cpucontext.Accessor, t *Thread) (cpucontext.Target, error) {
	p := t.process
	err := p.AttachTrace(func() (cpucontext.Trace, error) {
		return a.OpenTrace(p.target.PID)
	})
	if err != nil {
		return t.target, err
	}
	if p.trace == nil {
		return t.target, nil
	}
	return p.trace.Resolve(t.target)
}

// hostSubject is a thread with its resolved host target.
type hostSubject struct {
	*Thread
	target cpucontext.Target
}

func (s hostSubject) Target() cpucontext.Target { return s.target }

func (k *Kernel) subject(a *cpucontext.Accessor, t *Thread) (cpucontext.Subject, error) {
	target, err := k.hostTarget(a, t)
	if err != nil {
		return nil, err
	}
	return hostSubject{Thread: t, target: target}, nil
}

// GetThreadContext reads the requested register groups of t.
func (k *Kernel) GetThreadContext(ctx context.Context, caller, t *Thread, groups cpucontext.Group) (*cpucontext.Context, error) {
	a, err := k.accessor()
	if err != nil {
		return nil, err
	}
	done, err := k.contextTarget(caller, t)
	if err != nil {
		return nil, err
	}
	defer done()
	s, err := k.subject(a, t)
	if err != nil {
		return nil, err
	}
	return a.Read(ctx, s, groups)
}

// SetThreadContext writes the groups of src that are both requested and
// valid. A thread in a debug event only has its snapshot changed.
func (k *Kernel) SetThreadContext(ctx context.Context, caller, t *Thread, src *cpucontext.Context, groups cpucontext.Group) error {
	a, err := k.accessor()
	if err != nil {
		return err
	}
	done, err := k.contextTarget(caller, t)
	if err != nil {
		return err
	}
	defer done()
	s, err := k.subject(a, t)
	if err != nil {
		return err
	}
	if err := a.Write(ctx, s, src, groups); err != nil {
		return err
	}
	if t.snapshot != nil {
		t.snapshotDirty |= groups & src.Flags
	}
	return nil
}

// InstallSnapshot makes regs the context served for t until it is cleared.
func (t *Thread) InstallSnapshot(regs *cpucontext.Context) {
	t.snapshot = regs
	t.snapshotDirty = 0
}

// ClearSnapshot drops the snapshot and returns the groups written to it.
func (t *Thread) ClearSnapshot() cpucontext.Group {
	dirty := t.snapshotDirty
	t.snapshot = nil
	t.snapshotDirty = 0
	return dirty
}

// QueueExceptionEvent stops t in a debug event with regs as its captured
// context.
func (k *Kernel) QueueExceptionEvent(t *Thread, regs *cpucontext.Context) error {
	if t.terminated {
		return errors.Unsuccessful(errors.PhaseContext, "thread is not running")
	}
	if t.snapshot != nil {
		return errors.InvalidParameter(errors.PhaseContext, "debug event already pending")
	}
	if a := k.opts.Accessor; a != nil && regs.Machine != a.Machine() {
		return errors.InvalidParameter(errors.PhaseContext, "snapshot machine mismatch")
	}
	if _, err := k.SuspendThread(t); err != nil {
		return err
	}
	t.InstallSnapshot(regs.Clone())
	k.log().Debug("debug event", zap.Uint32("tid", t.id), zap.Stringer("groups", regs.Flags))
	return nil
}

// ContinueDebugEvent writes back what the debugger changed in the snapshot,
// drops it and lets t run.
func (k *Kernel) ContinueDebugEvent(ctx context.Context, t *Thread) error {
	snap := t.snapshot
	if snap == nil {
		return errors.InvalidParameter(errors.PhaseContext, "no debug event pending")
	}
	dirty := t.ClearSnapshot()
	var err error
	if dirty != 0 {
		if a, aerr := k.accessor(); aerr != nil {
			err = aerr
		} else if target, terr := k.hostTarget(a, t); terr != nil {
			err = terr
		} else {
			err = a.Commit(ctx, target, snap, dirty)
		}
	}
	k.ResumeThread(t)
	return err
}
