package cpucontext

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/ntserver/errors"
)

// Subject is a thread whose registers can be accessed. Snapshot returns the
// context captured when the thread stopped in a debug event, or nil.
type Subject interface {
	Target() Target
	Snapshot() *Context
}

// CallObserver is told about every backend call: op is "get" or "set".
type CallObserver func(backend, op string, err error)

// Accessor reads and writes thread contexts. A thread stopped in a debug
// event is served from its snapshot and the backend is never called for the
// groups the snapshot holds.
type Accessor struct {
	backend Backend
	machine Machine
	observe CallObserver
}

// AccessorOption configures an Accessor.
type AccessorOption func(*Accessor)

// WithCallObserver installs a hook that counts backend calls.
func WithCallObserver(fn CallObserver) AccessorOption {
	return func(a *Accessor) { a.observe = fn }
}

// NewAccessor returns an accessor for contexts of machine m over b.
func NewAccessor(b Backend, m Machine, opts ...AccessorOption) *Accessor {
	a := &Accessor{backend: b, machine: m}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Machine returns the machine of contexts handed out by a.
func (a *Accessor) Machine() Machine {
	return a.machine
}

// Backend returns the underlying backend.
func (a *Accessor) Backend() Backend {
	return a.backend
}

// OpenTrace opens the backend's tracing state for host process pid. It
// returns nil when the backend keeps none.
func (a *Accessor) OpenTrace(pid int) (Trace, error) {
	tr, ok := a.backend.(Tracer)
	if !ok {
		return nil, nil
	}
	t, err := tr.Trace(pid)
	if err != nil {
		Logger().Debug("trace open failed", zap.String("backend", a.backend.Name()), zap.Int("pid", pid), zap.Error(err))
		return nil, err
	}
	return t, nil
}

// Read returns a new context holding the requested groups.
func (a *Accessor) Read(ctx context.Context, s Subject, groups Group) (*Context, error) {
	out, err := New(a.machine)
	if err != nil {
		return nil, err
	}
	if err := a.ReadInto(ctx, s, out, groups); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadInto fills the requested groups of dst. Other groups of dst keep their
// values.
func (a *Accessor) ReadInto(ctx context.Context, s Subject, dst *Context, groups Group) error {
	if dst.Machine != a.machine {
		return errors.InvalidParameter(errors.PhaseContext,
			fmt.Sprintf("context is %s, server is %s", dst.Machine, a.machine))
	}
	snap := s.Snapshot()
	if snap == nil {
		return a.get(ctx, s.Target(), dst, groups)
	}

	// groups the debug event did not capture are fetched once and kept
	if missing := groups &^ snap.Flags; missing != 0 {
		if err := a.get(ctx, s.Target(), snap, missing); err != nil {
			return err
		}
	}
	return dst.CopyFrom(snap, groups)
}

// Write stores the requested groups of src. For a thread in a debug event
// only the snapshot changes; it reaches the thread when the event is
// continued.
func (a *Accessor) Write(ctx context.Context, s Subject, src *Context, groups Group) error {
	if src.Machine != a.machine {
		return errors.InvalidParameter(errors.PhaseContext,
			fmt.Sprintf("context is %s, server is %s", src.Machine, a.machine))
	}
	groups &= src.Flags
	if groups == 0 {
		return nil
	}
	if snap := s.Snapshot(); snap != nil {
		return snap.CopyFrom(src, groups)
	}
	return a.set(ctx, s.Target(), src, groups)
}

// Commit writes the groups of a snapshot back to the thread.
func (a *Accessor) Commit(ctx context.Context, t Target, snap *Context, groups Group) error {
	groups &= snap.Flags
	if groups == 0 {
		return nil
	}
	return a.set(ctx, t, snap, groups)
}

func (a *Accessor) get(ctx context.Context, t Target, regs *Context, groups Group) error {
	err := a.backend.Get(ctx, t, regs, groups)
	a.record("get", t, groups, err)
	return err
}

func (a *Accessor) set(ctx context.Context, t Target, regs *Context, groups Group) error {
	err := a.backend.Set(ctx, t, regs, groups)
	a.record("set", t, groups, err)
	return err
}

func (a *Accessor) record(op string, t Target, groups Group, err error) {
	if a.observe != nil {
		a.observe(a.backend.Name(), op, err)
	}
	if err != nil {
		Logger().Debug("context backend call failed",
			zap.String("op", op),
			zap.Stringer("target", t),
			zap.Stringer("groups", groups),
			zap.Error(err))
	}
}
