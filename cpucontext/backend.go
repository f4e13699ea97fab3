package cpucontext

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/wippyai/ntserver/errors"
)

// Target identifies a host thread. Which fields a backend uses depends on the
// host: ptrace needs TID, procfs needs PID and TID, Mach needs Port.
type Target struct {
	PID  int
	TID  int
	Port uint32
}

func (t Target) String() string {
	if t.Port != 0 {
		return fmt.Sprintf("pid %d tid %d port %#x", t.PID, t.TID, t.Port)
	}
	return fmt.Sprintf("pid %d tid %d", t.PID, t.TID)
}

// Backend moves register groups between a host thread and a Context.
//
// Get fills the requested groups of regs and ORs them into regs.Flags. Set
// writes the requested groups of regs to the thread. Neither touches groups
// outside the request, on either side.
type Backend interface {
	Name() string
	Capabilities() Capabilities
	Get(ctx context.Context, t Target, regs *Context, groups Group) error
	Set(ctx context.Context, t Target, regs *Context, groups Group) error
	Close() error
}

// Capabilities describes what a backend can reach on this host.
type Capabilities struct {
	// Groups lists the register groups the backend transfers.
	Groups Group
	// DebugRead is false when debug registers are hidden from the server;
	// they then read as zeros.
	DebugRead bool
	// DebugWrite is false when debug register writes are impossible.
	DebugWrite bool
	// Translated is set when the server runs under binary translation.
	Translated bool
}

// WithCapabilities wraps b so that its Capabilities are enforced uniformly:
// hidden debug registers read as zeros, unwritable debug registers and
// unreachable groups fail with Unsupported. Groups the machine does not have
// are treated as empty.
func WithCapabilities(b Backend) Backend {
	if _, ok := b.(*capBackend); ok {
		return b
	}
	return &capBackend{inner: b, caps: b.Capabilities()}
}

type capBackend struct {
	inner Backend
	caps  Capabilities
}

func (c *capBackend) Name() string               { return c.inner.Name() }
func (c *capBackend) Capabilities() Capabilities { return c.caps }
func (c *capBackend) Close() error               { return c.inner.Close() }

func (c *capBackend) Get(ctx context.Context, t Target, regs *Context, groups Group) error {
	groups = c.present(regs, groups)
	if groups&GroupDebugRegisters != 0 && !c.caps.DebugRead {
		regs.Zero(GroupDebugRegisters)
		groups &^= GroupDebugRegisters
	}
	if missing := groups &^ c.caps.Groups; missing != 0 {
		return c.unsupported(missing)
	}
	if groups == 0 {
		return nil
	}
	return c.inner.Get(ctx, t, regs, groups)
}

func (c *capBackend) Set(ctx context.Context, t Target, regs *Context, groups Group) error {
	groups = c.present(regs, groups)
	if groups&GroupDebugRegisters != 0 && !c.caps.DebugWrite {
		return c.unsupported(GroupDebugRegisters)
	}
	if missing := groups &^ c.caps.Groups; missing != 0 {
		return c.unsupported(missing)
	}
	if groups == 0 {
		return nil
	}
	return c.inner.Set(ctx, t, regs, groups)
}

// present drops groups the machine has no registers in; they are trivially
// satisfied.
func (c *capBackend) present(regs *Context, groups Group) Group {
	have := regs.File().Supported()
	regs.Flags |= groups &^ have
	return groups & have
}

func (c *capBackend) unsupported(g Group) error {
	return errors.Unsupported(errors.PhaseContext, fmt.Sprintf("%s backend cannot reach %s registers", c.inner.Name(), g))
}

// Backend kinds accepted by Open.
const (
	KindAuto   = "auto"
	KindPtrace = "ptrace"
	KindMach   = "mach"
	KindProcfs = "procfs"
	KindNone   = "none"
)

// Options selects and configures a backend.
type Options struct {
	Kind     string
	Machine  Machine
	ProcRoot string
}

// Open resolves the backend for this host once, wrapped with its
// capabilities. An unknown kind or a backend that is not built for this OS
// fails with Unsupported.
func Open(opts Options) (Backend, error) {
	if opts.Machine == MachineUnknown {
		opts.Machine = HostMachine()
	}
	if opts.ProcRoot == "" {
		opts.ProcRoot = "/proc"
	}
	kind := opts.Kind
	if kind == "" || kind == KindAuto {
		kind = defaultKind(runtime.GOOS)
	}

	var (
		b   Backend
		err error
	)
	switch kind {
	case KindPtrace:
		b, err = newPtraceBackend(opts)
	case KindMach:
		b, err = newMachBackend(opts)
	case KindProcfs:
		b, err = NewProcfs(opts.ProcRoot, opts.Machine)
	case KindNone:
		b, err = NewNone(opts.Machine)
	default:
		return nil, errors.Unsupported(errors.PhaseConfig, fmt.Sprintf("unknown context backend %q", kind))
	}
	if err != nil {
		return nil, err
	}

	caps := b.Capabilities()
	Logger().Info("context backend ready",
		zap.String("backend", b.Name()),
		zap.Stringer("machine", opts.Machine),
		zap.Stringer("groups", caps.Groups),
		zap.Bool("debug_read", caps.DebugRead),
		zap.Bool("debug_write", caps.DebugWrite),
		zap.Bool("translated", caps.Translated))
	return WithCapabilities(b), nil
}

func defaultKind(goos string) string {
	switch goos {
	case "linux":
		return KindPtrace
	case "darwin":
		return KindMach
	case "solaris", "illumos":
		return KindProcfs
	}
	return KindNone
}
