package kernel

import (
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
	"github.com/wippyai/ntserver/syncprim"
)

// Waker delivers the completion of a wait that could not finish inside the
// request that started it.
type Waker interface {
	Wake(t *Thread, cookie uint64, status errors.Status)
}

// Scheduler runs fn on the dispatch loop after d. The returned function
// cancels the timer and reports whether it was still pending.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// Options wires a Kernel to its collaborators. Nil members get inert
// defaults.
type Options struct {
	Sync      *syncprim.Provider
	Accessor  *cpucontext.Accessor
	Host      HostControl
	Waker     Waker
	Scheduler Scheduler
	Logger    *zap.Logger

	// HandleLimit caps each process handle table.
	HandleLimit int
	// HandleObserver is subscribed to every process handle table.
	HandleObserver handle.Observer
	// OnObject is told about every object creation (+1) and destruction (-1).
	OnObject func(kind Kind, delta int)
}

// Kernel is the object model: the id table, the running processes and the
// services objects need. It is not safe for concurrent use; the dispatch
// loop owns it and passes it explicitly.
type Kernel struct {
	opts      Options
	ids       *handle.Table[Object]
	processes []*Process
	live      map[Kind]int
}

// New creates a kernel.
func New(opts Options) *Kernel {
	if opts.Sync == nil {
		opts.Sync = syncprim.NewProvider("", syncprim.Disabled())
	}
	if opts.Host == nil {
		opts.Host = NopHost{}
	}
	if opts.Waker == nil {
		opts.Waker = nopWaker{}
	}
	return &Kernel{
		opts: opts,
		ids:  handle.NewTable[Object](handle.TagGlobal),
		live: make(map[Kind]int),
	}
}

func (k *Kernel) log() *zap.Logger {
	if k.opts.Logger != nil {
		return k.opts.Logger
	}
	return Logger()
}

// Accessor returns the context accessor, or nil when register access is not
// configured.
func (k *Kernel) Accessor() *cpucontext.Accessor {
	return k.opts.Accessor
}

// Sync returns the sync primitive provider.
func (k *Kernel) Sync() *syncprim.Provider {
	return k.opts.Sync
}

// Live returns the number of live objects of kind.
func (k *Kernel) Live(kind Kind) int {
	return k.live[kind]
}

// Processes returns the running processes.
func (k *Kernel) Processes() []*Process {
	return append([]*Process(nil), k.processes...)
}

// allocID gives obj a thread or process id.
func (k *Kernel) allocID(obj Object) (uint32, error) {
	h, err := k.ids.Alloc(obj)
	if err != nil {
		return 0, err
	}
	return uint32(h), nil
}

func (k *Kernel) freeID(id uint32) {
	k.ids.Free(handle.Handle(id))
}

// ThreadByID resolves a thread id.
func (k *Kernel) ThreadByID(id uint32) (*Thread, error) {
	obj, ok := k.ids.Lookup(handle.Handle(id))
	if t, isThread := obj.(*Thread); ok && isThread {
		return t, nil
	}
	return nil, errors.New(errors.PhaseObject, errors.KindNotFound).
		Code(errors.StatusInvalidCID).Value(id).Detail("thread id %#x", id).Build()
}

// ProcessByID resolves a process id.
func (k *Kernel) ProcessByID(id uint32) (*Process, error) {
	obj, ok := k.ids.Lookup(handle.Handle(id))
	if p, isProcess := obj.(*Process); ok && isProcess {
		return p, nil
	}
	return nil, errors.New(errors.PhaseObject, errors.KindNotFound).
		Code(errors.StatusInvalidCID).Value(id).Detail("process id %#x", id).Build()
}

// ProcessByHostPID finds the running process backed by a host pid.
func (k *Kernel) ProcessByHostPID(pid int) *Process {
	for _, p := range k.processes {
		if p.target.PID == pid {
			return p
		}
	}
	return nil
}

// ThreadByHostTID finds a running thread backed by a host tid.
func (k *Kernel) ThreadByHostTID(tid int) *Thread {
	for _, p := range k.processes {
		for _, t := range p.threads {
			if t.target.TID == tid {
				return t
			}
		}
	}
	return nil
}

// Close terminates every process and releases what they hold.
func (k *Kernel) Close() error {
	var err error
	for len(k.processes) > 0 {
		p := k.processes[0]
		k.TerminateProcess(p, nil, 1)
		if len(k.processes) > 0 && k.processes[0] == p {
			// a process without threads never leaves the list on its own
			err = multierr.Append(err, k.processKilled(p))
		}
	}
	return err
}

type nopWaker struct{}

func (nopWaker) Wake(*Thread, uint64, errors.Status) {}
