package kernel

import (
	"fmt"

	"go.uber.org/zap"
)

// Kind identifies the type of a kernel object.
type Kind uint8

const (
	KindProcess Kind = iota + 1
	KindThread
	KindEvent
	KindMutex
	KindSemaphore
	KindAPC
)

var kindNames = map[Kind]string{
	KindProcess:   "process",
	KindThread:    "thread",
	KindEvent:     "event",
	KindMutex:     "mutex",
	KindSemaphore: "semaphore",
	KindAPC:       "apc",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinds lists every object kind, for iteration.
func Kinds() []Kind {
	return []Kind{KindProcess, KindThread, KindEvent, KindMutex, KindSemaphore, KindAPC}
}

// Object is anything a handle can refer to.
type Object interface {
	Kind() Kind
	Name() string
	header() *Header
}

// waitable objects can appear in a Select.
type waitable interface {
	Object
	// signaled reports whether a wait by t would be satisfied now.
	signaled(t *Thread) bool
	// satisfied consumes the signal on behalf of t and reports whether the
	// wait completed by abandonment.
	satisfied(t *Thread) (abandoned bool)
}

// Header carries the state every object shares: its reference count and
// the queue of waits blocked on it.
type Header struct {
	k       *Kernel
	kind    Kind
	name    string
	refs    int
	waiters []*waitEntry
	destroy func() error
}

func (h *Header) header() *Header { return h }

// Kind returns the object kind.
func (h *Header) Kind() Kind { return h.kind }

// Name returns the object name, empty for anonymous objects.
func (h *Header) Name() string { return h.name }

// Refs returns the current reference count.
func (h *Header) Refs() int { return h.refs }

// Waiters returns the number of waits queued on the object.
func (h *Header) Waiters() int { return len(h.waiters) }

func (k *Kernel) initHeader(h *Header, kind Kind, name string, destroy func() error) {
	h.k = k
	h.kind = kind
	h.name = name
	h.refs = 1
	h.destroy = destroy
	k.live[kind]++
	if k.opts.OnObject != nil {
		k.opts.OnObject(kind, 1)
	}
}

// grab takes a reference.
func grab(o Object) Object {
	o.header().refs++
	return o
}

// release drops a reference and destroys the object when it was the last.
func release(o Object) error {
	h := o.header()
	if h.refs <= 0 {
		h.k.log().DPanic("release of dead object", zap.Stringer("kind", h.kind))
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	h.k.live[h.kind]--
	if h.k.opts.OnObject != nil {
		h.k.opts.OnObject(h.kind, -1)
	}
	if h.destroy != nil {
		return h.destroy()
	}
	return nil
}
