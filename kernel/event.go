package kernel

import (
	"go.uber.org/zap"

	"github.com/wippyai/ntserver/handle"
	"github.com/wippyai/ntserver/syncprim"
)

// Event is an NT event backed by a sync primitive. When the primitive is
// fast the device holds the state and clients wait on its descriptor.
type Event struct {
	Header
	prim *syncprim.Primitive
}

// EventInfo is the queried state of an event.
type EventInfo struct {
	Manual   bool
	Signaled bool
}

// Primitive returns the backing primitive.
func (e *Event) Primitive() *syncprim.Primitive { return e.prim }

func (e *Event) signaled(*Thread) bool {
	s, err := e.prim.Signaled()
	if err != nil {
		Logger().Debug("event state read failed", zap.Error(err))
		return false
	}
	return s
}

func (e *Event) satisfied(*Thread) bool {
	if _, err := e.prim.Consume(); err != nil {
		Logger().Debug("event consume failed", zap.Error(err))
	}
	return false
}

// CreateEvent makes an event and opens a handle to it in p.
func (k *Kernel) CreateEvent(p *Process, name string, manual, initial bool, access, attrs uint32) (handle.Handle, *Event, error) {
	prim, err := syncprim.Create(k.opts.Sync, manual, initial, syncprim.Optional)
	if err != nil {
		return 0, nil, err
	}
	e := &Event{prim: prim}
	k.initHeader(&e.Header, KindEvent, name, prim.Destroy)
	h, err := k.allocOwned(p, e, access, attrs)
	if err != nil {
		_ = release(e)
		return 0, nil, err
	}
	return h, e, nil
}

// SetEvent signals e, wakes the threads it satisfies and returns the
// previous state.
func (k *Kernel) SetEvent(e *Event) (bool, error) {
	prev, err := e.prim.Signal()
	if err != nil {
		return false, err
	}
	k.WakeUp(e, 0)
	return prev, nil
}

// ResetEvent clears e and returns the previous state.
func (k *Kernel) ResetEvent(e *Event) (bool, error) {
	return e.prim.Reset()
}

// PulseEvent releases the current waiters of e and leaves it unsignaled.
func (k *Kernel) PulseEvent(e *Event) (bool, error) {
	prev, err := e.prim.Signal()
	if err != nil {
		return false, err
	}
	k.WakeUp(e, 0)
	if _, err := e.prim.Pulse(); err != nil {
		return prev, err
	}
	return prev, nil
}

// QueryEvent returns the state of e.
func (k *Kernel) QueryEvent(e *Event) (EventInfo, error) {
	s, err := e.prim.Signaled()
	if err != nil {
		return EventInfo{}, err
	}
	return EventInfo{Manual: e.prim.Manual(), Signaled: s}, nil
}
