package syncprim

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ntserver/errors"
)

// Mode says what happens when no device descriptor can be had.
type Mode uint8

const (
	// Optional falls back to in-process state.
	Optional Mode = iota
	// Required fails with a resource exhaustion error.
	Required
)

// Primitive is an NT event. Its state lives either in a device descriptor
// (fast) or in the primitive itself (fallback), never both.
type Primitive struct {
	desc     Descriptor
	manual   bool
	signaled bool

	destroyOnce sync.Once
	destroyErr  error
}

// Create makes a manual or auto-reset event with the given initial state.
func Create(p *Provider, manual, initial bool, mode Mode) (*Primitive, error) {
	prim := &Primitive{manual: manual}

	dev, err := p.Device()
	if err == nil {
		var desc Descriptor
		desc, err = dev.CreateEvent(manual, initial)
		if err == nil {
			prim.desc = desc
			p.created(true)
			return prim, nil
		}
		Logger().Debug("sync descriptor allocation failed", zap.Error(err))
	}
	if mode == Required {
		return nil, errors.ResourceExhausted(errors.PhaseSync, "no sync descriptor", err)
	}
	prim.signaled = initial
	p.created(false)
	return prim, nil
}

// Fast reports whether the state lives in a device descriptor.
func (p *Primitive) Fast() bool {
	return p.desc != nil
}

// Manual reports whether the event is manual-reset.
func (p *Primitive) Manual() bool {
	return p.manual
}

// Fd returns the device descriptor, or -1 on the fallback path.
func (p *Primitive) Fd() int {
	if p.desc == nil {
		return -1
	}
	return p.desc.Fd()
}

// Signal sets the event and returns the previous state. Signaling a
// signaled event changes nothing.
func (p *Primitive) Signal() (bool, error) {
	if p.desc != nil {
		return p.desc.Set()
	}
	prev := p.signaled
	p.signaled = true
	return prev, nil
}

// Reset clears the event and returns the previous state.
func (p *Primitive) Reset() (bool, error) {
	if p.desc != nil {
		return p.desc.Reset()
	}
	prev := p.signaled
	p.signaled = false
	return prev, nil
}

// Pulse releases current waiters, leaves the event unsignaled and returns
// the previous state. On the fallback path the caller wakes waiters between
// Signal and Pulse instead.
func (p *Primitive) Pulse() (bool, error) {
	if p.desc != nil {
		return p.desc.Pulse()
	}
	prev := p.signaled
	p.signaled = false
	return prev, nil
}

// Signaled reports the current state.
func (p *Primitive) Signaled() (bool, error) {
	if p.desc != nil {
		signaled, _, err := p.desc.Read()
		return signaled, err
	}
	return p.signaled, nil
}

// Consume satisfies one server-side waiter: it reports whether the event
// was signaled and resets it when auto-reset. On the fast path the reset is
// a single device call, so a client waiting on the descriptor and a server
// waiter never both take the same signal.
func (p *Primitive) Consume() (bool, error) {
	if p.desc != nil {
		if p.manual {
			signaled, _, err := p.desc.Read()
			return signaled, err
		}
		return p.desc.Reset()
	}
	if !p.signaled {
		return false, nil
	}
	if !p.manual {
		p.signaled = false
	}
	return true, nil
}

// Destroy releases the descriptor. Only the first call closes it.
func (p *Primitive) Destroy() error {
	p.destroyOnce.Do(func() {
		if p.desc != nil {
			p.destroyErr = p.desc.Close()
		}
	})
	return p.destroyErr
}
