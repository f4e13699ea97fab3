// Package synctest provides an in-memory sync device for tests.
package synctest

import (
	"sync"

	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/syncprim"
)

// Device emulates ntsync event semantics in memory.
type Device struct {
	mu     sync.Mutex
	events []*Event
	nextFd int
	closed int

	// Limit caps the number of live events; negative means unlimited.
	Limit int
	// Fail, when set, is returned by every CreateEvent.
	Fail error
}

// NewDevice returns an unlimited device whose descriptors start at 100.
func NewDevice() *Device {
	return &Device{nextFd: 100, Limit: -1}
}

func (d *Device) CreateEvent(manual, signaled bool) (syncprim.Descriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail != nil {
		return nil, d.Fail
	}
	if d.Limit >= 0 && d.live() >= d.Limit {
		return nil, errors.ResourceExhausted(errors.PhaseSync, "synctest: out of descriptors", nil)
	}
	ev := &Event{fd: d.nextFd, manual: manual, signaled: signaled}
	d.nextFd++
	d.events = append(d.events, ev)
	return ev, nil
}

func (d *Device) live() int {
	n := 0
	for _, ev := range d.events {
		if ev.Closes() == 0 {
			n++
		}
	}
	return n
}

func (d *Device) Close() error {
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
	return nil
}

// Closes reports how often the device was closed.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Events returns every event created so far.
func (d *Device) Events() []*Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Event(nil), d.events...)
}

// Event is one emulated kernel event.
type Event struct {
	mu       sync.Mutex
	fd       int
	manual   bool
	signaled bool
	closed   int
}

func (e *Event) swap(v bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.signaled
	e.signaled = v
	return prev, nil
}

func (e *Event) Set() (bool, error)   { return e.swap(true) }
func (e *Event) Reset() (bool, error) { return e.swap(false) }

// Pulse has no waiters to release in memory, so it only resets.
func (e *Event) Pulse() (bool, error) { return e.swap(false) }

func (e *Event) Read() (bool, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled, e.manual, nil
}

func (e *Event) Fd() int { return e.fd }

func (e *Event) Close() error {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
	return nil
}

// Closes reports how often the descriptor was closed.
func (e *Event) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
