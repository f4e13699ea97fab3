// Package contexttest provides an in-memory register backend.
package contexttest

import (
	"context"
	"sync"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
)

// Backend keeps one register file per host tid. Threads with a negative tid
// are gone.
type Backend struct {
	mu      sync.Mutex
	machine cpucontext.Machine
	threads map[int]*cpucontext.Context
	gets    int
	sets    int
	last    cpucontext.Target

	opens  map[int]int
	closes map[int]int
}

// NewBackend returns a backend for machine m.
func NewBackend(m cpucontext.Machine) *Backend {
	return &Backend{
		machine: m,
		threads: map[int]*cpucontext.Context{},
		opens:   map[int]int{},
		closes:  map[int]int{},
	}
}

// Thread returns the live registers of tid, creating zeroed ones.
func (b *Backend) Thread(tid int) *cpucontext.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.thread(tid)
}

func (b *Backend) thread(tid int) *cpucontext.Context {
	c, ok := b.threads[tid]
	if !ok {
		c = cpucontext.MustNew(b.machine)
		c.Flags = cpucontext.GroupAll
		b.threads[tid] = c
	}
	return c
}

// Calls returns the number of Get and Set calls so far.
func (b *Backend) Calls() (gets, sets int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gets, b.sets
}

// Last returns the target of the most recent Get or Set.
func (b *Backend) Last() cpucontext.Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Traces reports how often the trace of host process pid was opened and
// closed.
func (b *Backend) Traces(pid int) (opens, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[pid], b.closes[pid]
}

// Port is the thread port a trace resolves for tid.
func Port(tid int) uint32 { return 0x1000 + uint32(tid) }

// Trace opens tracing state for pid. Resolved targets carry Port(tid).
func (b *Backend) Trace(pid int) (cpucontext.Trace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pid < 0 {
		return nil, errors.ProcessGone(pid, nil)
	}
	b.opens[pid]++
	return &trace{b: b, pid: pid}, nil
}

type trace struct {
	b   *Backend
	pid int
}

func (t *trace) Resolve(target cpucontext.Target) (cpucontext.Target, error) {
	if target.TID >= 0 {
		target.Port = Port(target.TID)
	}
	return target, nil
}

func (t *trace) Close() error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.closes[t.pid]++
	return nil
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) Capabilities() cpucontext.Capabilities {
	return cpucontext.Capabilities{Groups: cpucontext.GroupAll, DebugRead: true, DebugWrite: true}
}

func (b *Backend) Get(_ context.Context, t cpucontext.Target, regs *cpucontext.Context, groups cpucontext.Group) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	b.last = t
	if t.TID < 0 {
		return errors.ThreadGone(t.TID, nil)
	}
	return regs.CopyFrom(b.thread(t.TID), groups)
}

func (b *Backend) Set(_ context.Context, t cpucontext.Target, regs *cpucontext.Context, groups cpucontext.Group) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sets++
	b.last = t
	if t.TID < 0 {
		return errors.ThreadGone(t.TID, nil)
	}
	return b.thread(t.TID).CopyFrom(regs, groups)
}

func (b *Backend) Close() error { return nil }
