package handle

import (
	"reflect"

	"github.com/wippyai/ntserver/errors"
)

// EventType identifies a slot lifecycle notification.
type EventType uint8

const (
	EventAllocated EventType = iota
	EventFreed
)

// Event represents a slot lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Type   EventType
}

// Observer receives notifications about slot lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnHandleEvent calls f.
func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }

const endOfList = -1

type slot[T any] struct {
	value T
	// offset links free slots together; it is only meaningful while !live.
	offset     int32
	generation uint16
	live       bool
}

// Table is an arena of generation-checked slots.
//
// Freed slots form a LIFO list threaded through their offset field, so both
// Alloc and Free are O(1). Reusing a slot bumps its generation, and any
// handle minted for a previous occupant stops resolving.
//
// A Table is not safe for concurrent use. It is owned by the dispatch loop.
type Table[T any] struct {
	slots     []slot[T]
	observers []Observer
	free      int32
	live      int
	limit     int
	tag       uint8
}

// NewTable creates an empty table whose handles carry tag.
func NewTable[T any](tag uint8) *Table[T] {
	return &Table[T]{
		slots: make([]slot[T], 0, 32),
		free:  endOfList,
		limit: MaxSlots,
		tag:   tag & tagMask,
	}
}

// SetLimit caps the number of slots the table may grow to.
func (t *Table[T]) SetLimit(n int) {
	if n <= 0 || n > MaxSlots {
		n = MaxSlots
	}
	t.limit = n
}

// Alloc stores v and returns its handle. The most recently freed slot is
// reused first.
func (t *Table[T]) Alloc(v T) (Handle, error) {
	var idx int32
	if t.free != endOfList {
		idx = t.free
		s := &t.slots[idx]
		t.free = s.offset
		s.generation = nextGeneration(s.generation)
		s.value = v
		s.offset = endOfList
		s.live = true
	} else {
		if len(t.slots) >= t.limit {
			return 0, errors.ResourceExhausted(errors.PhaseHandle, "handle table full", nil)
		}
		idx = int32(len(t.slots))
		t.slots = append(t.slots, slot[T]{
			value:      v,
			offset:     endOfList,
			generation: 1,
			live:       true,
		})
	}
	t.live++

	h := Encode(int(idx), t.slots[idx].generation, t.tag)
	t.notify(Event{Type: EventAllocated, Handle: h, Value: v})
	return h, nil
}

// AllocAt stores v in a specific free slot. It is used when a client asks
// for a particular handle value. The slot must be free or beyond the end.
func (t *Table[T]) AllocAt(index int, v T) (Handle, error) {
	if index < 0 || index >= t.limit {
		return 0, errors.InvalidParameter(errors.PhaseHandle, "handle index out of range")
	}
	for len(t.slots) <= index {
		n := int32(len(t.slots))
		t.slots = append(t.slots, slot[T]{offset: t.free})
		t.free = n
	}
	if t.slots[index].live {
		return 0, errors.InvalidParameter(errors.PhaseHandle, "handle slot in use")
	}
	t.unlinkFree(int32(index))

	s := &t.slots[index]
	s.generation = nextGeneration(s.generation)
	s.value = v
	s.offset = endOfList
	s.live = true
	t.live++

	h := Encode(index, s.generation, t.tag)
	t.notify(Event{Type: EventAllocated, Handle: h, Value: v})
	return h, nil
}

// Restore stores v under exactly h, generation included. Child processes
// use it to inherit handles with the values their parent saw.
func (t *Table[T]) Restore(h Handle, v T) error {
	gen := h.Generation()
	if gen == 0 || gen == GenerationAny || h.Tag() != t.tag {
		return errors.InvalidHandle(errors.PhaseHandle, uint32(h))
	}
	if _, err := t.AllocAt(h.Index(), v); err != nil {
		return err
	}
	t.slots[h.Index()].generation = gen
	return nil
}

func (t *Table[T]) unlinkFree(idx int32) {
	prev := int32(endOfList)
	for cur := t.free; cur != endOfList; cur = t.slots[cur].offset {
		if cur == idx {
			if prev == endOfList {
				t.free = t.slots[cur].offset
			} else {
				t.slots[prev].offset = t.slots[cur].offset
			}
			return
		}
		prev = cur
	}
}

func (t *Table[T]) resolve(h Handle) (*slot[T], bool) {
	gen := h.Generation()
	if gen == 0 || h.Tag() != t.tag {
		return nil, false
	}
	idx := h.Index()
	if idx >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.live {
		return nil, false
	}
	if gen != GenerationAny && gen != s.generation {
		return nil, false
	}
	return s, true
}

// Lookup returns the value stored under h. A stale generation, a free slot,
// a foreign tag or an out-of-range index all fail.
func (t *Table[T]) Lookup(h Handle) (T, bool) {
	s, ok := t.resolve(h)
	if !ok {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Canonical returns the live handle with the slot's current generation,
// which differs from h only when h used GenerationAny.
func (t *Table[T]) Canonical(h Handle) (Handle, bool) {
	s, ok := t.resolve(h)
	if !ok {
		return 0, false
	}
	return Encode(h.Index(), s.generation, t.tag), true
}

// Replace swaps the value stored under a live handle.
func (t *Table[T]) Replace(h Handle, v T) bool {
	s, ok := t.resolve(h)
	if !ok {
		return false
	}
	s.value = v
	return true
}

// Free releases the slot behind h and returns its value.
func (t *Table[T]) Free(h Handle) (T, bool) {
	var zero T
	s, ok := t.resolve(h)
	if !ok {
		return zero, false
	}
	canonical := Encode(h.Index(), s.generation, t.tag)
	v := s.value
	s.value = zero
	s.live = false
	s.offset = t.free
	t.free = int32(h.Index())
	t.live--

	t.notify(Event{Type: EventFreed, Handle: canonical, Value: v})
	return v, true
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	return t.live
}

// Cap returns the number of slots ever allocated.
func (t *Table[T]) Cap() int {
	return len(t.slots)
}

// Each iterates over live entries in slot order until fn returns false.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if !fn(Encode(i, s.generation, t.tag), s.value) {
			return
		}
	}
}

// Clear frees every live entry, notifying observers for each.
func (t *Table[T]) Clear() {
	for i := range t.slots {
		s := &t.slots[i]
		if s.live {
			t.Free(Encode(i, s.generation, t.tag))
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table[T]) Subscribe(o Observer) {
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer. Observers of uncomparable types, such as
// ObserverFunc, cannot be removed.
func (t *Table[T]) Unsubscribe(o Observer) {
	if !reflect.TypeOf(o).Comparable() {
		return
	}
	for i, existing := range t.observers {
		if existing == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Table[T]) notify(e Event) {
	for _, o := range t.observers {
		o.OnHandleEvent(e)
	}
}
