package handle

import (
	"errors"
	"testing"

	srverrors "github.com/wippyai/ntserver/errors"
)

func TestEncode(t *testing.T) {
	h := Encode(5, 3, TagGlobal)
	if h.Index() != 5 {
		t.Errorf("Index = %d, want 5", h.Index())
	}
	if h.Generation() != 3 {
		t.Errorf("Generation = %d, want 3", h.Generation())
	}
	if h.Tag() != TagGlobal {
		t.Errorf("Tag = %d, want %d", h.Tag(), TagGlobal)
	}
	if uint32(h) != 3<<16|5<<1|1 {
		t.Errorf("raw = %#x", uint32(h))
	}
	if h.Truncate() != uint16(5<<1|1) {
		t.Errorf("Truncate = %#x", h.Truncate())
	}
}

func TestTable_Basic(t *testing.T) {
	tbl := NewTable[string](TagLocal)

	h, err := tbl.Alloc("event")
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}
	if h.Generation() != 1 {
		t.Fatalf("first generation = %d, want 1", h.Generation())
	}

	v, ok := tbl.Lookup(h)
	if !ok || v != "event" {
		t.Fatalf("Lookup = %q, %v", v, ok)
	}

	v, ok = tbl.Free(h)
	if !ok || v != "event" {
		t.Fatalf("Free = %q, %v", v, ok)
	}

	if _, ok := tbl.Lookup(h); ok {
		t.Fatal("Expected Lookup to fail after Free")
	}
	if _, ok := tbl.Free(h); ok {
		t.Fatal("double Free must fail")
	}
}

func TestTable_StaleHandleAfterReuse(t *testing.T) {
	tbl := NewTable[string](TagLocal)

	h1, _ := tbl.Alloc("thread")
	tbl.Free(h1)

	h2, err := tbl.Alloc("mutex")
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if h2.Index() != h1.Index() {
		t.Fatalf("freed slot not reused: %d vs %d", h2.Index(), h1.Index())
	}
	if h2.Generation() != 2 {
		t.Fatalf("generation after reuse = %d, want 2", h2.Generation())
	}
	if _, ok := tbl.Lookup(h1); ok {
		t.Fatal("stale handle resolved to the new occupant")
	}
	if v, ok := tbl.Lookup(h2); !ok || v != "mutex" {
		t.Fatalf("new handle lookup = %q, %v", v, ok)
	}
}

func TestTable_LIFOReuse(t *testing.T) {
	tbl := NewTable[int](TagLocal)

	h1, _ := tbl.Alloc(1)
	h2, _ := tbl.Alloc(2)
	h3, _ := tbl.Alloc(3)

	tbl.Free(h1)
	tbl.Free(h3)

	h4, _ := tbl.Alloc(4)
	if h4.Index() != h3.Index() {
		t.Errorf("expected most recently freed slot %d, got %d", h3.Index(), h4.Index())
	}
	h5, _ := tbl.Alloc(5)
	if h5.Index() != h1.Index() {
		t.Errorf("expected slot %d, got %d", h1.Index(), h5.Index())
	}
	h6, _ := tbl.Alloc(6)
	if h6.Index() != 3 {
		t.Errorf("expected fresh slot 3, got %d", h6.Index())
	}
	if _, ok := tbl.Lookup(h2); !ok {
		t.Error("untouched handle stopped resolving")
	}
}

func TestTable_NoAliasingAcrossSequences(t *testing.T) {
	tbl := NewTable[int](TagLocal)
	live := map[Handle]int{}
	seen := map[Handle]int{}

	next := 0
	for round := 0; round < 200; round++ {
		// allocate three, free two, in a rotating pattern
		for i := 0; i < 3; i++ {
			next++
			h, err := tbl.Alloc(next)
			if err != nil {
				t.Fatalf("Alloc: %v", err)
			}
			if prev, dup := seen[h]; dup {
				t.Fatalf("handle %v minted twice (values %d and %d)", h, prev, next)
			}
			seen[h] = next
			live[h] = next
		}
		n := 0
		for h := range live {
			if n == 2 {
				break
			}
			tbl.Free(h)
			delete(live, h)
			n++
		}
	}

	for h, want := range live {
		got, ok := tbl.Lookup(h)
		if !ok || got != want {
			t.Fatalf("Lookup(%v) = %d, %v; want %d", h, got, ok, want)
		}
	}
	for h := range seen {
		if _, isLive := live[h]; isLive {
			continue
		}
		if _, ok := tbl.Lookup(h); ok {
			t.Fatalf("freed handle %v still resolves", h)
		}
	}
	if tbl.Len() != len(live) {
		t.Fatalf("Len = %d, want %d", tbl.Len(), len(live))
	}
}

func TestTable_GenerationWrap(t *testing.T) {
	tbl := NewTable[int](TagLocal)
	h, _ := tbl.Alloc(0)
	tbl.slots[h.Index()].generation = GenerationAny - 1
	tbl.Free(Encode(h.Index(), GenerationAny-1, TagLocal))

	h2, _ := tbl.Alloc(1)
	if h2.Generation() != 1 {
		t.Fatalf("generation after 0xfffe = %d, want 1", h2.Generation())
	}
}

func TestTable_GenerationAny(t *testing.T) {
	tbl := NewTable[string](TagLocal)
	h1, _ := tbl.Alloc("a")
	tbl.Free(h1)
	h2, _ := tbl.Alloc("b")

	wide := FromTruncated(h2.Truncate())
	v, ok := tbl.Lookup(wide)
	if !ok || v != "b" {
		t.Fatalf("truncated lookup = %q, %v", v, ok)
	}
	canon, ok := tbl.Canonical(wide)
	if !ok || canon != h2 {
		t.Fatalf("Canonical = %v, want %v", canon, h2)
	}
}

func TestTable_InvalidHandles(t *testing.T) {
	tbl := NewTable[string](TagLocal)
	h, _ := tbl.Alloc("x")

	tests := []struct {
		name string
		h    Handle
	}{
		{"zero", 0},
		{"generation zero", Encode(h.Index(), 0, TagLocal)},
		{"wrong generation", Encode(h.Index(), 7, TagLocal)},
		{"wrong tag", Encode(h.Index(), h.Generation(), TagGlobal)},
		{"out of range", Encode(999, 1, TagLocal)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tbl.Lookup(tt.h); ok {
				t.Errorf("Lookup(%v) succeeded", tt.h)
			}
		})
	}
}

func TestTable_Limit(t *testing.T) {
	tbl := NewTable[int](TagLocal)
	tbl.SetLimit(2)
	tbl.Alloc(1)
	tbl.Alloc(2)
	_, err := tbl.Alloc(3)
	if !errors.Is(err, srverrors.ErrResourceExhausted) {
		t.Fatalf("expected resource exhaustion, got %v", err)
	}
}

func TestTable_AllocAt(t *testing.T) {
	tbl := NewTable[string](TagLocal)
	h, err := tbl.AllocAt(4, "hinted")
	if err != nil {
		t.Fatalf("AllocAt: %v", err)
	}
	if h.Index() != 4 {
		t.Fatalf("index = %d", h.Index())
	}
	if _, err := tbl.AllocAt(4, "again"); err == nil {
		t.Fatal("AllocAt on live slot must fail")
	}

	// slots 0..3 were created free and must still be usable
	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		h, err := tbl.Alloc("fill")
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		seen[h.Index()] = true
	}
	for i := 0; i < 4; i++ {
		if !seen[i] {
			t.Errorf("slot %d never handed out", i)
		}
	}
	if tbl.Cap() != 5 {
		t.Errorf("Cap = %d, want 5", tbl.Cap())
	}
}

func TestTable_EachAndClear(t *testing.T) {
	tbl := NewTable[int](TagLocal)
	tbl.Alloc(1)
	h2, _ := tbl.Alloc(2)
	tbl.Alloc(3)
	tbl.Free(h2)

	sum := 0
	tbl.Each(func(_ Handle, v int) bool {
		sum += v
		return true
	})
	if sum != 4 {
		t.Fatalf("Each sum = %d, want 4", sum)
	}

	count := 0
	tbl.Each(func(Handle, int) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("early termination visited %d", count)
	}

	tbl.Clear()
	if tbl.Len() != 0 {
		t.Fatalf("Len after Clear = %d", tbl.Len())
	}
}

type countingObserver struct {
	allocated, freed int
}

func (c *countingObserver) OnHandleEvent(e Event) {
	switch e.Type {
	case EventAllocated:
		c.allocated++
	case EventFreed:
		c.freed++
	}
}

func TestTable_Observers(t *testing.T) {
	tbl := NewTable[int](TagLocal)
	obs := &countingObserver{}
	tbl.Subscribe(obs)

	h, _ := tbl.Alloc(1)
	tbl.Alloc(2)
	tbl.Free(h)

	if obs.allocated != 2 || obs.freed != 1 {
		t.Fatalf("observer saw %d/%d", obs.allocated, obs.freed)
	}

	tbl.Unsubscribe(obs)
	tbl.Alloc(3)
	if obs.allocated != 2 {
		t.Fatal("unsubscribed observer still notified")
	}
}

func TestTable_Restore(t *testing.T) {
	tbl := NewTable[string](TagLocal)
	want := Encode(3, 7, TagLocal)
	if err := tbl.Restore(want, "inherited"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if v, ok := tbl.Lookup(want); !ok || v != "inherited" {
		t.Fatalf("Lookup(%s) = %q, %v", want, v, ok)
	}
	if _, ok := tbl.Lookup(Encode(3, 1, TagLocal)); ok {
		t.Fatal("other generation must not resolve")
	}
	if err := tbl.Restore(Encode(5, 0, TagLocal), "bad"); err == nil {
		t.Fatal("generation 0 must be rejected")
	}
	if err := tbl.Restore(Encode(5, 1, TagGlobal), "bad"); err == nil {
		t.Fatal("foreign tag must be rejected")
	}
}

func TestTable_UnsubscribeFunc(t *testing.T) {
	tbl := NewTable[int](TagLocal)
	calls := 0
	obs := ObserverFunc(func(Event) { calls++ })
	tbl.Subscribe(obs)
	tbl.Unsubscribe(obs)
	if _, err := tbl.Alloc(1); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, func observers stay subscribed", calls)
	}
}
