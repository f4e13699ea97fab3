// Package handle implements the generation-checked slot arena behind every
// client-visible handle and id.
//
// # Encoding
//
// A handle is a 32-bit value:
//
//	bits 31..16  generation (0 = invalid, 0xffff = match any)
//	bits 15..1   slot index
//	bit  0       tag (TagLocal for process handle tables, TagGlobal for ids)
//
// # Table
//
//	t := handle.NewTable[*Entry](handle.TagLocal)
//
//	h, err := t.Alloc(entry)   // reuses the most recently freed slot
//	e, ok := t.Lookup(h)       // fails for stale generations
//	e, ok = t.Free(h)          // slot goes back on the free list
//
// Every reuse of a slot increments its generation, so a handle that outlived
// its object fails lookup instead of aliasing the new occupant. Generations
// wrap from 0xfffe back to 1.
//
// Lookups with GenerationAny (see FromTruncated) resolve a slot regardless of
// generation; they exist for callers that only know the low 16 bits of a
// handle value.
//
// # Observers
//
// Subscribe an Observer to receive EventAllocated and EventFreed
// notifications, e.g. to maintain a live-handle gauge.
package handle
