package kernel

import (
	"go.uber.org/zap"

	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
)

// Pseudo-handles always name the calling process and thread.
const (
	CurrentProcess handle.Handle = 0xffffffff
	CurrentThread  handle.Handle = 0xfffffffe
)

// ObjInherit marks a handle as inherited by child processes.
const ObjInherit uint32 = 0x00000002

// DuplicateHandle options.
const (
	DuplicateCloseSource    uint32 = 0x1
	DuplicateSameAccess     uint32 = 0x2
	DuplicateSameAttributes uint32 = 0x4
)

type handleEntry struct {
	obj     Object
	access  uint32
	inherit bool
}

// AllocHandle opens a new handle to obj in p with the mapped access. The
// handle holds its own reference.
func (k *Kernel) AllocHandle(p *Process, obj Object, access, attrs uint32) (handle.Handle, error) {
	grab(obj)
	h, err := k.allocOwned(p, obj, access, attrs)
	if err != nil {
		_ = release(obj)
	}
	return h, err
}

// allocOwned hands the caller's reference on obj to the new handle.
func (k *Kernel) allocOwned(p *Process, obj Object, access, attrs uint32) (handle.Handle, error) {
	if p.terminated {
		return 0, errors.ProcessGone(p.target.PID, nil)
	}
	e := handleEntry{
		obj:     obj,
		access:  MapAccess(obj.Kind(), access),
		inherit: attrs&ObjInherit != 0,
	}
	h, err := p.handles.Alloc(e)
	if err != nil {
		return 0, errors.ResourceExhausted(errors.PhaseHandle, "process handle table", err)
	}
	return h, nil
}

// allocHint opens a handle to obj in p at the slot hint names, or at any
// free slot when hint is zero or its slot is taken.
func (k *Kernel) allocHint(p *Process, obj Object, access, attrs uint32, hint handle.Handle) (handle.Handle, error) {
	if hint == 0 {
		return k.AllocHandle(p, obj, access, attrs)
	}
	if p.terminated {
		return 0, errors.ProcessGone(p.target.PID, nil)
	}
	e := handleEntry{
		obj:     obj,
		access:  MapAccess(obj.Kind(), access),
		inherit: attrs&ObjInherit != 0,
	}
	grab(obj)
	h, err := p.handles.AllocAt(hint.Index(), e)
	if err == nil {
		return h, nil
	}
	k.log().Debug("handle hint unavailable", zap.Stringer("hint", hint), zap.Error(err))
	if h, err = p.handles.Alloc(e); err != nil {
		_ = release(obj)
		return 0, errors.ResourceExhausted(errors.PhaseHandle, "process handle table", err)
	}
	return h, nil
}

// Lookup resolves h in the caller's process, requiring kind (zero for any)
// and every right in access.
func (k *Kernel) Lookup(caller *Thread, h handle.Handle, kind Kind, access uint32) (Object, error) {
	obj, _, err := k.lookupIn(caller.process, caller, h, kind, access)
	return obj, err
}

func (k *Kernel) lookupIn(p *Process, caller *Thread, h handle.Handle, kind Kind, access uint32) (Object, handleEntry, error) {
	var e handleEntry
	switch h {
	case CurrentProcess:
		e = handleEntry{obj: caller.process, access: ProcessAllAccess}
	case CurrentThread:
		e = handleEntry{obj: caller, access: ThreadAllAccess}
	default:
		var ok bool
		e, ok = p.handles.Lookup(h)
		if !ok {
			return nil, e, errors.InvalidHandle(errors.PhaseHandle, uint32(h))
		}
	}
	if kind != 0 && e.obj.Kind() != kind {
		return nil, e, errors.TypeMismatch(uint32(h), kind.String(), e.obj.Kind().String())
	}
	if access != 0 {
		want := MapAccess(e.obj.Kind(), access)
		if e.access&want != want {
			return nil, e, errors.New(errors.PhaseHandle, errors.KindAccessDenied).
				Value(uint32(h)).Detail("have %#x, need %#x", e.access, want).Build()
		}
	}
	return e.obj, e, nil
}

// LookupThread resolves a thread handle.
func (k *Kernel) LookupThread(caller *Thread, h handle.Handle, access uint32) (*Thread, error) {
	obj, err := k.Lookup(caller, h, KindThread, access)
	if err != nil {
		return nil, err
	}
	return obj.(*Thread), nil
}

// LookupProcess resolves a process handle.
func (k *Kernel) LookupProcess(caller *Thread, h handle.Handle, access uint32) (*Process, error) {
	obj, err := k.Lookup(caller, h, KindProcess, access)
	if err != nil {
		return nil, err
	}
	return obj.(*Process), nil
}

// LookupEvent resolves an event handle.
func (k *Kernel) LookupEvent(caller *Thread, h handle.Handle, access uint32) (*Event, error) {
	obj, err := k.Lookup(caller, h, KindEvent, access)
	if err != nil {
		return nil, err
	}
	return obj.(*Event), nil
}

// LookupMutex resolves a mutex handle.
func (k *Kernel) LookupMutex(caller *Thread, h handle.Handle, access uint32) (*Mutex, error) {
	obj, err := k.Lookup(caller, h, KindMutex, access)
	if err != nil {
		return nil, err
	}
	return obj.(*Mutex), nil
}

// LookupSemaphore resolves a semaphore handle.
func (k *Kernel) LookupSemaphore(caller *Thread, h handle.Handle, access uint32) (*Semaphore, error) {
	obj, err := k.Lookup(caller, h, KindSemaphore, access)
	if err != nil {
		return nil, err
	}
	return obj.(*Semaphore), nil
}

// CloseHandle removes h from p and drops its reference. Closing a
// pseudo-handle succeeds without effect.
func (k *Kernel) CloseHandle(p *Process, h handle.Handle) error {
	if h == CurrentProcess || h == CurrentThread {
		return nil
	}
	e, ok := p.handles.Free(h)
	if !ok {
		return errors.InvalidHandle(errors.PhaseHandle, uint32(h))
	}
	if err := release(e.obj); err != nil {
		k.log().Warn("object teardown", zap.Stringer("kind", e.obj.Kind()), zap.Error(err))
	}
	return nil
}

// DuplicateHandle copies src from srcProc into dstProc, at hint's slot when
// hint is non-zero and that slot is free. The new handle gets the requested
// access intersected with the source access, so it never widens.
// DuplicateCloseSource closes the source even when the copy fails. A nil
// dstProc only closes the source.
func (k *Kernel) DuplicateHandle(caller *Thread, srcProc *Process, src handle.Handle, dstProc *Process, hint handle.Handle, access, attrs, options uint32) (handle.Handle, error) {
	obj, e, err := k.lookupIn(srcProc, caller, src, 0, 0)
	if err != nil {
		return 0, err
	}
	grab(obj)
	defer func() {
		if err := release(obj); err != nil {
			k.log().Warn("object teardown", zap.Stringer("kind", obj.Kind()), zap.Error(err))
		}
	}()
	if options&DuplicateCloseSource != 0 {
		if err := k.CloseHandle(srcProc, src); err != nil {
			return 0, err
		}
	}
	if dstProc == nil {
		return 0, nil
	}

	if options&DuplicateSameAccess != 0 {
		access = e.access
	} else {
		access = MapAccess(obj.Kind(), access) & e.access
	}
	if options&DuplicateSameAttributes != 0 {
		attrs = 0
		if e.inherit {
			attrs = ObjInherit
		}
	}
	return k.allocHint(dstProc, obj, access, attrs, hint)
}

// SetHandleInherit changes the inherit flag of h in p.
func (k *Kernel) SetHandleInherit(p *Process, h handle.Handle, inherit bool) error {
	e, ok := p.handles.Lookup(h)
	if !ok {
		return errors.InvalidHandle(errors.PhaseHandle, uint32(h))
	}
	e.inherit = inherit
	p.handles.Replace(h, e)
	return nil
}
