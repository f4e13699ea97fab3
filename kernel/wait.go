package kernel

import (
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
)

// MaximumWaitObjects is the most objects one Select may wait on.
const MaximumWaitObjects = 64

// Infinite waits without a deadline.
const Infinite time.Duration = -1

// WaitRequest describes a Select.
type WaitRequest struct {
	Handles []handle.Handle
	// All waits for every object instead of the first.
	All bool
	// Alertable lets a queued user APC end the wait.
	Alertable bool
	// Interruptible lets a queued system APC end the wait.
	Interruptible bool
	// Timeout is relative; zero polls and Infinite never expires.
	Timeout time.Duration
	// Cookie identifies the wait in the deferred wake notification.
	Cookie uint64
	// Signal is released before the wait starts, zero for none.
	Signal handle.Handle
}

type wait struct {
	thread    *Thread
	next      *wait
	entries   []waitEntry
	all       bool
	alertable bool
	interrupt bool
	expired   bool
	pending   bool
	cookie    uint64
	stop      func() bool
}

type waitEntry struct {
	w   *wait
	obj waitable
}

// SelectHandles resolves req.Handles in the caller's process and waits on
// them.
func (k *Kernel) SelectHandles(t *Thread, req WaitRequest) (errors.Status, error) {
	if len(req.Handles) > MaximumWaitObjects {
		return 0, errors.InvalidParameter(errors.PhaseSync, "too many wait objects")
	}
	objs := make([]waitable, 0, len(req.Handles))
	for _, h := range req.Handles {
		obj, err := k.Lookup(t, h, 0, AccessSynchronize)
		if err != nil {
			return 0, err
		}
		w, ok := obj.(waitable)
		if !ok {
			return 0, errors.TypeMismatch(uint32(h), "waitable", obj.Kind().String())
		}
		objs = append(objs, w)
	}
	if req.Signal != 0 {
		if err := k.signalObject(t, req.Signal); err != nil {
			return 0, err
		}
	}
	return k.Select(t, objs, req)
}

// Select starts a wait by t. It returns the final status when the wait is
// satisfied at once and StatusPending otherwise; a pending wait completes
// through the Waker. req.Handles is ignored.
func (k *Kernel) Select(t *Thread, objs []waitable, req WaitRequest) (errors.Status, error) {
	if t.terminated {
		return 0, errors.New(errors.PhaseSync, errors.KindThreadGone).Detail("%s", t).Build()
	}
	if len(objs) > MaximumWaitObjects {
		return 0, errors.InvalidParameter(errors.PhaseSync, "too many wait objects")
	}
	if req.Timeout > 0 && k.opts.Scheduler == nil {
		return 0, errors.Unsupported(errors.PhaseSync, "timed wait without a scheduler")
	}
	w := &wait{
		thread:    t,
		next:      t.wait,
		all:       req.All,
		alertable: req.Alertable,
		interrupt: req.Interruptible,
		expired:   req.Timeout == 0,
		cookie:    req.Cookie,
		entries:   make([]waitEntry, len(objs)),
	}
	for i, o := range objs {
		w.entries[i] = waitEntry{w: w, obj: o}
		grab(o)
		h := o.header()
		h.waiters = append(h.waiters, &w.entries[i])
	}
	t.wait = w

	if status := k.checkWait(t); status >= 0 {
		return k.endWait(t, errors.Status(status)), nil
	}
	if req.Timeout > 0 {
		w.stop = k.opts.Scheduler.AfterFunc(req.Timeout, func() { k.waitTimeout(w) })
	}
	w.pending = true
	k.log().Debug("wait pending", zap.Uint32("tid", t.id), zap.Int("objects", len(objs)),
		zap.Bool("all", req.All), zap.Duration("timeout", req.Timeout))
	return errors.StatusPending, nil
}

// checkWait returns the status that ends the current wait of t, or -1 when
// it must keep waiting.
func (k *Kernel) checkWait(t *Thread) int64 {
	w := t.wait
	if w.interrupt && len(t.systemAPC) > 0 {
		return int64(errors.StatusKernelAPC)
	}
	if t.Suspended() {
		return -1
	}
	if w.all && len(w.entries) > 0 {
		ready := true
		for _, e := range w.entries {
			if !e.obj.signaled(t) {
				ready = false
				break
			}
		}
		if ready {
			return int64(errors.StatusWait0)
		}
	} else if !w.all {
		for i, e := range w.entries {
			if e.obj.signaled(t) {
				return int64(errors.StatusWait0) + int64(i)
			}
		}
	}
	if w.alertable && len(t.userAPC) > 0 {
		return int64(errors.StatusUserAPC)
	}
	if w.expired {
		return int64(errors.StatusTimeout)
	}
	return -1
}

// endWait pops the current wait of t. An index status consumes the signal
// of the satisfying objects and turns into ABANDONED_WAIT_0+i when a mutex
// was abandoned.
func (k *Kernel) endWait(t *Thread, status errors.Status) errors.Status {
	w := t.wait
	t.wait = w.next
	if int(status) < len(w.entries) {
		var abandoned bool
		if w.all {
			for _, e := range w.entries {
				if e.obj.satisfied(t) {
					abandoned = true
				}
			}
		} else {
			abandoned = w.entries[status].obj.satisfied(t)
		}
		if abandoned {
			status += errors.StatusAbandonedWait0
		}
	}
	for i := range w.entries {
		e := &w.entries[i]
		h := e.obj.header()
		for j, q := range h.waiters {
			if q == e {
				h.waiters = append(h.waiters[:j], h.waiters[j+1:]...)
				break
			}
		}
		if err := release(e.obj); err != nil {
			k.log().Warn("object teardown", zap.Stringer("kind", e.obj.Kind()), zap.Error(err))
		}
	}
	if w.stop != nil {
		w.stop()
		w.stop = nil
	}
	return status
}

// wakeThread ends every wait of t that can now complete and returns how many
// did.
func (k *Kernel) wakeThread(t *Thread) int {
	n := 0
	for t.wait != nil {
		status := k.checkWait(t)
		if status < 0 {
			break
		}
		w := t.wait
		final := k.endWait(t, errors.Status(status))
		k.notify(t, w, final)
		n++
	}
	return n
}

func (k *Kernel) notify(t *Thread, w *wait, status errors.Status) {
	k.log().Debug("wait done", zap.Uint32("tid", t.id), zap.Uint64("cookie", w.cookie), zap.Stringer("status", status))
	if w.pending {
		k.opts.Waker.Wake(t, w.cookie, status)
	}
}

func (k *Kernel) waitTimeout(w *wait) {
	w.stop = nil
	w.expired = true
	t := w.thread
	if t.wait != w || t.Suspended() {
		// a suspended thread times out once it resumes
		return
	}
	status := k.endWait(t, errors.StatusTimeout)
	k.notify(t, w, status)
	// an outer wait may now be satisfied
	k.wakeThread(t)
}

// WakeUp wakes at most max threads waiting on obj, every one when max is
// zero.
func (k *Kernel) WakeUp(obj Object, max int) {
	h := obj.header()
	for i := 0; i < len(h.waiters); {
		if k.wakeThread(h.waiters[i].w.thread) == 0 {
			i++
			continue
		}
		if max > 0 {
			max--
			if max == 0 {
				return
			}
		}
		// the queue changed under us
		i = 0
	}
}

// signalObject releases one object of a signal-and-wait.
func (k *Kernel) signalObject(t *Thread, h handle.Handle) error {
	obj, err := k.Lookup(t, h, 0, 0)
	if err != nil {
		return err
	}
	switch o := obj.(type) {
	case *Event:
		if _, err := k.Lookup(t, h, KindEvent, EventModifyState); err != nil {
			return err
		}
		_, err = k.SetEvent(o)
		return err
	case *Mutex:
		_, err = k.ReleaseMutex(t, o)
		return err
	case *Semaphore:
		if _, err := k.Lookup(t, h, KindSemaphore, SemaphoreModifyState); err != nil {
			return err
		}
		_, err = k.ReleaseSemaphore(o, 1)
		return err
	}
	return errors.TypeMismatch(uint32(h), "event, mutex or semaphore", obj.Kind().String())
}
