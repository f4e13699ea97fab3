package kernel

import (
	"go.uber.org/zap"

	"github.com/wippyai/ntserver/errors"
)

// APCType selects the queue an APC goes to and what the client does with it.
type APCType uint32

const (
	APCNone APCType = iota
	// APCUser runs a client function when the thread waits alertably.
	APCUser
	// APCTimer is a user APC completing a timer.
	APCTimer
	// APCAsyncIO completes an asynchronous operation in the client.
	APCAsyncIO
	// APCVirtualQuery and the following run inside the target process on
	// behalf of another one.
	APCVirtualQuery
	APCVirtualProtect
	APCCreateThread
	APCBreakProcess
)

// System reports whether APCs of this type go to the system queue.
func (t APCType) System() bool { return t > APCTimer }

// APCCall is what the client runs.
type APCCall struct {
	Type APCType
	Func uint64
	Args [3]uint64
}

// APCResult is what the client reports back for a system APC.
type APCResult struct {
	Status errors.Status
	Value  uint64
}

// APC is a queued asynchronous procedure call. It is signaled once the
// client has run it.
type APC struct {
	Header
	thread   *Thread
	caller   *Thread
	Call     APCCall
	Result   APCResult
	executed bool
}

// Executed reports whether the client has run the call.
func (a *APC) Executed() bool { return a.executed }

func (a *APC) signaled(*Thread) bool  { return a.executed }
func (a *APC) satisfied(*Thread) bool { return false }

// QueueAPC adds a call to t's user or system queue. The thread is woken when
// the APC is the first in its queue. The queue holds the returned APC until
// it is dequeued.
func (k *Kernel) QueueAPC(caller, t *Thread, call APCCall) (*APC, error) {
	if call.Type == APCNone {
		return nil, errors.InvalidParameter(errors.PhaseObject, "apc without a type")
	}
	if t.terminated {
		return nil, errors.New(errors.PhaseObject, errors.KindThreadGone).Detail("%s", t).Build()
	}
	a := &APC{thread: t, caller: caller, Call: call}
	k.initHeader(&a.Header, KindAPC, "", nil)
	queue := &t.userAPC
	if call.Type.System() {
		queue = &t.systemAPC
	}
	*queue = append(*queue, a)
	if len(*queue) == 1 {
		if call.Type.System() && (t.wait == nil || !t.wait.interrupt) {
			// the thread has to be kicked into the server to fetch it
			k.hostCall(t, "stop", k.opts.Host.Stop)
		}
		k.wakeThread(t)
	}
	k.log().Debug("apc queued", zap.Uint32("tid", t.id), zap.Uint32("type", uint32(call.Type)))
	return a, nil
}

// DequeueAPC pops the next APC of t from the system or the user queue.
// The caller owns the reference and must finish it with CompleteAPC.
func (k *Kernel) DequeueAPC(t *Thread, system bool) *APC {
	queue := &t.userAPC
	if system {
		queue = &t.systemAPC
	}
	if len(*queue) == 0 {
		return nil
	}
	a := (*queue)[0]
	*queue = (*queue)[1:]
	return a
}

// CompleteAPC records the result of a dequeued APC, releases its waiters and
// drops the dequeue reference.
func (k *Kernel) CompleteAPC(a *APC, result APCResult) error {
	if a.executed {
		return nil
	}
	a.executed = true
	a.Result = result
	k.WakeUp(a, 0)
	return release(a)
}

// clearAPCs drops the queues of a dying thread.
func (k *Kernel) clearAPCs(t *Thread) {
	queued := append(t.userAPC, t.systemAPC...)
	t.userAPC, t.systemAPC = nil, nil
	for _, a := range queued {
		if err := k.CompleteAPC(a, APCResult{Status: errors.StatusThreadIsTerminating}); err != nil {
			k.log().Warn("apc teardown", zap.Error(err))
		}
	}
}
