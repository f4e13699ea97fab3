package server

import (
	"time"

	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/protocol"
)

func (s *service) createEvent(c *Call) (protocol.Message, error) {
	var req protocol.CreateEventRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	h, _, err := s.k.CreateEvent(c.Process(), req.Name, req.Manual, req.Initial,
		kernel.MapAccess(kernel.KindEvent, req.Access), req.Attributes)
	if err != nil {
		return nil, err
	}
	return &protocol.HandleReply{Handle: uint32(h)}, nil
}

func (s *service) eventOp(c *Call) (protocol.Message, error) {
	var req protocol.EventOpRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	e, err := s.k.LookupEvent(c.Current, handle.Handle(req.Handle), kernel.EventModifyState)
	if err != nil {
		return nil, err
	}
	var prev bool
	switch req.Op {
	case protocol.EventSet:
		prev, err = s.k.SetEvent(e)
	case protocol.EventReset:
		prev, err = s.k.ResetEvent(e)
	case protocol.EventPulse:
		prev, err = s.k.PulseEvent(e)
	default:
		return nil, errors.InvalidParameter(errors.PhaseSync, "unknown event operation")
	}
	if err != nil {
		return nil, err
	}
	return &protocol.EventStateReply{Manual: e.Primitive().Manual(), Signaled: prev}, nil
}

func (s *service) queryEvent(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	e, err := s.k.LookupEvent(c.Current, handle.Handle(req.Handle), kernel.EventQueryState)
	if err != nil {
		return nil, err
	}
	info, err := s.k.QueryEvent(e)
	if err != nil {
		return nil, err
	}
	return &protocol.EventStateReply{Manual: info.Manual, Signaled: info.Signaled}, nil
}

func (s *service) createMutex(c *Call) (protocol.Message, error) {
	var req protocol.CreateMutexRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	h, _, err := s.k.CreateMutex(c.Current, req.Name, req.Owned,
		kernel.MapAccess(kernel.KindMutex, req.Access), req.Attributes)
	if err != nil {
		return nil, err
	}
	return &protocol.HandleReply{Handle: uint32(h)}, nil
}

func (s *service) releaseMutex(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	m, err := s.k.LookupMutex(c.Current, handle.Handle(req.Handle), 0)
	if err != nil {
		return nil, err
	}
	prev, err := s.k.ReleaseMutex(c.Current, m)
	if err != nil {
		return nil, err
	}
	return &protocol.CountReply{Count: prev}, nil
}

func (s *service) queryMutex(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	m, err := s.k.LookupMutex(c.Current, handle.Handle(req.Handle), kernel.MutantQueryState)
	if err != nil {
		return nil, err
	}
	info := s.k.QueryMutex(c.Current, m)
	return &protocol.MutexStateReply{Count: info.Count, Owned: info.Owned, Abandoned: info.Abandoned}, nil
}

func (s *service) createSemaphore(c *Call) (protocol.Message, error) {
	var req protocol.CreateSemaphoreRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	h, _, err := s.k.CreateSemaphore(c.Process(), req.Name, req.Initial, req.Max,
		kernel.MapAccess(kernel.KindSemaphore, req.Access), req.Attributes)
	if err != nil {
		return nil, err
	}
	return &protocol.HandleReply{Handle: uint32(h)}, nil
}

func (s *service) releaseSemaphore(c *Call) (protocol.Message, error) {
	var req protocol.ReleaseSemaphoreRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	sem, err := s.k.LookupSemaphore(c.Current, handle.Handle(req.Handle), kernel.SemaphoreModifyState)
	if err != nil {
		return nil, err
	}
	prev, err := s.k.ReleaseSemaphore(sem, req.Count)
	if err != nil {
		return nil, err
	}
	return &protocol.CountReply{Count: prev}, nil
}

func (s *service) querySemaphore(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	sem, err := s.k.LookupSemaphore(c.Current, handle.Handle(req.Handle), kernel.SemaphoreQueryState)
	if err != nil {
		return nil, err
	}
	return &protocol.SemaphoreStateReply{Count: sem.Count(), Max: sem.Max()}, nil
}

// selectHandles starts a wait. A wait that cannot finish now replies
// STATUS_PENDING and completes later with a wake message.
func (s *service) selectHandles(c *Call) (protocol.Message, error) {
	var req protocol.SelectRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	wr := kernel.WaitRequest{
		All:           req.Flags&protocol.SelectAll != 0,
		Alertable:     req.Flags&protocol.SelectAlertable != 0,
		Interruptible: req.Flags&protocol.SelectInterruptible != 0,
		Timeout:       kernel.Infinite,
		Cookie:        req.Cookie,
		Signal:        handle.Handle(req.Signal),
	}
	if req.Timeout != protocol.TimeoutInfinite {
		if req.Timeout < 0 {
			return nil, errors.InvalidParameter(errors.PhaseSync, "negative timeout")
		}
		wr.Timeout = time.Duration(req.Timeout)
	}
	wr.Handles = make([]handle.Handle, len(req.Handles))
	for i, h := range req.Handles {
		wr.Handles[i] = handle.Handle(h)
	}
	status, err := s.k.SelectHandles(c.Current, wr)
	if err != nil {
		return nil, err
	}
	c.Status = status
	return nil, nil
}

func (s *service) queueAPC(c *Call) (protocol.Message, error) {
	var req protocol.QueueAPCRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	t, err := s.k.LookupThread(c.Current, handle.Handle(req.Thread), kernel.ThreadSetContext)
	if err != nil {
		return nil, err
	}
	a, err := s.k.QueueAPC(c.Current, t, kernel.APCCall{Type: kernel.APCType(req.Type), Func: req.Func, Args: req.Args})
	if err != nil {
		return nil, err
	}
	if !a.Call.Type.System() {
		return &protocol.HandleReply{}, nil
	}
	// the caller waits on this handle for the result
	h, err := s.k.AllocHandle(c.Process(), a, kernel.FullAccess(kernel.KindAPC), 0)
	if err != nil {
		return nil, err
	}
	return &protocol.HandleReply{Handle: uint32(h)}, nil
}

func (s *service) getAPC(c *Call) (protocol.Message, error) {
	var req protocol.GetAPCRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	if req.Prev != 0 {
		obj, err := s.k.Lookup(c.Current, handle.Handle(req.Prev), kernel.KindAPC, 0)
		if err != nil {
			return nil, err
		}
		result := kernel.APCResult{Status: errors.Status(req.PrevStatus), Value: req.PrevValue}
		if err := s.k.CompleteAPC(obj.(*kernel.APC), result); err != nil {
			return nil, err
		}
		if err := s.k.CloseHandle(c.Process(), handle.Handle(req.Prev)); err != nil {
			return nil, err
		}
	}

	a := s.k.DequeueAPC(c.Current, req.System)
	if a == nil {
		return &protocol.APCReply{}, nil
	}
	rep := &protocol.APCReply{Type: uint32(a.Call.Type), Func: a.Call.Func, Args: a.Call.Args}
	if !a.Call.Type.System() {
		return rep, s.k.CompleteAPC(a, kernel.APCResult{})
	}
	h, err := s.k.AllocHandle(c.Process(), a, kernel.FullAccess(kernel.KindAPC), 0)
	if err != nil {
		_ = s.k.CompleteAPC(a, kernel.APCResult{Status: errors.StatusInsufficientResources})
		return nil, err
	}
	rep.Handle = uint32(h)
	return rep, nil
}

// getInprocSyncFd hands the client the device descriptor of a fast event
// so it can wait without a round trip.
func (s *service) getInprocSyncFd(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	e, err := s.k.LookupEvent(c.Current, handle.Handle(req.Handle), kernel.AccessSynchronize)
	if err != nil {
		return nil, err
	}
	fd := e.Primitive().Fd()
	if fd < 0 {
		return nil, errors.Unsupported(errors.PhaseSync, "event has no device descriptor")
	}
	c.ReplyFd = fd
	return &protocol.EventStateReply{Manual: e.Primitive().Manual()}, nil
}
