package server

import (
	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/protocol"
)

func (s *service) getThreadContext(c *Call) (protocol.Message, error) {
	var req protocol.ContextRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	t, err := s.k.LookupThread(c.Current, handle.Handle(req.Handle), kernel.ThreadGetContext)
	if err != nil {
		return nil, err
	}
	regs, err := s.k.GetThreadContext(c.Ctx, c.Current, t, cpucontext.Group(req.Groups))
	if err != nil {
		return nil, err
	}
	return &protocol.ContextReply{Context: regs}, nil
}

func (s *service) setThreadContext(c *Call) (protocol.Message, error) {
	var req protocol.ContextRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	if req.Context == nil {
		return nil, errors.InvalidParameter(errors.PhaseContext, "no context")
	}
	t, err := s.k.LookupThread(c.Current, handle.Handle(req.Handle), kernel.ThreadSetContext)
	if err != nil {
		return nil, err
	}
	groups := cpucontext.Group(req.Groups) & req.Context.Flags
	return nil, s.k.SetThreadContext(c.Ctx, c.Current, t, req.Context, groups)
}

// queueExceptionEvent parks the caller in a debug event. The client then
// waits in select until a debugger continues it.
func (s *service) queueExceptionEvent(c *Call) (protocol.Message, error) {
	var req protocol.ExceptionEventRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	if req.Context == nil {
		return nil, errors.InvalidParameter(errors.PhaseContext, "no context")
	}
	return nil, s.k.QueueExceptionEvent(c.Current, req.Context)
}

func (s *service) continueDebugEvent(c *Call) (protocol.Message, error) {
	var req protocol.ContinueDebugEventRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	t, err := s.k.ThreadByID(req.ThreadID)
	if err != nil {
		return nil, err
	}
	return nil, s.k.ContinueDebugEvent(c.Ctx, t)
}
