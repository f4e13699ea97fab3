package server

import (
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/protocol"
)

// service holds the request handlers and what they share.
type service struct {
	k        *kernel.Kernel
	instance uuid.UUID
	machine  cpucontext.Machine
	log      *zap.Logger
}

// register installs every handler on d.
func (s *service) register(d *Dispatcher) error {
	bound := []struct {
		op      protocol.Opcode
		minSize int
		fn      HandlerFunc
	}{
		{protocol.OpNewThread, 0, s.newThread},
		{protocol.OpTerminateThread, 0, s.terminateThread},
		{protocol.OpTerminateProcess, 0, s.terminateProcess},
		{protocol.OpSuspendThread, 0, s.suspendThread},
		{protocol.OpResumeThread, 0, s.resumeThread},
		{protocol.OpSuspendProcess, 0, s.suspendProcess},
		{protocol.OpResumeProcess, 0, s.resumeProcess},
		{protocol.OpCloseHandle, 0, s.closeHandle},
		{protocol.OpDupHandle, 0, s.dupHandle},
		{protocol.OpSetHandleInfo, 0, s.setHandleInfo},
		{protocol.OpOpenThread, 0, s.openThread},
		{protocol.OpOpenProcess, 0, s.openProcess},
		{protocol.OpGetThreadInfo, 0, s.getThreadInfo},
		{protocol.OpSetThreadInfo, 0, s.setThreadInfo},
		{protocol.OpGetProcessInfo, 0, s.getProcessInfo},
		{protocol.OpSetProcessInfo, 0, s.setProcessInfo},
		{protocol.OpGetThreadContext, 0, s.getThreadContext},
		{protocol.OpSetThreadContext, protocol.ContextHeaderSize, s.setThreadContext},
		{protocol.OpQueueExceptionEvent, protocol.ContextHeaderSize, s.queueExceptionEvent},
		{protocol.OpContinueDebugEvent, 0, s.continueDebugEvent},
		{protocol.OpCreateEvent, 0, s.createEvent},
		{protocol.OpEventOp, 0, s.eventOp},
		{protocol.OpQueryEvent, 0, s.queryEvent},
		{protocol.OpCreateMutex, 0, s.createMutex},
		{protocol.OpReleaseMutex, 0, s.releaseMutex},
		{protocol.OpQueryMutex, 0, s.queryMutex},
		{protocol.OpCreateSemaphore, 0, s.createSemaphore},
		{protocol.OpReleaseSemaphore, 0, s.releaseSemaphore},
		{protocol.OpQuerySemaphore, 0, s.querySemaphore},
		{protocol.OpSelect, 0, s.selectHandles},
		{protocol.OpQueueAPC, 0, s.queueAPC},
		{protocol.OpGetAPC, 0, s.getAPC},
		{protocol.OpGetInprocSyncFd, 0, s.getInprocSyncFd},
		{protocol.OpListObjects, 0, s.listObjects},
	}
	err := multierr.Combine(
		d.RegisterUnbound(protocol.OpInitProcess, 0, s.initProcess),
		d.RegisterUnbound(protocol.OpInitThread, 0, s.initThread),
	)
	for _, r := range bound {
		err = multierr.Append(err, d.Register(r.op, r.minSize, r.fn))
	}
	return err
}

func (s *service) initProcess(c *Call) (protocol.Message, error) {
	var req protocol.InitProcessRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	if req.Machine != 0 && cpucontext.Machine(req.Machine) != s.machine {
		return nil, errors.Unsupported(errors.PhaseDispatch, "client machine "+cpucontext.Machine(req.Machine).String())
	}
	pid := int(req.UnixPID)
	if pid == 0 {
		pid = c.Peer.PeerPID()
	}
	var parent *kernel.Process
	if req.ParentID != 0 {
		p, err := s.k.ProcessByID(req.ParentID)
		if err != nil {
			return nil, err
		}
		parent = p
	}
	p, err := s.k.CreateProcess(parent, cpucontext.Target{PID: pid}, req.Inherit && parent != nil)
	if err != nil {
		return nil, err
	}
	t, err := s.k.CreateThread(p, cpucontext.Target{PID: pid, TID: int(req.UnixTID)})
	if err != nil {
		s.k.TerminateProcess(p, nil, 1)
		return nil, err
	}
	if err := c.Peer.Attach(t); err != nil {
		s.k.KillThread(t, 1, false)
		return nil, err
	}
	c.Current = t
	s.log.Info("process started", zap.Uint32("pid", p.ID()), zap.Uint32("tid", t.ID()),
		zap.Int("unix_pid", pid), zap.Uint32("parent", req.ParentID))
	return &protocol.InitProcessReply{
		ProcessID:  p.ID(),
		ThreadID:   t.ID(),
		Machine:    uint16(s.machine),
		InstanceID: [16]byte(s.instance),
	}, nil
}

func (s *service) initThread(c *Call) (protocol.Message, error) {
	var req protocol.InitThreadRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	t, err := s.k.ThreadByID(req.ThreadID)
	if err != nil {
		return nil, err
	}
	target := cpucontext.Target{PID: t.Process().Target().PID, TID: int(req.UnixTID)}
	if err := s.k.AttachHost(t, target); err != nil {
		return nil, err
	}
	if err := c.Peer.Attach(t); err != nil {
		return nil, err
	}
	c.Current = t
	return &protocol.InitThreadReply{
		ProcessID: t.Process().ID(),
		ThreadID:  t.ID(),
		Suspended: t.Suspended(),
	}, nil
}

func (s *service) newThread(c *Call) (protocol.Message, error) {
	var req protocol.NewThreadRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	p, err := s.k.LookupProcess(c.Current, handle.Handle(req.Process), kernel.ProcessCreateThread)
	if err != nil {
		return nil, err
	}
	t, err := s.k.CreateThread(p, cpucontext.Target{PID: p.Target().PID})
	if err != nil {
		return nil, err
	}
	if req.Suspend {
		if _, err := s.k.SuspendThread(t); err != nil {
			s.k.KillThread(t, 1, false)
			return nil, err
		}
	}
	h, err := s.k.AllocHandle(c.Process(), t, kernel.MapAccess(kernel.KindThread, req.Access), req.Attributes)
	if err != nil {
		s.k.KillThread(t, 1, false)
		return nil, err
	}
	return &protocol.NewThreadReply{ThreadID: t.ID(), Handle: uint32(h)}, nil
}

func (s *service) terminateThread(c *Call) (protocol.Message, error) {
	var req protocol.TerminateRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	t, err := s.k.LookupThread(c.Current, handle.Handle(req.Handle), kernel.ThreadTerminate)
	if err != nil {
		return nil, err
	}
	self := t == c.Current
	p := t.Process()
	s.k.KillThread(t, req.ExitCode, !self)
	return &protocol.TerminateReply{Self: self, Last: p.Terminated()}, nil
}

func (s *service) terminateProcess(c *Call) (protocol.Message, error) {
	var req protocol.TerminateRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	p, err := s.k.LookupProcess(c.Current, handle.Handle(req.Handle), kernel.ProcessTerminate)
	if err != nil {
		return nil, err
	}
	var skip *kernel.Thread
	self := p == c.Process()
	if self {
		// the caller exits on its own once it has the reply
		skip = c.Current
	}
	s.k.TerminateProcess(p, skip, req.ExitCode)
	return &protocol.TerminateReply{Self: self, Last: p.Terminated() || len(p.Threads()) <= 1}, nil
}

func (s *service) suspendThread(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	t, err := s.k.LookupThread(c.Current, handle.Handle(req.Handle), kernel.ThreadSuspendResume)
	if err != nil {
		return nil, err
	}
	prev, err := s.k.SuspendThread(t)
	if err != nil {
		return nil, err
	}
	return &protocol.CountReply{Count: uint32(prev)}, nil
}

func (s *service) resumeThread(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	t, err := s.k.LookupThread(c.Current, handle.Handle(req.Handle), kernel.ThreadSuspendResume)
	if err != nil {
		return nil, err
	}
	return &protocol.CountReply{Count: uint32(s.k.ResumeThread(t))}, nil
}

func (s *service) suspendProcess(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	p, err := s.k.LookupProcess(c.Current, handle.Handle(req.Handle), kernel.ProcessSuspendResume)
	if err != nil {
		return nil, err
	}
	return &protocol.CountReply{Count: uint32(s.k.SuspendProcess(p))}, nil
}

func (s *service) resumeProcess(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	p, err := s.k.LookupProcess(c.Current, handle.Handle(req.Handle), kernel.ProcessSuspendResume)
	if err != nil {
		return nil, err
	}
	return &protocol.CountReply{Count: uint32(s.k.ResumeProcess(p))}, nil
}

func (s *service) closeHandle(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	return nil, s.k.CloseHandle(c.Process(), handle.Handle(req.Handle))
}

func (s *service) dupHandle(c *Call) (protocol.Message, error) {
	var req protocol.DupHandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	src, err := s.k.LookupProcess(c.Current, handle.Handle(req.SrcProcess), kernel.ProcessDupHandle)
	if err != nil {
		return nil, err
	}
	var dst *kernel.Process
	if req.DstProcess != 0 {
		dst, err = s.k.LookupProcess(c.Current, handle.Handle(req.DstProcess), kernel.ProcessDupHandle)
		if err != nil {
			if req.Options&kernel.DuplicateCloseSource != 0 {
				if cerr := s.k.CloseHandle(src, handle.Handle(req.SrcHandle)); cerr != nil {
					s.log.Debug("dup_handle source close", zap.Error(cerr))
				}
			}
			return nil, err
		}
	}
	h, err := s.k.DuplicateHandle(c.Current, src, handle.Handle(req.SrcHandle), dst,
		handle.Handle(req.DstHint), req.Access, req.Attributes, req.Options)
	if err != nil {
		return nil, err
	}
	return &protocol.HandleReply{Handle: uint32(h)}, nil
}

func (s *service) setHandleInfo(c *Call) (protocol.Message, error) {
	var req protocol.SetHandleInfoRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	return nil, s.k.SetHandleInherit(c.Process(), handle.Handle(req.Handle), req.Inherit)
}

func (s *service) openThread(c *Call) (protocol.Message, error) {
	var req protocol.OpenRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	t, err := s.k.ThreadByID(req.ID)
	if err != nil {
		return nil, err
	}
	h, err := s.k.AllocHandle(c.Process(), t, kernel.MapAccess(kernel.KindThread, req.Access), req.Attributes)
	if err != nil {
		return nil, err
	}
	return &protocol.HandleReply{Handle: uint32(h)}, nil
}

func (s *service) openProcess(c *Call) (protocol.Message, error) {
	var req protocol.OpenRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	p, err := s.k.ProcessByID(req.ID)
	if err != nil {
		return nil, err
	}
	h, err := s.k.AllocHandle(c.Process(), p, kernel.MapAccess(kernel.KindProcess, req.Access), req.Attributes)
	if err != nil {
		return nil, err
	}
	return &protocol.HandleReply{Handle: uint32(h)}, nil
}

func (s *service) getThreadInfo(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	t, err := s.k.LookupThread(c.Current, handle.Handle(req.Handle), kernel.ThreadQueryLimitedInformation)
	if err != nil {
		return nil, err
	}
	return &protocol.ThreadInfo{
		ProcessID:    t.Process().ID(),
		ThreadID:     t.ID(),
		ExitCode:     t.ExitCode(),
		Priority:     t.Priority(),
		Affinity:     t.Affinity(),
		SuspendCount: uint32(t.SuspendCount()),
		State:        uint32(t.State()),
		LastError:    t.LastError(),
		UnixTID:      int32(t.Target().TID),
		Description:  t.Description,
	}, nil
}

func (s *service) setThreadInfo(c *Call) (protocol.Message, error) {
	var req protocol.SetInfoRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	t, err := s.k.LookupThread(c.Current, handle.Handle(req.Handle), kernel.ThreadSetLimitedInformation)
	if err != nil {
		return nil, err
	}
	if req.Mask&protocol.SetInfoAffinity != 0 {
		if err := t.SetAffinity(req.Affinity); err != nil {
			return nil, err
		}
	}
	if req.Mask&protocol.SetInfoPriority != 0 {
		t.SetPriority(req.Priority)
	}
	if req.Mask&protocol.SetInfoDescription != 0 {
		t.Description = req.Description
	}
	return nil, nil
}

func (s *service) getProcessInfo(c *Call) (protocol.Message, error) {
	var req protocol.HandleRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	p, err := s.k.LookupProcess(c.Current, handle.Handle(req.Handle), kernel.ProcessQueryLimitedInformation)
	if err != nil {
		return nil, err
	}
	return &protocol.ProcessInfo{
		ProcessID:    p.ID(),
		ParentID:     p.ParentID(),
		ExitCode:     p.ExitCode(),
		Priority:     p.Priority(),
		Affinity:     p.Affinity(),
		Threads:      uint32(len(p.Threads())),
		Handles:      uint32(p.Handles()),
		SuspendCount: uint32(p.SuspendCount()),
		Terminated:   p.Terminated(),
		UnixPID:      int32(p.Target().PID),
	}, nil
}

func (s *service) setProcessInfo(c *Call) (protocol.Message, error) {
	var req protocol.SetInfoRequest
	if err := c.Request.Decode(&req); err != nil {
		return nil, err
	}
	p, err := s.k.LookupProcess(c.Current, handle.Handle(req.Handle), kernel.ProcessSetInformation)
	if err != nil {
		return nil, err
	}
	if req.Mask&protocol.SetInfoDescription != 0 {
		return nil, errors.InvalidParameter(errors.PhaseObject, "processes have no description")
	}
	if req.Mask&protocol.SetInfoAffinity != 0 {
		if err := p.SetAffinity(req.Affinity); err != nil {
			return nil, err
		}
	}
	if req.Mask&protocol.SetInfoPriority != 0 {
		p.SetPriority(req.Priority)
	}
	return nil, nil
}

func (s *service) listObjects(c *Call) (protocol.Message, error) {
	var rep protocol.ListObjectsReply
	for _, kind := range kernel.Kinds() {
		rep.Objects = append(rep.Objects, protocol.ObjectCount{Kind: uint32(kind), Live: uint32(s.k.Live(kind))})
	}
	for _, p := range s.k.Processes() {
		rep.Processes = append(rep.Processes, protocol.ProcessEntry{
			ProcessID: p.ID(),
			UnixPID:   int32(p.Target().PID),
			Threads:   uint32(len(p.Threads())),
			Handles:   uint32(p.Handles()),
		})
	}
	return &rep, nil
}
