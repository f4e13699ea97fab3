package client

import (
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/protocol"
)

// InitProcess registers the connection as the first thread of a new
// process.
func (c *Conn) InitProcess(pid, tid int, parent uint32, inherit bool) error {
	var rep protocol.InitProcessReply
	st, err := c.Call(&protocol.InitProcessRequest{
		UnixPID:  int32(pid),
		UnixTID:  int32(tid),
		ParentID: parent,
		Inherit:  inherit,
	}, &rep)
	if err := check(protocol.OpInitProcess, st, err); err != nil {
		return err
	}
	c.ProcessID, c.ThreadID, c.Instance = rep.ProcessID, rep.ThreadID, uuid.UUID(rep.InstanceID)
	return nil
}

// InitThread binds the connection to a thread created by NewThread. It
// reports whether the thread starts suspended.
func (c *Conn) InitThread(threadID uint32, tid int) (bool, error) {
	var rep protocol.InitThreadReply
	st, err := c.Call(&protocol.InitThreadRequest{ThreadID: threadID, UnixTID: int32(tid)}, &rep)
	if err := check(protocol.OpInitThread, st, err); err != nil {
		return false, err
	}
	c.ProcessID, c.ThreadID = rep.ProcessID, rep.ThreadID
	return rep.Suspended, nil
}

// NewThread creates a thread in the process behind process.
func (c *Conn) NewThread(process, access uint32, suspend bool) (id, h uint32, err error) {
	var rep protocol.NewThreadReply
	st, err := c.Call(&protocol.NewThreadRequest{Process: process, Access: access, Suspend: suspend}, &rep)
	if err := check(protocol.OpNewThread, st, err); err != nil {
		return 0, 0, err
	}
	return rep.ThreadID, rep.Handle, nil
}

// Terminate ends a thread or a process, op selecting which.
func (c *Conn) Terminate(op protocol.Opcode, h uint32, exitCode int32) (protocol.TerminateReply, error) {
	var rep protocol.TerminateReply
	st, err := c.Call(&protocol.TerminateRequest{Op: op, Handle: h, ExitCode: exitCode}, &rep)
	return rep, check(op, st, err)
}

// Count runs a single-handle request answering with a count: suspend,
// resume and the mutex release.
func (c *Conn) Count(op protocol.Opcode, h uint32) (uint32, error) {
	var rep protocol.CountReply
	st, err := c.Call(&protocol.HandleRequest{Op: op, Handle: h}, &rep)
	return rep.Count, check(op, st, err)
}

// CloseHandle closes h.
func (c *Conn) CloseHandle(h uint32) error {
	st, err := c.Call(&protocol.HandleRequest{Op: protocol.OpCloseHandle, Handle: h}, nil)
	return check(protocol.OpCloseHandle, st, err)
}

// DupHandle duplicates a handle between processes.
func (c *Conn) DupHandle(req protocol.DupHandleRequest) (uint32, error) {
	var rep protocol.HandleReply
	st, err := c.Call(&req, &rep)
	return rep.Handle, check(protocol.OpDupHandle, st, err)
}

// Open opens a thread or process by id.
func (c *Conn) Open(op protocol.Opcode, id, access uint32) (uint32, error) {
	var rep protocol.HandleReply
	st, err := c.Call(&protocol.OpenRequest{Op: op, ID: id, Access: access}, &rep)
	return rep.Handle, check(op, st, err)
}

// ThreadInfo queries a thread.
func (c *Conn) ThreadInfo(h uint32) (protocol.ThreadInfo, error) {
	var rep protocol.ThreadInfo
	st, err := c.Call(&protocol.HandleRequest{Op: protocol.OpGetThreadInfo, Handle: h}, &rep)
	return rep, check(protocol.OpGetThreadInfo, st, err)
}

// ProcessInfo queries a process.
func (c *Conn) ProcessInfo(h uint32) (protocol.ProcessInfo, error) {
	var rep protocol.ProcessInfo
	st, err := c.Call(&protocol.HandleRequest{Op: protocol.OpGetProcessInfo, Handle: h}, &rep)
	return rep, check(protocol.OpGetProcessInfo, st, err)
}

// GetContext reads the register groups of the thread behind h.
func (c *Conn) GetContext(h uint32, groups cpucontext.Group) (*cpucontext.Context, error) {
	var rep protocol.ContextReply
	st, err := c.Call(&protocol.ContextRequest{Op: protocol.OpGetThreadContext, Handle: h, Groups: uint32(groups)}, &rep)
	return rep.Context, check(protocol.OpGetThreadContext, st, err)
}

// SetContext writes the register groups of regs to the thread behind h.
func (c *Conn) SetContext(h uint32, regs *cpucontext.Context, groups cpucontext.Group) error {
	st, err := c.Call(&protocol.ContextRequest{
		Op: protocol.OpSetThreadContext, Handle: h, Groups: uint32(groups), Context: regs,
	}, nil)
	return check(protocol.OpSetThreadContext, st, err)
}

// CreateEvent creates an event with full access.
func (c *Conn) CreateEvent(name string, manual, initial bool) (uint32, error) {
	var rep protocol.HandleReply
	st, err := c.Call(&protocol.CreateEventRequest{
		Access: 0x001f0003, Manual: manual, Initial: initial, Name: name,
	}, &rep)
	return rep.Handle, check(protocol.OpCreateEvent, st, err)
}

// EventOp sets, resets or pulses an event and returns its previous state.
func (c *Conn) EventOp(h, op uint32) (bool, error) {
	var rep protocol.EventStateReply
	st, err := c.Call(&protocol.EventOpRequest{Handle: h, Op: op}, &rep)
	return rep.Signaled, check(protocol.OpEventOp, st, err)
}

// QueryEvent returns the state of an event.
func (c *Conn) QueryEvent(h uint32) (protocol.EventStateReply, error) {
	var rep protocol.EventStateReply
	st, err := c.Call(&protocol.HandleRequest{Op: protocol.OpQueryEvent, Handle: h}, &rep)
	return rep, check(protocol.OpQueryEvent, st, err)
}

// CreateMutex creates a mutex with full access.
func (c *Conn) CreateMutex(name string, owned bool) (uint32, error) {
	var rep protocol.HandleReply
	st, err := c.Call(&protocol.CreateMutexRequest{Access: 0x001f0001, Owned: owned, Name: name}, &rep)
	return rep.Handle, check(protocol.OpCreateMutex, st, err)
}

// CreateSemaphore creates a semaphore with full access.
func (c *Conn) CreateSemaphore(name string, initial, max uint32) (uint32, error) {
	var rep protocol.HandleReply
	st, err := c.Call(&protocol.CreateSemaphoreRequest{Access: 0x001f0003, Initial: initial, Max: max, Name: name}, &rep)
	return rep.Handle, check(protocol.OpCreateSemaphore, st, err)
}

// ReleaseSemaphore adds n to a semaphore and returns the previous count.
func (c *Conn) ReleaseSemaphore(h, n uint32) (uint32, error) {
	var rep protocol.CountReply
	st, err := c.Call(&protocol.ReleaseSemaphoreRequest{Handle: h, Count: n}, &rep)
	return rep.Count, check(protocol.OpReleaseSemaphore, st, err)
}

// Select waits on handles. A pending wait is completed by reading its wake
// message, so Select returns the final status either way. A negative
// timeout waits forever.
func (c *Conn) Select(handles []uint32, flags uint32, timeout time.Duration, cookie uint64) (errors.Status, error) {
	req := &protocol.SelectRequest{Flags: flags, Cookie: cookie, Timeout: protocol.TimeoutInfinite, Handles: handles}
	if timeout >= 0 {
		req.Timeout = int64(timeout)
	}
	st, err := c.Call(req, nil)
	if err != nil {
		return 0, err
	}
	if st != errors.StatusPending {
		return st, nil
	}
	wk, err := c.WaitWake()
	if err != nil {
		return 0, err
	}
	if wk.Cookie != cookie {
		return 0, errors.ProtocolError("wake cookie %#x, waiting on %#x", wk.Cookie, cookie)
	}
	return wk.Status, nil
}

// StartSelect sends a select without waiting for its wake message.
func (c *Conn) StartSelect(handles []uint32, flags uint32, cookie uint64) (errors.Status, error) {
	return c.Call(&protocol.SelectRequest{Flags: flags, Cookie: cookie, Timeout: protocol.TimeoutInfinite, Handles: handles}, nil)
}

// InprocSyncFd fetches the device descriptor of a fast event. The caller
// owns the returned descriptor.
func (c *Conn) InprocSyncFd(h uint32) (int, error) {
	st, fd, err := c.CallFd(&protocol.HandleRequest{Op: protocol.OpGetInprocSyncFd, Handle: h}, -1, nil)
	if err := check(protocol.OpGetInprocSyncFd, st, err); err != nil {
		protocol.CloseFd(fd)
		return -1, err
	}
	return fd, nil
}

// ListObjects returns the server's object summary.
func (c *Conn) ListObjects() (protocol.ListObjectsReply, error) {
	var rep protocol.ListObjectsReply
	st, err := c.Call(&protocol.ListObjectsRequest{}, &rep)
	return rep, check(protocol.OpListObjects, st, err)
}
