//go:build linux

package cpucontext

import (
	"context"
	stderrors "errors"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/wippyai/ntserver/errors"
)

// ptraceBackend reads and writes registers with ptrace. The kernel only
// accepts ptrace requests from the tracing thread, so every call runs on one
// locked OS thread.
type ptraceBackend struct {
	layout *Layout
	reqs   chan func()
	done   chan struct{}
	once   sync.Once
	closed sync.Once
}

func newPtraceBackend(opts Options) (Backend, error) {
	l, err := LayoutFor(ABILinux, opts.Machine)
	if err != nil {
		return nil, err
	}
	return &ptraceBackend{layout: l, reqs: make(chan func()), done: make(chan struct{})}, nil
}

func (p *ptraceBackend) Name() string { return KindPtrace }

func (p *ptraceBackend) Capabilities() Capabilities {
	reach := p.layout.Reachable()
	return Capabilities{
		Groups:     reach,
		DebugRead:  reach&GroupDebugRegisters != 0,
		DebugWrite: reach&GroupDebugRegisters != 0,
	}
}

func (p *ptraceBackend) Close() error {
	p.closed.Do(func() { close(p.done) })
	return nil
}

func (p *ptraceBackend) Get(ctx context.Context, t Target, regs *Context, groups Group) error {
	return p.exec(ctx, func() error {
		return p.stopped(t, func() error { return p.get(t.TID, regs, groups) })
	})
}

func (p *ptraceBackend) Set(ctx context.Context, t Target, regs *Context, groups Group) error {
	return p.exec(ctx, func() error {
		return p.stopped(t, func() error { return p.set(t.TID, regs, groups) })
	})
}

// exec runs fn on the tracer thread.
func (p *ptraceBackend) exec(ctx context.Context, fn func() error) error {
	p.once.Do(func() { go p.run() })
	if err := ctx.Err(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	select {
	case p.reqs <- func() { errc <- fn() }:
	case <-p.done:
		return errors.Unsuccessful(errors.PhaseContext, "ptrace backend closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

func (p *ptraceBackend) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		select {
		case fn := <-p.reqs:
			fn()
		case <-p.done:
			return
		}
	}
}

// stopped holds the thread in a ptrace stop while fn runs. A thread this
// process already holds trace-stopped is used as is; otherwise it is seized,
// interrupted and detached afterwards. Signals that reach the thread before
// the interrupt stop are handed back on detach.
func (p *ptraceBackend) stopped(t Target, fn func() error) error {
	if tracedByUs(t) {
		if err := fn(); err != nil {
			return hostError(t, "regs", err)
		}
		return nil
	}
	if err := ptrace(unix.PTRACE_SEIZE, t.TID, 0, 0); err != nil {
		return hostError(t, "seize", err)
	}
	if err := ptrace(unix.PTRACE_INTERRUPT, t.TID, 0, 0); err != nil {
		p.detach(t, nil)
		return hostError(t, "interrupt", err)
	}
	pending, err := waitInterrupt(t)
	if err != nil {
		p.detach(t, pending)
		return err
	}
	ferr := fn()
	p.detach(t, pending)
	if ferr != nil {
		return hostError(t, "regs", ferr)
	}
	return nil
}

// waitInterrupt waits for the PTRACE_EVENT_STOP of an interrupted tracee and
// returns the signals it stopped for on the way.
func waitInterrupt(t Target) ([]unix.Signal, error) {
	var pending []unix.Signal
	for {
		var ws unix.WaitStatus
		if _, err := unix.Wait4(t.TID, &ws, unix.WALL, nil); err != nil {
			if err == unix.EINTR {
				continue
			}
			return pending, hostError(t, "wait", err)
		}
		switch {
		case ws.Exited(), ws.Signaled():
			return pending, errors.ThreadGone(t.TID, nil)
		case !ws.Stopped():
			continue
		case int(ws>>16) == unix.PTRACE_EVENT_STOP:
			return pending, nil
		}
		pending = append(pending, ws.StopSignal())
		if err := ptrace(unix.PTRACE_CONT, t.TID, 0, 0); err != nil {
			return pending, hostError(t, "continue", err)
		}
	}
}

// detach releases the tracee, delivering the first held signal with the
// detach and re-raising the rest.
func (p *ptraceBackend) detach(t Target, pending []unix.Signal) {
	var sig unix.Signal
	if len(pending) > 0 {
		sig, pending = pending[0], pending[1:]
	}
	if err := ptrace(unix.PTRACE_DETACH, t.TID, 0, uintptr(sig)); err != nil {
		Logger().Debug("ptrace detach failed", zap.Stringer("target", t), zap.Error(err))
	}
	pid := t.PID
	if pid == 0 {
		pid = t.TID
	}
	for _, s := range pending {
		if err := unix.Tgkill(pid, t.TID, s); err != nil {
			Logger().Debug("signal redelivery failed", zap.Stringer("target", t),
				zap.Stringer("signal", s), zap.Error(err))
		}
	}
}

// tracedByUs reports whether this process already holds t in a trace stop.
func tracedByUs(t Target) bool {
	pid := t.PID
	if pid == 0 {
		pid = t.TID
	}
	return parseTraceStatus(procTaskStatus(pid, t.TID), os.Getpid())
}

func procTaskStatus(pid, tid int) []byte {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/task/" + strconv.Itoa(tid) + "/status")
	if err != nil {
		return nil
	}
	return b
}

// parseTraceStatus reports whether a /proc status file shows a tracing stop
// owned by tracer.
func parseTraceStatus(status []byte, tracer int) bool {
	var stopped, ours bool
	for _, line := range strings.Split(string(status), "\n") {
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch key {
		case "State":
			stopped = strings.HasPrefix(val, "t")
		case "TracerPid":
			n, err := strconv.Atoi(val)
			ours = err == nil && n == tracer
		}
	}
	return stopped && ours
}

func ptrace(req int, tid int, addr, data uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(req), uintptr(tid), addr, data, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (p *ptraceBackend) get(tid int, regs *Context, groups Group) error {
	for _, set := range p.layout.Sets(groups) {
		if set == SetUser {
			for _, ur := range p.layout.UserRegs(groups) {
				buf := make([]byte, ur.Size)
				if _, err := unix.PtracePeekUser(tid, uintptr(ur.Offset), buf); err != nil {
					return err
				}
				regs.regs[ur.Group][ur.Index] = p.layout.LoadWord(buf, ur.Size)
			}
			continue
		}
		buf, err := p.readSet(tid, set)
		if err != nil {
			return err
		}
		p.layout.Decode(set, buf, regs, groups)
	}
	p.layout.ZeroUnreachable(regs, groups)
	regs.Flags |= groups
	return nil
}

func (p *ptraceBackend) set(tid int, regs *Context, groups Group) error {
	for _, set := range p.layout.Sets(groups) {
		if set == SetUser {
			for _, ur := range p.layout.UserRegs(groups) {
				buf := make([]byte, ur.Size)
				p.layout.StoreWord(buf, ur.Size, regs.regs[ur.Group][ur.Index])
				if _, err := unix.PtracePokeUser(tid, uintptr(ur.Offset), buf); err != nil {
					return err
				}
			}
			continue
		}
		// read-modify-write keeps registers outside the request intact
		buf, err := p.readSet(tid, set)
		if err != nil {
			return err
		}
		p.layout.Encode(set, buf, regs, groups)
		if err := regset(unix.PTRACE_SETREGSET, tid, p.layout.Native[set], buf); err != nil {
			return err
		}
	}
	return nil
}

func (p *ptraceBackend) readSet(tid int, set RegSet) ([]byte, error) {
	buf := make([]byte, p.layout.Sizes[set])
	if err := regset(unix.PTRACE_GETREGSET, tid, p.layout.Native[set], buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func regset(req int, tid int, note uint32, buf []byte) error {
	if len(buf) == 0 {
		return unix.EINVAL
	}
	iov := unix.Iovec{Base: &buf[0]}
	iov.SetLen(len(buf))
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(req), uintptr(tid), uintptr(note),
		uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// hostError maps a ptrace errno to the error taxonomy.
func hostError(t Target, op string, err error) error {
	var errno unix.Errno
	if !stderrors.As(err, &errno) {
		return errors.Wrap(errors.PhaseHost, errors.KindUnsuccessful, err, "ptrace "+op)
	}
	switch errno {
	case unix.ESRCH, unix.ECHILD:
		return errors.ThreadGone(t.TID, err)
	case unix.EPERM, unix.EACCES:
		return errors.New(errors.PhaseHost, errors.KindAccessDenied).
			Cause(err).Detail("ptrace %s %s", op, t).Build()
	case unix.EIO, unix.EINVAL:
		return errors.New(errors.PhaseHost, errors.KindUnsupported).
			Cause(err).Detail("ptrace %s %s", op, t).Build()
	}
	return errors.Wrap(errors.PhaseHost, errors.KindUnsuccessful, err, "ptrace "+op)
}
