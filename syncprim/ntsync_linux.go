//go:build linux

package syncprim

import (
	stderrors "errors"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wippyai/ntserver/errors"
)

// ntsync ioctl numbers, magic 'N'.
const (
	ntsyncCreateEvent = 0x40084e87 // _IOW('N', 0x87, struct ntsync_event_args)
	ntsyncEventSet    = 0x80044e88 // _IOR('N', 0x88, __u32)
	ntsyncEventReset  = 0x80044e89 // _IOR('N', 0x89, __u32)
	ntsyncEventPulse  = 0x80044e8a // _IOR('N', 0x8a, __u32)
	ntsyncEventRead   = 0x80084e8d // _IOR('N', 0x8d, struct ntsync_event_args)
)

type ntsyncEventArgs struct {
	signaled uint32
	manual   uint32
}

type ntsyncDevice struct {
	fd     int
	closed sync.Once
}

// OpenNtsync opens the ntsync character device at path.
func OpenNtsync(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, deviceError("open "+path, err)
	}
	return &ntsyncDevice{fd: fd}, nil
}

func (d *ntsyncDevice) CreateEvent(manual, signaled bool) (Descriptor, error) {
	args := ntsyncEventArgs{signaled: b2u(signaled), manual: b2u(manual)}
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), ntsyncCreateEvent, uintptr(unsafe.Pointer(&args)))
	if errno != 0 {
		return nil, deviceError("create event", errno)
	}
	return &ntsyncEvent{fd: int(r)}, nil
}

func (d *ntsyncDevice) Close() error {
	var err error
	d.closed.Do(func() { err = unix.Close(d.fd) })
	return err
}

type ntsyncEvent struct {
	fd int
}

func (e *ntsyncEvent) change(req uintptr) (bool, error) {
	var prev uint32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(e.fd), req, uintptr(unsafe.Pointer(&prev)))
	if errno != 0 {
		return false, deviceError("event ioctl", errno)
	}
	return prev != 0, nil
}

func (e *ntsyncEvent) Set() (bool, error)   { return e.change(ntsyncEventSet) }
func (e *ntsyncEvent) Reset() (bool, error) { return e.change(ntsyncEventReset) }
func (e *ntsyncEvent) Pulse() (bool, error) { return e.change(ntsyncEventPulse) }

func (e *ntsyncEvent) Read() (bool, bool, error) {
	var args ntsyncEventArgs
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(e.fd), ntsyncEventRead, uintptr(unsafe.Pointer(&args)))
	if errno != 0 {
		return false, false, deviceError("event read", errno)
	}
	return args.signaled != 0, args.manual != 0, nil
}

func (e *ntsyncEvent) Fd() int      { return e.fd }
func (e *ntsyncEvent) Close() error { return unix.Close(e.fd) }

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func deviceError(op string, err error) error {
	var errno unix.Errno
	if stderrors.As(err, &errno) {
		switch errno {
		case unix.ENOENT, unix.ENODEV, unix.ENOTTY:
			return errors.Wrap(errors.PhaseSync, errors.KindUnsupported, err, "ntsync "+op)
		case unix.EACCES, unix.EPERM:
			return errors.Wrap(errors.PhaseSync, errors.KindAccessDenied, err, "ntsync "+op)
		}
	}
	return errors.ResourceExhausted(errors.PhaseSync, "ntsync "+op, err)
}
