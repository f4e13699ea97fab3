package protocol

import (
	"net"

	"golang.org/x/sys/unix"
)

// RightsReader reads a unix stream and keeps the descriptors passed along
// with it, in arrival order.
type RightsReader struct {
	nc  *net.UnixConn
	oob []byte
	fds []int
}

// NewRightsReader wraps nc.
func NewRightsReader(nc *net.UnixConn) *RightsReader {
	return &RightsReader{nc: nc, oob: make([]byte, unix.CmsgSpace(4*4))}
}

func (r *RightsReader) Read(p []byte) (int, error) {
	n, oobn, _, _, err := r.nc.ReadMsgUnix(p, r.oob)
	if oobn > 0 {
		r.fds = append(r.fds, ParseRights(r.oob[:oobn])...)
	}
	return n, err
}

// Take returns the first collected descriptor, or -1, and closes the rest.
func (r *RightsReader) Take() int {
	if len(r.fds) == 0 {
		return -1
	}
	fd := r.fds[0]
	for _, extra := range r.fds[1:] {
		CloseFd(extra)
	}
	r.fds = r.fds[:0]
	return fd
}

// CloseAll closes every collected descriptor.
func (r *RightsReader) CloseAll() {
	for _, fd := range r.fds {
		CloseFd(fd)
	}
	r.fds = nil
}

// ParseRights extracts the descriptors of SCM_RIGHTS control messages.
func ParseRights(b []byte) []int {
	msgs, err := unix.ParseSocketControlMessage(b)
	if err != nil {
		return nil
	}
	var fds []int
	for i := range msgs {
		got, err := unix.ParseUnixRights(&msgs[i])
		if err == nil {
			fds = append(fds, got...)
		}
	}
	return fds
}

// Rights encodes fd as an SCM_RIGHTS control message, nil for fd < 0.
func Rights(fd int) []byte {
	if fd < 0 {
		return nil
	}
	return unix.UnixRights(fd)
}

// CloseFd closes fd when it is a descriptor.
func CloseFd(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
