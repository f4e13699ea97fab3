// Package client speaks the server protocol from the client side. It backs
// the console and the end-to-end tests; a real client runtime would embed
// the same framing.
package client

import (
	"bytes"
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/protocol"
)

// DefaultReplySize is the reply data a call accepts unless told otherwise.
const DefaultReplySize = 64 << 10

// Conn is one client thread's connection. Calls are serialized.
type Conn struct {
	mu     sync.Mutex
	nc     *net.UnixConn
	rr     *protocol.RightsReader
	layout protocol.Layout

	// ProcessID and ThreadID are set by InitProcess and InitThread.
	ProcessID uint32
	ThreadID  uint32
	// Instance is the server instance id returned by InitProcess.
	Instance uuid.UUID
}

// Dial connects to the server socket at path.
func Dial(ctx context.Context, path string, l protocol.Layout) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDispatch, errors.KindUnsuccessful, err, "dial "+path)
	}
	nc := c.(*net.UnixConn)
	return &Conn{nc: nc, rr: protocol.NewRightsReader(nc), layout: l}, nil
}

// Layout returns the wire layout of the connection.
func (c *Conn) Layout() protocol.Layout {
	return c.layout
}

// Close drops the connection. The server kills the bound thread.
func (c *Conn) Close() error {
	c.rr.CloseAll()
	return c.nc.Close()
}

// Call sends req and decodes the reply into reply, which may be nil. It
// returns the reply status; the error covers transport and decoding
// failures only.
func (c *Conn) Call(req protocol.RequestMessage, reply protocol.Message) (errors.Status, error) {
	st, fd, err := c.CallFd(req, -1, reply)
	protocol.CloseFd(fd)
	return st, err
}

// CallFd is Call with a descriptor sent along with the request, -1 for
// none. The descriptor passed with the reply is returned, -1 for none; the
// caller owns it.
func (c *Conn) CallFd(req protocol.RequestMessage, fd int, reply protocol.Message) (errors.Status, int, error) {
	r, err := protocol.NewRequest(c.layout, req, DefaultReplySize)
	if err != nil {
		return 0, -1, err
	}
	r.Fd = fd
	rep, err := c.Raw(r)
	if err != nil {
		return 0, -1, err
	}
	if reply != nil && !rep.Status.IsError() {
		if err := rep.Decode(reply); err != nil {
			protocol.CloseFd(rep.Fd)
			return rep.Status, -1, err
		}
	}
	return rep.Status, rep.Fd, nil
}

// Raw sends an already framed request and reads the reply.
func (c *Conn) Raw(req *protocol.Request) (*protocol.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf bytes.Buffer
	if err := protocol.WriteRequest(&buf, c.layout, req); err != nil {
		return nil, err
	}
	if _, _, err := c.nc.WriteMsgUnix(buf.Bytes(), protocol.Rights(req.Fd), nil); err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindUnsuccessful, err, "send "+req.Op.String())
	}
	rep, err := protocol.ReadReply(c.rr, c.layout, DefaultReplySize)
	if err != nil {
		return nil, err
	}
	rep.Fd = c.rr.Take()
	return rep, nil
}

// WaitWake reads the wake message completing a pending select.
func (c *Conn) WaitWake() (protocol.Wake, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.ReadWake(c.rr)
}

// SetDeadline bounds the reads and writes of the connection.
func (c *Conn) SetDeadline(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		return c.nc.SetDeadline(dl)
	}
	return nil
}

// check turns an error status into an error.
func check(op protocol.Opcode, st errors.Status, err error) error {
	if err != nil {
		return err
	}
	if st.IsError() {
		return errors.New(errors.PhaseDispatch, errors.KindUnsuccessful).
			Object(op.String()).Code(st).Detail("%s", st).Build()
	}
	return nil
}
