package server

import (
	"bytes"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/protocol"
)

// conn is one client connection. Its reader goroutine only reads; every
// other field belongs to the loop.
type conn struct {
	s      *Server
	nc     *net.UnixConn
	pid    int
	thread *kernel.Thread
	closed bool
}

func newConn(s *Server, nc *net.UnixConn) *conn {
	return &conn{s: s, nc: nc, pid: peerPID(nc)}
}

func (c *conn) Thread() *kernel.Thread { return c.thread }

func (c *conn) PeerPID() int { return c.pid }

func (c *conn) Attach(t *kernel.Thread) error {
	if c.thread != nil {
		return errors.InvalidParameter(errors.PhaseDispatch, "connection already bound")
	}
	if other := c.s.byThread[t]; other != nil && !other.closed {
		return errors.InvalidParameter(errors.PhaseDispatch, "thread already has a connection")
	}
	c.thread = t
	c.s.byThread[t] = c
	return nil
}

// read forwards requests to the loop until the connection fails.
func (c *conn) read(l protocol.Layout, maxLen int) {
	defer c.s.readers.Done()
	r := protocol.NewRightsReader(c.nc)
	for {
		req, err := protocol.ReadRequest(r, l, maxLen)
		if err != nil {
			r.CloseAll()
			c.s.post(closedEvent{c: c, err: err})
			return
		}
		req.Fd = r.Take()
		if !c.s.post(requestEvent{c: c, req: req}) {
			protocol.CloseFd(req.Fd)
			r.CloseAll()
			return
		}
	}
}

func (c *conn) reply(rep *protocol.Reply) {
	var buf bytes.Buffer
	if err := protocol.WriteReply(&buf, c.s.opts.Layout, rep); err != nil {
		c.fail("reply", err)
		return
	}
	c.write(buf.Bytes(), protocol.Rights(rep.Fd))
}

func (c *conn) wake(wk protocol.Wake) {
	var buf bytes.Buffer
	if err := protocol.WriteWake(&buf, wk); err != nil {
		c.fail("wake", err)
		return
	}
	c.write(buf.Bytes(), nil)
}

func (c *conn) write(b, oob []byte) {
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.s.opts.WriteTimeout)); err != nil {
		c.fail("deadline", err)
		return
	}
	if _, _, err := c.nc.WriteMsgUnix(b, oob, nil); err != nil {
		c.fail("write", err)
	}
}

// fail shuts the socket down. The reader then reports the disconnect and
// the loop drops the connection; dropping it here could reenter the kernel.
func (c *conn) fail(op string, err error) {
	c.s.log.Debug("client write failed", zap.String("op", op),
		zap.String("thread", threadTag(c.thread)), zap.Error(err))
	c.nc.Close()
}
