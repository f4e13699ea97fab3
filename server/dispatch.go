package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/protocol"
)

// Peer is the connection a request arrived on.
type Peer interface {
	// Thread returns the thread bound to the connection, nil before
	// init_process or init_thread.
	Thread() *kernel.Thread
	// Attach binds the connection to t.
	Attach(t *kernel.Thread) error
	// PeerPID is the host pid reported by the socket, 0 when unknown.
	PeerPID() int
}

// Call is one request being dispatched.
type Call struct {
	Ctx context.Context
	// Current is the thread that sent the request. It is nil only for the
	// requests that create a thread binding.
	Current *kernel.Thread
	Peer    Peer
	Request *protocol.Request

	// Status is the reply status when the handler returns no error.
	Status errors.Status
	// ReplyFd is a descriptor sent with the reply, -1 for none.
	ReplyFd int
}

// Process returns the caller's process.
func (c *Call) Process() *kernel.Process {
	return c.Current.Process()
}

// HandlerFunc serves one opcode. The returned message, which may be nil,
// becomes the reply payload.
type HandlerFunc func(c *Call) (protocol.Message, error)

type route struct {
	fn      HandlerFunc
	minSize int
	// unbound handlers run before the connection has a thread
	unbound bool
}

// Dispatcher routes requests to handlers. Like the kernel it serves, it is
// owned by the loop goroutine.
type Dispatcher struct {
	layout  protocol.Layout
	routes  [protocol.NumOpcodes]*route
	current *kernel.Thread
	metrics *Metrics
	trace   bool
	log     *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTrace logs every request and reply at debug level.
func WithTrace(on bool) DispatcherOption {
	return func(d *Dispatcher) { d.trace = on }
}

// WithMetrics records requests and latency in m.
func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDispatchLogger replaces the package logger.
func WithDispatchLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher returns a dispatcher without routes.
func NewDispatcher(l protocol.Layout, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{layout: l}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = Logger()
	}
	return d
}

// Layout returns the wire layout replies are encoded with.
func (d *Dispatcher) Layout() protocol.Layout {
	return d.layout
}

// Register routes op to fn. Requests carrying less than minSize bytes of
// variable data are rejected before fn runs.
func (d *Dispatcher) Register(op protocol.Opcode, minSize int, fn HandlerFunc) error {
	return d.register(op, minSize, fn, false)
}

// RegisterUnbound is Register for the requests that establish a thread
// binding and therefore run without a current thread.
func (d *Dispatcher) RegisterUnbound(op protocol.Opcode, minSize int, fn HandlerFunc) error {
	return d.register(op, minSize, fn, true)
}

func (d *Dispatcher) register(op protocol.Opcode, minSize int, fn HandlerFunc, unbound bool) error {
	if !op.Valid() {
		return errors.InvalidParameter(errors.PhaseDispatch, fmt.Sprintf("opcode %d out of range", uint32(op)))
	}
	if fn == nil {
		return errors.InvalidParameter(errors.PhaseDispatch, op.String()+": nil handler")
	}
	if minSize < 0 {
		return errors.InvalidParameter(errors.PhaseDispatch, op.String()+": negative minimum size")
	}
	if d.routes[op] != nil {
		return errors.InvalidParameter(errors.PhaseDispatch, op.String()+": already registered")
	}
	d.routes[op] = &route{fn: fn, minSize: minSize, unbound: unbound}
	return nil
}

// Current returns the thread the loop is running on behalf of.
func (d *Dispatcher) Current() *kernel.Thread {
	return d.current
}

// bind makes t current and returns the function restoring the previous
// binding.
func (d *Dispatcher) bind(t *kernel.Thread) func() {
	prev := d.current
	d.current = t
	return func() { d.current = prev }
}

// OnTimeout runs a timer callback. It runs unbound.
func (d *Dispatcher) OnTimeout(fn func()) {
	defer d.bind(nil)()
	fn()
}

// OnDisconnect runs the teardown of a connection bound to t.
func (d *Dispatcher) OnDisconnect(t *kernel.Thread, fn func()) {
	defer d.bind(t)()
	fn()
}

// OnProcessExit runs the cleanup of a host process that exited.
func (d *Dispatcher) OnProcessExit(fn func()) {
	defer d.bind(nil)()
	fn()
}

// Dispatch serves c. Failures of the request itself come back as a reply
// status; the returned error is a ProtocolError after which the connection
// must be dropped.
func (d *Dispatcher) Dispatch(c *Call) (*protocol.Reply, error) {
	req := c.Request
	if !req.Op.Valid() || d.routes[req.Op] == nil {
		return nil, errors.ProtocolError("unknown opcode %d", uint32(req.Op))
	}
	rt := d.routes[req.Op]
	if len(req.Data) < rt.minSize {
		return nil, errors.ProtocolError("%s carries %d bytes, needs %d", req.Op, len(req.Data), rt.minSize)
	}
	if c.Current == nil && !rt.unbound {
		return nil, errors.ProtocolError("%s before init_process or init_thread", req.Op)
	}
	if c.Current != nil && rt.unbound {
		return nil, errors.ProtocolError("%s on a bound connection", req.Op)
	}
	if c.Ctx == nil {
		c.Ctx = context.Background()
	}
	c.ReplyFd = -1
	c.Status = errors.StatusSuccess

	defer d.bind(c.Current)()
	if c.Current != nil {
		c.Current.SetLastError(0)
	}
	if d.trace {
		d.log.Debug("request", zap.String("thread", threadTag(c.Current)),
			zap.Stringer("op", req.Op), zap.Int("size", len(req.Data)))
	}

	start := time.Now()
	msg, err := d.run(rt.fn, c)
	if err != nil && errors.IsProtocol(err) {
		return nil, err
	}
	status := c.Status
	if err != nil {
		status = errors.StatusOf(err)
		if d.trace {
			d.log.Debug("request failed", zap.Stringer("op", req.Op), zap.Error(err))
		}
	}

	rep, encErr := protocol.NewReply(d.layout, status, msg)
	if encErr != nil {
		d.log.Error("reply encoding", zap.Stringer("op", req.Op), zap.Error(encErr))
		rep, _ = protocol.NewReply(d.layout, errors.StatusInternalError, nil)
		status = errors.StatusInternalError
	}
	if uint32(len(rep.Data)) > req.ReplySize {
		rep.Data = rep.Data[:req.ReplySize]
	}
	if err == nil {
		rep.Fd = c.ReplyFd
	}
	if c.Current != nil {
		c.Current.SetLastError(uint32(status))
	}

	if d.trace {
		d.log.Debug("reply", zap.String("thread", threadTag(c.Current)),
			zap.Stringer("op", req.Op), zap.Stringer("status", status), zap.Int("size", len(rep.Data)))
	}
	if d.metrics != nil {
		d.metrics.Requests.WithLabelValues(req.Op.String(), status.String()).Inc()
		d.metrics.DispatchLatency.WithLabelValues(req.Op.String()).Observe(time.Since(start).Seconds())
	}
	return rep, nil
}

// run calls fn, turning a panic into an internal error.
func (d *Dispatcher) run(fn HandlerFunc, c *Call) (msg protocol.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", zap.Stringer("op", c.Request.Op), zap.Any("panic", r), zap.Stack("stack"))
			msg = nil
			err = errors.New(errors.PhaseDispatch, errors.KindInternal).
				Object(c.Request.Op.String()).Detail("handler panic: %v", r).Build()
		}
	}()
	return fn(c)
}

func threadTag(t *kernel.Thread) string {
	if t == nil {
		return "----"
	}
	return fmt.Sprintf("%04x", t.ID())
}
