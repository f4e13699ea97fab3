package server

import (
	"context"
	stderrors "errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/protocol"
	"github.com/wippyai/ntserver/syncprim"
)

// DefaultMaxRequestLength caps the variable data of one request.
const DefaultMaxRequestLength = 8192

// Options configures a Server.
type Options struct {
	// Layout is the wire layout clients speak. The zero value means the
	// host layout.
	Layout protocol.Layout
	// Machine is the client machine. Unknown means the host machine.
	Machine cpucontext.Machine
	// Backend reaches thread registers; nil disables context requests.
	Backend cpucontext.Backend
	// SyncDevice is the ntsync device path; SyncDisable forces the
	// in-process fallback.
	SyncDevice  string
	SyncDisable bool
	SyncOptions []syncprim.ProviderOption
	Host        kernel.HostControl

	MaxRequestLength int
	HandleLimit      int
	// Persistent is how long the server lingers after its last client
	// disconnects; negative lingers forever.
	Persistent time.Duration
	// WriteTimeout bounds a reply write to a client that stopped reading.
	WriteTimeout time.Duration
	// Signals installs the SIGCHLD, SIGTERM, SIGINT and SIGHUP handlers.
	Signals bool
	Trace   bool

	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

func (o *Options) defaults() {
	if !o.Layout.Valid() {
		o.Layout = protocol.HostLayout()
	}
	if o.Machine == cpucontext.MachineUnknown {
		o.Machine = cpucontext.HostMachine()
	}
	if o.MaxRequestLength <= 0 {
		o.MaxRequestLength = DefaultMaxRequestLength
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Host == nil {
		o.Host = kernel.NopHost{}
	}
	if o.Logger == nil {
		o.Logger = Logger()
	}
}

// Server accepts client connections and serves their requests on a single
// loop goroutine that owns the kernel.
type Server struct {
	opts     Options
	k        *kernel.Kernel
	sync     *syncprim.Provider
	d        *Dispatcher
	metrics  *Metrics
	instance uuid.UUID
	log      *zap.Logger

	events chan event
	done   chan struct{}
	// readers tracks the per-connection reader goroutines.
	readers sync.WaitGroup

	// owned by the loop
	conns    map[*conn]struct{}
	byThread map[*kernel.Thread]*conn
	timers   map[*loopTimer]struct{}
	linger   func() bool
	stopping bool
}

// New builds a server and its kernel.
func New(opts Options) (*Server, error) {
	opts.defaults()
	s := &Server{
		opts:     opts,
		instance: uuid.New(),
		metrics:  NewMetrics(opts.Registerer),
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		conns:    make(map[*conn]struct{}),
		byThread: make(map[*kernel.Thread]*conn),
		timers:   make(map[*loopTimer]struct{}),
	}
	s.log = opts.Logger.With(zap.Stringer("instance", s.instance))

	syncOpts := append([]syncprim.ProviderOption{syncprim.WithCreateObserver(s.metrics.PrimitiveCreated)}, opts.SyncOptions...)
	if opts.SyncDisable {
		syncOpts = append(syncOpts, syncprim.Disabled())
	}
	s.sync = syncprim.NewProvider(opts.SyncDevice, syncOpts...)

	var accessor *cpucontext.Accessor
	if opts.Backend != nil {
		accessor = cpucontext.NewAccessor(opts.Backend, opts.Machine, cpucontext.WithCallObserver(s.metrics.ContextCall))
	}
	s.k = kernel.New(kernel.Options{
		Sync:           s.sync,
		Accessor:       accessor,
		Host:           opts.Host,
		Waker:          s,
		Scheduler:      s,
		Logger:         s.log.Named("kernel"),
		HandleLimit:    opts.HandleLimit,
		HandleObserver: s.metrics,
		OnObject:       s.metrics.ObjectChanged,
	})

	s.d = NewDispatcher(opts.Layout, WithTrace(opts.Trace), WithMetrics(s.metrics), WithDispatchLogger(s.log))
	svc := &service{k: s.k, instance: s.instance, machine: opts.Machine, log: s.log}
	if err := svc.register(s.d); err != nil {
		return nil, err
	}
	return s, nil
}

// InstanceID identifies this server run. Clients get it from init_process.
func (s *Server) InstanceID() uuid.UUID {
	return s.instance
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Listen removes a stale socket at path and listens on it.
func Listen(path string) (*net.UnixListener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindUnsuccessful, err, "remove stale socket")
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindUnsuccessful, err, "listen on "+path)
	}
	return ln, nil
}

// Serve runs the server on ln until ctx is done, a termination signal
// arrives or the linger delay after the last client expires. It closes ln
// and tears every process down before returning.
func (s *Server) Serve(ctx context.Context, ln *net.UnixListener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info("server listening", zap.String("socket", ln.Addr().String()),
		zap.Stringer("layout", s.opts.Layout), zap.Stringer("machine", s.opts.Machine),
		zap.Bool("fast_sync", s.sync.Available()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.loop(gctx)
	})
	g.Go(func() error {
		return s.accept(gctx, ln)
	})
	if s.opts.Signals {
		g.Go(func() error {
			s.funnelSignals(gctx)
			return nil
		})
	}
	err := g.Wait()
	s.readers.Wait()
	s.discard()

	err = multierr.Combine(err, s.k.Close(), s.sync.Close())
	s.log.Info("server stopped", zap.Error(err))
	return err
}

// Do runs fn on the loop goroutine, where the kernel may be used.
func (s *Server) Do(ctx context.Context, fn func(k *kernel.Kernel)) error {
	ev := funcEvent{fn: fn, done: make(chan struct{})}
	if !s.post(ev) {
		return errors.Unsuccessful(errors.PhaseDispatch, "server stopped")
	}
	select {
	case <-ev.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.Unsuccessful(errors.PhaseDispatch, "server stopped")
	}
}

func (s *Server) accept(ctx context.Context, ln *net.UnixListener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		nc, err := ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(errors.PhaseDispatch, errors.KindUnsuccessful, err, "accept")
		}
		c := newConn(s, nc)
		if !s.post(acceptEvent{c}) {
			nc.Close()
			return nil
		}
	}
}

// post hands ev to the loop. It fails once the loop has exited.
func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

type event interface{}

type (
	acceptEvent  struct{ c *conn }
	requestEvent struct {
		c   *conn
		req *protocol.Request
	}
	closedEvent struct {
		c   *conn
		err error
	}
	timerEvent  struct{ t *loopTimer }
	signalEvent struct{ sig os.Signal }
	funcEvent   struct {
		fn   func(k *kernel.Kernel)
		done chan struct{}
	}
)

// discard releases what is left in the queue after the loop stopped.
func (s *Server) discard() {
	for {
		select {
		case ev := <-s.events:
			switch ev := ev.(type) {
			case acceptEvent:
				ev.c.nc.Close()
			case requestEvent:
				protocol.CloseFd(ev.req.Fd)
			}
		default:
			return
		}
	}
}

func (s *Server) loop(ctx context.Context) error {
	defer close(s.done)
	defer s.shutdown()
	for !s.stopping {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
	return nil
}

func (s *Server) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case acceptEvent:
		s.register(ev.c)
	case requestEvent:
		s.serve(ctx, ev.c, ev.req)
	case closedEvent:
		if !ev.c.closed {
			s.drop(ev.c, ev.err)
		}
	case timerEvent:
		if _, live := s.timers[ev.t]; live {
			delete(s.timers, ev.t)
			s.d.OnTimeout(ev.t.fn)
		}
	case signalEvent:
		s.onSignal(ev.sig)
	case funcEvent:
		ev.fn(s.k)
		close(ev.done)
	}
}

func (s *Server) register(c *conn) {
	s.conns[c] = struct{}{}
	s.metrics.Connections.Inc()
	if s.linger != nil {
		s.linger()
		s.linger = nil
	}
	s.readers.Add(1)
	go c.read(s.opts.Layout, s.opts.MaxRequestLength)
	s.log.Debug("client connected", zap.Int("peer_pid", c.pid))
}

func (s *Server) serve(ctx context.Context, c *conn, req *protocol.Request) {
	defer protocol.CloseFd(req.Fd)
	if c.closed {
		return
	}
	call := &Call{Ctx: ctx, Current: c.thread, Peer: c, Request: req}
	rep, err := s.d.Dispatch(call)
	if err != nil {
		s.metrics.ProtocolErrors.Inc()
		s.log.Warn("protocol error", zap.String("thread", threadTag(c.thread)), zap.Error(err))
		s.drop(c, err)
		return
	}
	c.reply(rep)
}

// drop closes c and kills its thread. A protocol error kills the host
// thread too; a plain disconnect means it is already gone.
func (s *Server) drop(c *conn, cause error) {
	c.closed = true
	c.nc.Close()
	delete(s.conns, c)
	s.metrics.Connections.Dec()
	if t := c.thread; t != nil {
		delete(s.byThread, t)
		violent := errors.IsProtocol(cause)
		s.d.OnDisconnect(t, func() { s.k.KillThread(t, 1, violent) })
	}
	s.log.Debug("client disconnected", zap.String("thread", threadTag(c.thread)), zap.Error(cause))
	if len(s.conns) == 0 {
		s.armLinger()
	}
}

func (s *Server) armLinger() {
	switch {
	case s.opts.Persistent < 0:
	case s.opts.Persistent == 0:
		s.stopping = true
	default:
		s.linger = s.AfterFunc(s.opts.Persistent, func() {
			s.log.Info("no clients left, exiting")
			s.stopping = true
		})
	}
}

func (s *Server) shutdown() {
	for c := range s.conns {
		c.closed = true
		c.nc.Close()
		s.metrics.Connections.Dec()
	}
	clear(s.conns)
	clear(s.byThread)
	for t := range s.timers {
		t.timer.Stop()
	}
	clear(s.timers)
}

// Wake sends the deferred completion of a wait to the thread's connection.
func (s *Server) Wake(t *kernel.Thread, cookie uint64, status errors.Status) {
	c := s.byThread[t]
	if c == nil || c.closed {
		s.log.Debug("wake for unconnected thread", zap.Uint32("tid", t.ID()), zap.Stringer("status", status))
		return
	}
	c.wake(protocol.Wake{Cookie: cookie, Status: status})
}

type loopTimer struct {
	fn    func()
	timer *time.Timer
}

// AfterFunc schedules fn on the loop. It must be called on the loop.
func (s *Server) AfterFunc(d time.Duration, fn func()) func() bool {
	lt := &loopTimer{fn: fn}
	s.timers[lt] = struct{}{}
	lt.timer = time.AfterFunc(d, func() { s.post(timerEvent{lt}) })
	return func() bool {
		if _, live := s.timers[lt]; !live {
			return false
		}
		delete(s.timers, lt)
		lt.timer.Stop()
		return true
	}
}

// Dump logs every process and thread.
func (s *Server) dump() {
	for _, p := range s.k.Processes() {
		s.log.Info("process", zap.Uint32("pid", p.ID()), zap.Int("unix_pid", p.Target().PID),
			zap.Int("handles", p.Handles()), zap.Int("suspend", p.SuspendCount()))
		for _, t := range p.Threads() {
			s.log.Info("  thread", zap.Uint32("tid", t.ID()), zap.Int("unix_tid", t.Target().TID),
				zap.Stringer("state", t.State()), zap.Int("suspend", t.SuspendCount()),
				zap.Bool("connected", s.byThread[t] != nil))
		}
	}
	for _, kind := range kernel.Kinds() {
		s.log.Info("objects", zap.Stringer("kind", kind), zap.Int("live", s.k.Live(kind)))
	}
}
