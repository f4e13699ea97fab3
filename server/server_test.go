package server_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wippyai/ntserver/client"
	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/cpucontext/contexttest"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/handle"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/protocol"
	"github.com/wippyai/ntserver/server"
	"github.com/wippyai/ntserver/syncprim"
	"github.com/wippyai/ntserver/syncprim/synctest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	srv     *server.Server
	path    string
	backend *contexttest.Backend
	done    chan error
	cancel  context.CancelFunc
}

func startServer(t *testing.T, opts ...func(*server.Options)) *harness {
	t.Helper()
	// unix socket paths are short; t.TempDir can exceed the limit
	dir, err := os.MkdirTemp("", "nts")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	h := &harness{
		path:    filepath.Join(dir, "socket"),
		backend: contexttest.NewBackend(cpucontext.MachineAMD64),
		done:    make(chan error, 1),
	}
	o := server.Options{
		Layout:      protocol.Layout64,
		Machine:     cpucontext.MachineAMD64,
		Backend:     h.backend,
		SyncDisable: true,
		Persistent:  -1,
		Registerer:  prometheus.NewRegistry(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.srv, err = server.New(o)
	require.NoError(t, err)
	ln, err := server.Listen(h.path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return h
}

func (h *harness) dial(t *testing.T) *client.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, h.path, protocol.Layout64)
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(ctx))
	t.Cleanup(func() { c.Close() })
	return c
}

// process connects a new client process with host pid.
func (h *harness) process(t *testing.T, pid int) *client.Conn {
	t.Helper()
	c := h.dial(t)
	require.NoError(t, c.InitProcess(pid, pid, 0, false))
	return c
}

// thread adds a second connected thread to the process of c.
func (h *harness) thread(t *testing.T, c *client.Conn, tid int) *client.Conn {
	t.Helper()
	id, th, err := c.NewThread(uint32(kernel.CurrentProcess), kernel.ThreadAllAccess, false)
	require.NoError(t, err)
	require.NoError(t, c.CloseHandle(th))
	c2 := h.dial(t)
	suspended, err := c2.InitThread(id, tid)
	require.NoError(t, err)
	assert.False(t, suspended)
	return c2
}

func (h *harness) threads(t *testing.T, c *client.Conn) uint32 {
	t.Helper()
	info, err := c.ProcessInfo(uint32(kernel.CurrentProcess))
	require.NoError(t, err)
	return info.Threads
}

func TestInitProcessReturnsIdsAndInstance(t *testing.T) {
	h := startServer(t)
	c := h.process(t, 100)

	assert.NotZero(t, c.ProcessID)
	assert.NotZero(t, c.ThreadID)
	assert.Equal(t, h.srv.InstanceID(), c.Instance)

	info, err := c.ThreadInfo(uint32(kernel.CurrentThread))
	require.NoError(t, err)
	assert.Equal(t, c.ThreadID, info.ThreadID)
	assert.Equal(t, int32(100), info.UnixTID)
}

func TestPendingSelectIsWokenByAnotherThread(t *testing.T) {
	h := startServer(t)
	c1 := h.process(t, 100)
	c2 := h.thread(t, c1, 101)

	ev, err := c1.CreateEvent("", true, false)
	require.NoError(t, err)

	st, err := c2.StartSelect([]uint32{ev}, 0, 7)
	require.NoError(t, err)
	require.Equal(t, errors.StatusPending, st)

	prev, err := c1.EventOp(ev, protocol.EventSet)
	require.NoError(t, err)
	assert.False(t, prev)

	wk, err := c2.WaitWake()
	require.NoError(t, err)
	assert.Equal(t, protocol.Wake{Cookie: 7, Status: errors.StatusWait0}, wk)
}

func TestSelectTimeout(t *testing.T) {
	h := startServer(t)
	c := h.process(t, 100)
	ev, err := c.CreateEvent("", false, false)
	require.NoError(t, err)

	st, err := c.Select([]uint32{ev}, 0, 10*time.Millisecond, 1)
	require.NoError(t, err)
	assert.Equal(t, errors.StatusTimeout, st)

	st, err = c.Select([]uint32{ev}, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, errors.StatusTimeout, st, "zero timeout polls")
}

func TestStaleHandleOverTheWire(t *testing.T) {
	h := startServer(t)
	c := h.process(t, 100)

	h1, err := c.CreateEvent("", true, false)
	require.NoError(t, err)
	require.NoError(t, c.CloseHandle(h1))
	h2, err := c.CreateEvent("", true, false)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	_, err = c.QueryEvent(h1)
	assert.Equal(t, errors.StatusInvalidHandle, errors.StatusOf(err))
	_, err = c.QueryEvent(h2)
	assert.NoError(t, err)
}

func TestDupHandleClosesSourceWhenDestinationIsBad(t *testing.T) {
	h := startServer(t)
	c := h.process(t, 100)

	ev, err := c.CreateEvent("", true, false)
	require.NoError(t, err)
	_, err = c.DupHandle(protocol.DupHandleRequest{
		SrcProcess: uint32(kernel.CurrentProcess),
		SrcHandle:  ev,
		DstProcess: 0x1234,
		Options:    kernel.DuplicateCloseSource | kernel.DuplicateSameAccess,
	})
	assert.Equal(t, errors.StatusInvalidHandle, errors.StatusOf(err))

	_, err = c.QueryEvent(ev)
	assert.Equal(t, errors.StatusInvalidHandle, errors.StatusOf(err), "source closed anyway")
}

func TestDupHandleIntoHint(t *testing.T) {
	h := startServer(t)
	c := h.process(t, 100)

	ev, err := c.CreateEvent("", true, true)
	require.NoError(t, err)
	hint := uint32(handle.Encode(9, 1, handle.TagLocal))
	dup, err := c.DupHandle(protocol.DupHandleRequest{
		SrcProcess: uint32(kernel.CurrentProcess),
		SrcHandle:  ev,
		DstProcess: uint32(kernel.CurrentProcess),
		DstHint:    hint,
		Options:    kernel.DuplicateSameAccess,
	})
	require.NoError(t, err)
	assert.Equal(t, 9, handle.Handle(dup).Index())

	st, err := c.QueryEvent(dup)
	require.NoError(t, err)
	assert.True(t, st.Signaled)
}

func TestFastEventSelectOverTheWire(t *testing.T) {
	h := startServer(t, func(o *server.Options) {
		o.SyncDisable = false
		o.SyncOptions = []syncprim.ProviderOption{syncprim.WithDevice(synctest.NewDevice())}
	})
	c1 := h.process(t, 100)
	c2 := h.thread(t, c1, 101)

	ev, err := c1.CreateEvent("", false, false)
	require.NoError(t, err)

	st, err := c2.StartSelect([]uint32{ev}, 0, 5)
	require.NoError(t, err)
	require.Equal(t, errors.StatusPending, st)

	_, err = c1.EventOp(ev, protocol.EventSet)
	require.NoError(t, err)
	wk, err := c2.WaitWake()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), wk.Cookie)
	assert.Equal(t, errors.StatusWait0, wk.Status)

	state, err := c1.QueryEvent(ev)
	require.NoError(t, err)
	assert.False(t, state.Signaled, "auto-reset consumed by the woken wait")
}

func TestShortPayloadClosesOnlyThatConnection(t *testing.T) {
	h := startServer(t)
	c1 := h.process(t, 100)
	c2 := h.thread(t, c1, 101)
	require.Equal(t, uint32(2), h.threads(t, c1))

	_, err := c2.Raw(&protocol.Request{Op: protocol.OpSetThreadContext, ReplySize: 64, Data: []byte{1, 2}, Fd: -1})
	assert.Error(t, err, "the server hangs up instead of replying")

	require.Eventually(t, func() bool { return h.threads(t, c1) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.srv.Metrics().ProtocolErrors))
}

func TestFirstRequestMustInit(t *testing.T) {
	h := startServer(t)
	c := h.dial(t)
	_, err := c.ListObjects()
	assert.Error(t, err)
}

func TestDisconnectKillsThread(t *testing.T) {
	h := startServer(t)
	c1 := h.process(t, 100)
	c2 := h.thread(t, c1, 101)

	th, err := c1.Open(protocol.OpOpenThread, c2.ThreadID, kernel.AccessSynchronize)
	require.NoError(t, err)
	require.NoError(t, c2.Close())

	st, err := c1.Select([]uint32{th}, 0, 2*time.Second, 3)
	require.NoError(t, err)
	assert.Equal(t, errors.StatusWait0, st)
	assert.Equal(t, uint32(1), h.threads(t, c1))
}

func TestContextRoundTripOverTheWire(t *testing.T) {
	h := startServer(t)
	c1 := h.process(t, 100)
	c2 := h.thread(t, c1, 101)
	require.NoError(t, h.backend.Thread(101).SetReg("rip", 0x1000))

	th, err := c1.Open(protocol.OpOpenThread, c2.ThreadID, kernel.ThreadAllAccess)
	require.NoError(t, err)

	regs := cpucontext.MustNew(cpucontext.MachineAMD64)
	require.NoError(t, regs.SetReg("rax", 0x55))
	require.NoError(t, c1.SetContext(th, regs, cpucontext.GroupInteger))

	got, err := c1.GetContext(th, cpucontext.GroupControl|cpucontext.GroupInteger)
	require.NoError(t, err)
	rax, _ := got.Reg("rax")
	rip, _ := got.Reg("rip")
	assert.Equal(t, uint64(0x55), rax)
	assert.Equal(t, uint64(0x1000), rip)
}

func TestSemaphoreAndMutexOverTheWire(t *testing.T) {
	h := startServer(t)
	c := h.process(t, 100)

	sem, err := c.CreateSemaphore("", 0, 2)
	require.NoError(t, err)
	prev, err := c.ReleaseSemaphore(sem, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), prev)
	_, err = c.ReleaseSemaphore(sem, 1)
	assert.Equal(t, errors.StatusSemaphoreLimitExceeded, errors.StatusOf(err))

	m, err := c.CreateMutex("", true)
	require.NoError(t, err)
	count, err := c.Count(protocol.OpReleaseMutex, m)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), count)
	_, err = c.Count(protocol.OpReleaseMutex, m)
	assert.Equal(t, errors.StatusMutantNotOwned, errors.StatusOf(err))
}

func TestListObjectsAndMetrics(t *testing.T) {
	h := startServer(t)
	c := h.process(t, 100)
	_, err := c.CreateEvent("", true, false)
	require.NoError(t, err)

	list, err := c.ListObjects()
	require.NoError(t, err)
	require.Len(t, list.Processes, 1)
	assert.Equal(t, int32(100), list.Processes[0].UnixPID)
	for _, o := range list.Objects {
		if kernel.Kind(o.Kind) == kernel.KindEvent {
			assert.Equal(t, uint32(1), o.Live)
		}
	}

	m := h.srv.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("create_event", "STATUS_SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveObjects.WithLabelValues("event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncPrimitives.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveHandles))
}

func TestDoRunsOnTheLoop(t *testing.T) {
	h := startServer(t)
	h.process(t, 100)

	var processes int
	require.NoError(t, h.srv.Do(context.Background(), func(k *kernel.Kernel) {
		processes = len(k.Processes())
		assert.NotNil(t, k.ProcessByHostPID(100))
	}))
	assert.Equal(t, 1, processes)
}

func TestServerExitsAfterLastClient(t *testing.T) {
	h := startServer(t, func(o *server.Options) { o.Persistent = 20 * time.Millisecond })
	c := h.process(t, 100)
	require.NoError(t, c.Close())

	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("server kept running")
	}
}
