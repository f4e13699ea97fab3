package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ntserver/client"
	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/cpucontext/contexttest"
	"github.com/wippyai/ntserver/protocol"
	"github.com/wippyai/ntserver/server"
)

func newTestSession(t *testing.T) *session {
	t.Helper()
	dir, err := os.MkdirTemp("", "nts")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "socket")

	srv, err := server.New(server.Options{
		Layout:      protocol.Layout64,
		Machine:     cpucontext.MachineAMD64,
		Backend:     contexttest.NewBackend(cpucontext.MachineAMD64),
		SyncDisable: true,
		Persistent:  -1,
		Registerer:  prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	ln, err := server.Listen(path)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()
	c, err := client.Dial(dctx, path, protocol.Layout64)
	require.NoError(t, err)
	require.NoError(t, c.InitProcess(200, 200, 0, false))
	t.Cleanup(func() {
		c.Close()
		cancel()
		<-done
	})
	return newSession(c)
}

func TestSessionCommands(t *testing.T) {
	s := newTestSession(t)

	out, err := s.exec("event manual ready")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "event 0x"), out)
	h := strings.TrimPrefix(out, "event ")

	out, err = s.exec("query " + h)
	require.NoError(t, err)
	assert.Equal(t, h+" manual-reset, not signaled", out)

	out, err = s.exec("wait " + h + " 0")
	require.NoError(t, err)
	assert.Equal(t, "STATUS_TIMEOUT", out)

	_, err = s.exec("set " + h)
	require.NoError(t, err)
	out, err = s.exec("wait " + h)
	require.NoError(t, err)
	assert.Equal(t, "STATUS_WAIT_0", out)

	out, err = s.exec("mutex owned")
	require.NoError(t, err)
	m := strings.TrimPrefix(out, "mutex ")
	out, err = s.exec("release " + m)
	require.NoError(t, err)
	assert.Equal(t, m+" previous count 1", out)

	out, err = s.exec("sem 0 1")
	require.NoError(t, err)
	sem := strings.TrimPrefix(out, "semaphore ")
	_, err = s.exec("release " + sem)
	require.NoError(t, err)
	_, err = s.exec("release " + sem)
	assert.Error(t, err, "over the maximum")

	assert.Len(t, s.handleList(), 3)
	_, err = s.exec("close " + h)
	require.NoError(t, err)
	assert.Len(t, s.handleList(), 2)

	out, err = s.exec("info")
	require.NoError(t, err)
	assert.Contains(t, out, "pid 200: 1 threads, 2 handles")
}

func TestSessionThread(t *testing.T) {
	s := newTestSession(t)
	out, err := s.exec("thread")
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 5)
	h := fields[3]

	out, err = s.exec("resume " + h)
	require.NoError(t, err)
	assert.Equal(t, h+" previous suspend count 1", out)
	out, err = s.exec("resume " + h)
	require.NoError(t, err)
	assert.Equal(t, h+" previous suspend count 0", out)
}

func TestSessionRejectsBadInput(t *testing.T) {
	s := newTestSession(t)
	for _, line := range []string{"frobnicate", "set", "set zz", "sem 1", "wait 0x4 soon"} {
		_, err := s.exec(line)
		assert.Error(t, err, line)
	}
	out, err := s.exec("help")
	require.NoError(t, err)
	assert.Equal(t, consoleHelp, out)
}

func TestPrintLayouts(t *testing.T) {
	var buf bytes.Buffer
	printLayouts(&buf, cpucontext.MachineAMD64)
	out := buf.String()
	assert.Contains(t, out, "Wire layouts")
	assert.Contains(t, out, "Register layouts: linux")
	assert.Contains(t, out, "x86_64")
	assert.NotContains(t, out, "i386")
}
