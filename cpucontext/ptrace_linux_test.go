package cpucontext

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ntserver/errors"
)

func TestParseTraceStatus(t *testing.T) {
	status := []byte("Name:\tworker\nState:\tt (tracing stop)\nTgid:\t12\nTracerPid:\t77\n")
	assert.True(t, parseTraceStatus(status, 77))
	assert.False(t, parseTraceStatus(status, 78))

	running := []byte("State:\tR (running)\nTracerPid:\t77\n")
	assert.False(t, parseTraceStatus(running, 77))
	assert.False(t, parseTraceStatus(nil, 0))
}

func TestPtraceLeavesThreadRunning(t *testing.T) {
	if _, err := LayoutFor(ABILinux, HostMachine()); err != nil {
		t.Skip("no ptrace layout for this machine")
	}
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skip("cannot start a child:", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	pid := cmd.Process.Pid

	b, err := newPtraceBackend(Options{Machine: HostMachine()})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	regs := MustNew(HostMachine())
	err = b.Get(ctx, Target{PID: pid, TID: pid}, regs, GroupControl)
	if errors.KindOf(err) == errors.KindAccessDenied {
		t.Skip("ptrace not permitted here")
	}
	require.NoError(t, err)
	assert.Equal(t, GroupControl, regs.Flags&GroupControl)

	// detached and not left in a stop
	status := string(procTaskStatus(pid, pid))
	assert.Contains(t, status, "TracerPid:\t0")
	for _, line := range strings.Split(status, "\n") {
		if strings.HasPrefix(line, "State:") {
			assert.NotContains(t, line, "stopped")
		}
	}
}
