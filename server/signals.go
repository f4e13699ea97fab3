package server

import (
	"context"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// funnelSignals forwards process signals to the loop until ctx is done.
func (s *Server) funnelSignals(ctx context.Context) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, unix.SIGCHLD, unix.SIGTERM, unix.SIGINT, unix.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			if !s.post(signalEvent{sig}) {
				return
			}
		}
	}
}

func (s *Server) onSignal(sig os.Signal) {
	switch sig {
	case unix.SIGCHLD:
		s.reap()
	case unix.SIGTERM, unix.SIGINT:
		s.log.Info("shutting down", zap.Stringer("signal", sig))
		s.stopping = true
	case unix.SIGHUP:
		s.dump()
	}
}

// reap collects exited children and tears their processes down.
func (s *Server) reap() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		code := int32(ws.ExitStatus())
		if ws.Signaled() {
			code = 128 + int32(ws.Signal())
		}
		s.log.Debug("child exited", zap.Int("unix_pid", pid), zap.Int32("code", code))
		s.d.OnProcessExit(func() { s.k.ProcessExited(pid, code) })
	}
}
