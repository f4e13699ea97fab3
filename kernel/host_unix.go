//go:build unix

package kernel

import (
	stderrors "errors"

	"golang.org/x/sys/unix"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
)

// SignalHost controls host threads with signals. Stop asks the client to
// park itself in a suspend wait; Continue has nothing to send because the
// parked thread is released by its wake-up reply. A zero signal disables
// that operation.
type SignalHost struct {
	StopSignal     unix.Signal
	ContinueSignal unix.Signal
	KillSignal     unix.Signal
}

// DefaultSignalHost returns the signals clients expect.
func DefaultSignalHost() SignalHost {
	return SignalHost{StopSignal: unix.SIGUSR1, KillSignal: unix.SIGQUIT}
}

func (h SignalHost) Stop(t cpucontext.Target) error     { return h.send(t, h.StopSignal) }
func (h SignalHost) Continue(t cpucontext.Target) error { return h.send(t, h.ContinueSignal) }
func (h SignalHost) Kill(t cpucontext.Target) error     { return h.send(t, h.KillSignal) }

func (h SignalHost) send(t cpucontext.Target, sig unix.Signal) error {
	if sig == 0 || t.PID <= 0 || t.TID <= 0 {
		// the host thread has not attached yet
		return nil
	}
	err := tgkill(t.PID, t.TID, sig)
	if err == nil {
		return nil
	}
	if stderrors.Is(err, unix.ESRCH) {
		return errors.ThreadGone(t.TID, err)
	}
	if stderrors.Is(err, unix.EPERM) {
		return errors.New(errors.PhaseHost, errors.KindAccessDenied).Cause(err).Detail("signal %s", t).Build()
	}
	return errors.Wrap(errors.PhaseHost, errors.KindUnsuccessful, err, "signal "+t.String())
}
