//go:build !linux

package cpucontext

import "github.com/wippyai/ntserver/errors"

func newPtraceBackend(Options) (Backend, error) {
	return nil, errors.Unsupported(errors.PhaseContext, "ptrace backend is only built on linux")
}
