//go:build !darwin || !cgo

package cpucontext

import "github.com/wippyai/ntserver/errors"

func newMachBackend(Options) (Backend, error) {
	return nil, errors.Unsupported(errors.PhaseContext, "mach backend needs darwin with cgo")
}
