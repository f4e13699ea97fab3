//go:build !linux

package syncprim

import "github.com/wippyai/ntserver/errors"

// OpenNtsync always fails: ntsync is a Linux driver.
func OpenNtsync(path string) (Device, error) {
	return nil, errors.Unsupported(errors.PhaseSync, "ntsync is not available on this host")
}
