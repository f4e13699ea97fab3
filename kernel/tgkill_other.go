//go:build unix && !linux

package kernel

import "golang.org/x/sys/unix"

// Without tgkill the signal goes to the process and the client routes it.
func tgkill(pid, _ int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}
