package kernel

import "golang.org/x/sys/unix"

func tgkill(pid, tid int, sig unix.Signal) error {
	return unix.Tgkill(pid, tid, sig)
}
