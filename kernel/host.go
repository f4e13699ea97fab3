package kernel

import "github.com/wippyai/ntserver/cpucontext"

// HostControl stops, continues and kills host threads on behalf of the
// object model. A "gone" error from any of them is expected when a client
// exits concurrently and is not escalated.
type HostControl interface {
	Stop(t cpucontext.Target) error
	Continue(t cpucontext.Target) error
	Kill(t cpucontext.Target) error
}

// NopHost ignores every request. It is used when clients are not backed by
// host threads, as in tests.
type NopHost struct{}

func (NopHost) Stop(cpucontext.Target) error     { return nil }
func (NopHost) Continue(cpucontext.Target) error { return nil }
func (NopHost) Kill(cpucontext.Target) error     { return nil }
