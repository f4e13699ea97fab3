package cpucontext

// Trace is per-process state a backend keeps while it reaches the threads of
// one host process, such as a Mach task port.
type Trace interface {
	// Resolve completes t with what the backend needs to reach the thread.
	Resolve(t Target) (Target, error)
	Close() error
}

// Tracer is implemented by backends that need a Trace per host process.
type Tracer interface {
	Trace(pid int) (Trace, error)
}

// Trace opens the inner backend's tracing state, or returns nil when it
// keeps none.
func (c *capBackend) Trace(pid int) (Trace, error) {
	tr, ok := c.inner.(Tracer)
	if !ok {
		return nil, nil
	}
	return tr.Trace(pid)
}
