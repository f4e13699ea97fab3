package syncprim

// Device creates kernel-assisted event objects.
type Device interface {
	CreateEvent(manual, signaled bool) (Descriptor, error)
	Close() error
}

// Descriptor is one kernel event. The state changers return whether the
// event was signaled before the call.
type Descriptor interface {
	Set() (prev bool, err error)
	Reset() (prev bool, err error)
	Pulse() (prev bool, err error)
	Read() (signaled, manual bool, err error)
	// Fd is the descriptor clients receive to wait on the event directly.
	Fd() int
	Close() error
}
