// Package syncprim implements NT events on top of the ntsync kernel driver,
// with an in-process fallback when the driver is missing.
//
// A Provider opens the device once per server. Create asks it for a
// descriptor; in Optional mode a failure silently selects the fallback, in
// Required mode it is reported to the caller.
//
//	prov := syncprim.NewProvider("/dev/ntsync")
//	ev, err := syncprim.Create(prov, false, false, syncprim.Optional)
//	...
//	prev, err := ev.Signal()
//	if ok, _ := ev.Consume(); ok {
//		// one waiter satisfied, an auto-reset event is unsignaled again
//	}
//	ev.Destroy()
//
// A fast primitive's state is owned by the kernel: clients wait on the
// descriptor themselves and the server never mirrors the signaled bit. Server
// side waiters read and consume the state through the same descriptor.
package syncprim
