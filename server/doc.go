// Package server runs the request loop: it accepts client connections on a
// unix socket, reads framed requests, dispatches them against the kernel
// and writes replies and wake messages back.
//
// All kernel state is owned by one loop goroutine. Connection readers,
// timers and the signal funnel only post events to it, so no two handlers
// ever run at the same time and handlers never block on client I/O beyond
// a bounded write.
package server
