// Package ntserver is a user-space server that emulates NT kernel objects
// for client processes connected over a unix socket.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	ntserver/
//	├── errors/       Structured errors and their NT status codes
//	├── handle/       Generation-checked slot tables and handle encoding
//	├── cpucontext/   Register bundles, per-host layouts, context backends
//	├── syncprim/     ntsync device events with an in-process fallback
//	├── kernel/       Processes, threads, handles, sync objects, waits, APCs
//	├── protocol/     Opcodes, request/reply framing, payload codecs
//	├── server/       Dispatcher, event loop, connections, signals, metrics
//	├── client/       Go client used by the console and tests
//	├── config/       YAML configuration with environment overrides
//	└── cmd/ntserver  serve, console and layouts commands
//
// # Quick Start
//
// Run a server that stays up until interrupted:
//
//	srv, err := server.New(server.Options{Persistent: -1, Signals: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ln, err := server.Listen("/tmp/ntserver/socket")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = srv.Serve(ctx, ln)
//
// A client binds its connection to a new process and then issues requests:
//
//	c, err := client.Dial(ctx, "/tmp/ntserver/socket", protocol.HostLayout())
//	err = c.InitProcess(os.Getpid(), unix.Gettid(), 0, false)
//	ev, err := c.CreateEvent("", true, false)
//	st, err := c.Select([]uint32{ev}, 0, time.Second, 1)
//
// # Thread Safety
//
// The kernel is single threaded. Server.Serve runs one loop goroutine that
// owns the kernel and every object in it; connection readers, timers and
// signals post events to that loop. Use Server.Do to inspect the kernel from
// another goroutine.
package ntserver
