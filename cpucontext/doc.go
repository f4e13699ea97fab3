// Package cpucontext moves thread register state between host threads and
// machine-independent Context values.
//
// Each supported machine has one RegisterFile: the canonical register names
// of every Group (control, integer, segments, floating point, debug,
// extended). Each host ABI maps that file onto its native register areas with
// a Layout, so adding an architecture means adding a table, not code.
//
//	linux    ptrace regsets (NT_PRSTATUS, NT_PRFPREG, ...) and PEEKUSER words
//	darwin   Mach thread_state flavors
//	solaris  procfs lwpstatus reads and lwpctl writes
//
// Open picks the backend for the host once and wraps it with its
// Capabilities: debug registers the host hides read as zeros, unreachable
// groups fail with an Unsupported error.
//
// An Accessor sits in front of the backend. Threads stopped in a debug event
// carry a snapshot Context; the accessor serves reads and writes from it and
// leaves the thread alone.
package cpucontext
