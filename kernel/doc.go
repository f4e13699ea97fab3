// Package kernel is the NT object model: processes, threads, events,
// mutexes, semaphores and APCs, the per-process handle tables that name
// them, and the waits threads block in.
//
// A Kernel is owned by one dispatch loop and is not safe for concurrent use.
// Every operation takes the objects it acts on explicitly; the calling thread
// is always a parameter, never ambient state.
//
// # Lifetime
//
// Objects are reference counted. A handle holds one reference, a wait holds
// one per object, a process holds its threads and a thread holds its process.
// The running process list holds each process until its last thread dies.
//
// # Waits
//
//	status, err := k.SelectHandles(t, kernel.WaitRequest{
//		Handles: hs,
//		Timeout: kernel.Infinite,
//		Cookie:  cookie,
//	})
//
// Select returns the final status when the wait is satisfied at once and
// STATUS_PENDING otherwise. A pending wait ends through the Waker with
// WAIT_0+i, ABANDONED_WAIT_0+i, STATUS_USER_APC, STATUS_TIMEOUT or
// STATUS_THREAD_IS_TERMINATING. Suspended threads never complete a wait.
//
// Events whose primitive lives in the ntsync device are waited on by the
// client directly; the kernel only polls them when they appear in a Select.
package kernel
