// Package errors provides structured error types for the server.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Every Kind maps to the NT status code a client sees in its reply,
// so handlers return Go errors and the dispatcher converts them with StatusOf.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseObject, errors.KindAccessDenied).
//		Object("thread 0024").
//		Detail("missing THREAD_SUSPEND_RESUME").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidHandle(errors.PhaseHandle, h)
//	err := errors.ThreadGone(tid, unix.ESRCH)
//
// Kind-only sentinels (ErrInvalidHandle, ErrThreadGone, ...) match any phase:
//
//	if errors.Is(err, errors.ErrInvalidHandle) { ... }
//
// ProtocolError is the only kind that tears down a client connection;
// IsGone identifies host races that are logged but never escalated.
package errors
