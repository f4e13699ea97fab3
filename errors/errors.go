package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in the server the error occurred
type Phase string

const (
	PhaseDispatch Phase = "dispatch" // request routing
	PhaseProtocol Phase = "protocol" // framing and payload decoding
	PhaseHandle   Phase = "handle"   // handle table operations
	PhaseObject   Phase = "object"   // object model state changes
	PhaseContext  Phase = "context"  // register access
	PhaseSync     Phase = "sync"     // synchronization primitives
	PhaseHost     Phase = "host"     // host OS calls
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidHandle        Kind = "invalid_handle"
	KindAccessDenied         Kind = "access_denied"
	KindThreadGone           Kind = "thread_gone"
	KindProcessGone          Kind = "process_gone"
	KindResourceExhausted    Kind = "resource_exhausted"
	KindUnsupported          Kind = "unsupported"
	KindProtocol             Kind = "protocol_error"
	KindInvalidParameter     Kind = "invalid_parameter"
	KindSuspendCountExceeded Kind = "suspend_count_exceeded"
	KindUnsuccessful         Kind = "unsuccessful"
	KindNotFound             Kind = "not_found"
	KindTimeout              Kind = "timeout"
	KindTypeMismatch         Kind = "object_type_mismatch"
	KindPending              Kind = "pending"
	KindMutantNotOwned       Kind = "mutant_not_owned"
	KindLimitExceeded        Kind = "limit_exceeded"
	KindInternal             Kind = "internal"
)

// Sentinels for errors.Is checks that do not care about the phase.
var (
	ErrInvalidHandle     = &Error{Kind: KindInvalidHandle}
	ErrAccessDenied      = &Error{Kind: KindAccessDenied}
	ErrThreadGone        = &Error{Kind: KindThreadGone}
	ErrProcessGone       = &Error{Kind: KindProcessGone}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
	ErrUnsupported       = &Error{Kind: KindUnsupported}
	ErrProtocol          = &Error{Kind: KindProtocol}
	ErrInvalidParameter  = &Error{Kind: KindInvalidParameter}
	ErrPending           = &Error{Kind: KindPending}
)

// Error is the structured error type used throughout the server
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Object string
	Detail string
	// Code overrides the status derived from Kind when non-zero.
	Code Status
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Object != "" {
		b.WriteString(" on ")
		b.WriteString(e.Object)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Status returns the NT status code reported to clients.
func (e *Error) Status() Status {
	if e.Code != 0 {
		return e.Code
	}
	return kindStatus(e.Kind)
}

func kindStatus(k Kind) Status {
	switch k {
	case KindInvalidHandle:
		return StatusInvalidHandle
	case KindAccessDenied:
		return StatusAccessDenied
	case KindThreadGone:
		return StatusThreadIsTerminating
	case KindProcessGone:
		return StatusProcessIsTerminating
	case KindResourceExhausted:
		return StatusInsufficientResources
	case KindUnsupported:
		return StatusNotSupported
	case KindProtocol, KindInvalidParameter:
		return StatusInvalidParameter
	case KindSuspendCountExceeded:
		return StatusSuspendCountExceeded
	case KindNotFound:
		return StatusInvalidCID
	case KindTimeout:
		return StatusTimeout
	case KindTypeMismatch:
		return StatusObjectTypeMismatch
	case KindPending:
		return StatusPending
	case KindMutantNotOwned:
		return StatusMutantNotOwned
	case KindLimitExceeded:
		return StatusSemaphoreLimitExceeded
	case KindInternal:
		return StatusInternalError
	default:
		return StatusUnsuccessful
	}
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Object names the object the error refers to
func (b *Builder) Object(name string) *Builder {
	b.err.Object = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Code forces the reported status
func (b *Builder) Code(s Status) *Builder {
	b.err.Code = s
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the server's error taxonomy

// InvalidHandle reports a stale, foreign or malformed handle value.
func InvalidHandle(phase Phase, handle uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidHandle,
		Detail: fmt.Sprintf("handle %#x", handle),
		Value:  handle,
	}
}

// TypeMismatch reports a live handle that refers to the wrong kind of object.
func TypeMismatch(handle uint32, want, got string) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindTypeMismatch,
		Detail: fmt.Sprintf("handle %#x is a %s, want %s", handle, got, want),
		Value:  handle,
	}
}

// AccessDenied creates an access denied error
func AccessDenied(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAccessDenied,
		Detail: detail,
	}
}

// ThreadGone reports a host thread that vanished between validation and use.
func ThreadGone(tid int, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindThreadGone,
		Detail: fmt.Sprintf("host thread %d", tid),
		Value:  tid,
		Cause:  cause,
	}
}

// ProcessGone reports a host process that vanished between validation and use.
func ProcessGone(pid int, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindProcessGone,
		Detail: fmt.Sprintf("host process %d", pid),
		Value:  pid,
		Cause:  cause,
	}
}

// ResourceExhausted creates a resource exhaustion error
func ResourceExhausted(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindResourceExhausted,
		Detail: detail,
		Cause:  cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// ProtocolError reports malformed framing. It is fatal to the connection.
func ProtocolError(detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  PhaseProtocol,
		Kind:   KindProtocol,
		Detail: detail,
	}
}

// InvalidParameter creates an invalid parameter error
func InvalidParameter(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidParameter,
		Detail: detail,
	}
}

// SuspendCountExceeded reports a suspend beyond the nesting limit.
func SuspendCountExceeded(count int) *Error {
	return &Error{
		Phase:  PhaseObject,
		Kind:   KindSuspendCountExceeded,
		Detail: fmt.Sprintf("suspend count %d", count),
		Value:  count,
	}
}

// Unsuccessful creates a generic failure
func Unsuccessful(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsuccessful,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what string, id uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %#x not found", what, id),
		Value:  id,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// StatusOf maps any error to the status a client sees.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return StatusUnsuccessful
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsGone reports whether err means the host target no longer exists.
// Such errors are expected races with client teardown.
func IsGone(err error) bool {
	return errors.Is(err, ErrThreadGone) || errors.Is(err, ErrProcessGone)
}

// IsProtocol reports whether err must terminate the client connection.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}
