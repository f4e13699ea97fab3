package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseObject,
				Kind:   KindAccessDenied,
				Object: "thread 0024",
				Detail: "missing THREAD_TERMINATE",
			},
			contains: []string{"[object]", "access_denied", "thread 0024", "missing THREAD_TERMINATE"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseHandle,
				Kind:  KindInvalidHandle,
			},
			contains: []string{"[handle]", "invalid_handle"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseSync,
				Kind:   KindResourceExhausted,
				Detail: "create event",
				Cause:  errors.New("too many open files"),
			},
			contains: []string{"[sync]", "resource_exhausted", "create event", "caused by", "too many open files"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseHost,
		Kind:  KindThreadGone,
		Cause: cause,
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}

	wrapped := fmt.Errorf("suspend: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("cause not reachable through fmt wrapping")
	}
}

func TestError_Is(t *testing.T) {
	err := InvalidHandle(PhaseHandle, 0x10004)

	if !err.Is(&Error{Phase: PhaseHandle, Kind: KindInvalidHandle}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseDispatch, Kind: KindInvalidHandle}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseHandle, Kind: KindAccessDenied}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrInvalidHandle) {
		t.Error("errors.Is should match the kind-only sentinel")
	}
	if errors.Is(err, ErrAccessDenied) {
		t.Error("errors.Is matched the wrong sentinel")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseContext, KindUnsupported).
		Object("thread 0030").
		Value(0x10).
		Cause(cause).
		Code(StatusNotImplemented).
		Detail("groups %#x", 0x10).
		Build()

	if err.Phase != PhaseContext {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseContext)
	}
	if err.Kind != KindUnsupported {
		t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
	}
	if err.Object != "thread 0030" {
		t.Errorf("Object = %q", err.Object)
	}
	if err.Value != 0x10 {
		t.Errorf("Value = %v, want 16", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "groups 0x10" {
		t.Errorf("Detail = %q, want 'groups 0x10'", err.Detail)
	}
	if err.Status() != StatusNotImplemented {
		t.Errorf("Status = %v, want override", err.Status())
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusSuccess},
		{"foreign", errors.New("boom"), StatusUnsuccessful},
		{"invalid handle", InvalidHandle(PhaseHandle, 4), StatusInvalidHandle},
		{"access denied", AccessDenied(PhaseHandle, "x"), StatusAccessDenied},
		{"thread gone", ThreadGone(12, nil), StatusThreadIsTerminating},
		{"process gone", ProcessGone(12, nil), StatusProcessIsTerminating},
		{"exhausted", ResourceExhausted(PhaseSync, "fd", nil), StatusInsufficientResources},
		{"unsupported", Unsupported(PhaseContext, "debug"), StatusNotSupported},
		{"protocol", ProtocolError("short"), StatusInvalidParameter},
		{"suspend", SuspendCountExceeded(127), StatusSuspendCountExceeded},
		{"mismatch", TypeMismatch(8, "event", "thread"), StatusObjectTypeMismatch},
		{"wrapped", fmt.Errorf("ctx: %w", InvalidHandle(PhaseHandle, 4)), StatusInvalidHandle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsGone(t *testing.T) {
	if !IsGone(ThreadGone(1, nil)) || !IsGone(ProcessGone(1, nil)) {
		t.Error("gone errors not recognized")
	}
	if IsGone(AccessDenied(PhaseHost, "ptrace")) {
		t.Error("access denied is not a vanished target")
	}
	if !IsProtocol(fmt.Errorf("read: %w", ProtocolError("bad header"))) {
		t.Error("wrapped protocol error not recognized")
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusSuccess, "STATUS_SUCCESS"},
		{StatusWait0 + 3, "STATUS_WAIT_3"},
		{StatusAbandonedWait0 + 2, "STATUS_ABANDONED_WAIT_2"},
		{StatusTimeout, "STATUS_TIMEOUT"},
		{StatusInvalidHandle, "STATUS_INVALID_HANDLE"},
		{Status(0xC0DE0001), "0xc0de0001"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%#x).String() = %q, want %q", uint32(tt.s), got, tt.want)
		}
	}
	if !StatusAccessDenied.IsError() || StatusPending.IsError() {
		t.Error("IsError severity check wrong")
	}
}
