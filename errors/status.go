package errors

import "fmt"

// Status is an NT status code as carried in reply headers.
type Status uint32

const (
	StatusSuccess                Status = 0x00000000
	StatusWait0                  Status = 0x00000000
	StatusAbandonedWait0         Status = 0x00000080
	StatusUserAPC                Status = 0x000000C0
	StatusKernelAPC              Status = 0x00000100
	StatusAlerted                Status = 0x00000101
	StatusTimeout                Status = 0x00000102
	StatusPending                Status = 0x00000103
	StatusUnsuccessful           Status = 0xC0000001
	StatusNotImplemented         Status = 0xC0000002
	StatusInvalidHandle          Status = 0xC0000008
	StatusInvalidCID             Status = 0xC000000B
	StatusInvalidParameter       Status = 0xC000000D
	StatusNoMemory               Status = 0xC0000017
	StatusAccessDenied           Status = 0xC0000022
	StatusBufferTooSmall         Status = 0xC0000023
	StatusObjectTypeMismatch     Status = 0xC0000024
	StatusMutantNotOwned         Status = 0xC0000046
	StatusSemaphoreLimitExceeded Status = 0xC0000047
	StatusSuspendCountExceeded   Status = 0xC000004A
	StatusThreadIsTerminating    Status = 0xC000004B
	StatusInsufficientResources  Status = 0xC000009A
	StatusNotSupported           Status = 0xC00000BB
	StatusInternalError          Status = 0xC00000E5
	StatusProcessIsTerminating   Status = 0xC000010A
)

var statusNames = map[Status]string{
	StatusSuccess:                "STATUS_SUCCESS",
	StatusAbandonedWait0:         "STATUS_ABANDONED_WAIT_0",
	StatusUserAPC:                "STATUS_USER_APC",
	StatusKernelAPC:              "STATUS_KERNEL_APC",
	StatusAlerted:                "STATUS_ALERTED",
	StatusTimeout:                "STATUS_TIMEOUT",
	StatusPending:                "STATUS_PENDING",
	StatusUnsuccessful:           "STATUS_UNSUCCESSFUL",
	StatusNotImplemented:         "STATUS_NOT_IMPLEMENTED",
	StatusInvalidHandle:          "STATUS_INVALID_HANDLE",
	StatusInvalidCID:             "STATUS_INVALID_CID",
	StatusInvalidParameter:       "STATUS_INVALID_PARAMETER",
	StatusNoMemory:               "STATUS_NO_MEMORY",
	StatusAccessDenied:           "STATUS_ACCESS_DENIED",
	StatusBufferTooSmall:         "STATUS_BUFFER_TOO_SMALL",
	StatusObjectTypeMismatch:     "STATUS_OBJECT_TYPE_MISMATCH",
	StatusMutantNotOwned:         "STATUS_MUTANT_NOT_OWNED",
	StatusSemaphoreLimitExceeded: "STATUS_SEMAPHORE_LIMIT_EXCEEDED",
	StatusSuspendCountExceeded:   "STATUS_SUSPEND_COUNT_EXCEEDED",
	StatusThreadIsTerminating:    "STATUS_THREAD_IS_TERMINATING",
	StatusInsufficientResources:  "STATUS_INSUFFICIENT_RESOURCES",
	StatusNotSupported:           "STATUS_NOT_SUPPORTED",
	StatusInternalError:          "STATUS_INTERNAL_ERROR",
	StatusProcessIsTerminating:   "STATUS_PROCESS_IS_TERMINATING",
}

// String returns the symbolic name, or the hex value for codes without one.
// Wait results in the WAIT_0..WAIT_63 range are rendered with their index.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	switch {
	case s < 64:
		return fmt.Sprintf("STATUS_WAIT_%d", uint32(s))
	case s > StatusAbandonedWait0 && s < StatusAbandonedWait0+64:
		return fmt.Sprintf("STATUS_ABANDONED_WAIT_%d", uint32(s-StatusAbandonedWait0))
	}
	return fmt.Sprintf("%#08x", uint32(s))
}

// IsError reports whether the status has the error severity bits set.
func (s Status) IsError() bool {
	return s&0xC0000000 == 0xC0000000
}
