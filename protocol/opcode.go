package protocol

import "fmt"

// Opcode selects the request handler.
type Opcode uint32

const (
	OpInitProcess Opcode = iota
	OpInitThread
	OpNewThread
	OpTerminateThread
	OpTerminateProcess
	OpSuspendThread
	OpResumeThread
	OpSuspendProcess
	OpResumeProcess
	OpCloseHandle
	OpDupHandle
	OpSetHandleInfo
	OpOpenThread
	OpOpenProcess
	OpGetThreadInfo
	OpSetThreadInfo
	OpGetProcessInfo
	OpSetProcessInfo
	OpGetThreadContext
	OpSetThreadContext
	OpQueueExceptionEvent
	OpContinueDebugEvent
	OpCreateEvent
	OpEventOp
	OpQueryEvent
	OpCreateMutex
	OpReleaseMutex
	OpQueryMutex
	OpCreateSemaphore
	OpReleaseSemaphore
	OpQuerySemaphore
	OpSelect
	OpQueueAPC
	OpGetAPC
	OpGetInprocSyncFd
	OpListObjects

	NumOpcodes
)

var opcodeNames = [NumOpcodes]string{
	OpInitProcess:         "init_process",
	OpInitThread:          "init_thread",
	OpNewThread:           "new_thread",
	OpTerminateThread:     "terminate_thread",
	OpTerminateProcess:    "terminate_process",
	OpSuspendThread:       "suspend_thread",
	OpResumeThread:        "resume_thread",
	OpSuspendProcess:      "suspend_process",
	OpResumeProcess:       "resume_process",
	OpCloseHandle:         "close_handle",
	OpDupHandle:           "dup_handle",
	OpSetHandleInfo:       "set_handle_info",
	OpOpenThread:          "open_thread",
	OpOpenProcess:         "open_process",
	OpGetThreadInfo:       "get_thread_info",
	OpSetThreadInfo:       "set_thread_info",
	OpGetProcessInfo:      "get_process_info",
	OpSetProcessInfo:      "set_process_info",
	OpGetThreadContext:    "get_thread_context",
	OpSetThreadContext:    "set_thread_context",
	OpQueueExceptionEvent: "queue_exception_event",
	OpContinueDebugEvent:  "continue_debug_event",
	OpCreateEvent:         "create_event",
	OpEventOp:             "event_op",
	OpQueryEvent:          "query_event",
	OpCreateMutex:         "create_mutex",
	OpReleaseMutex:        "release_mutex",
	OpQueryMutex:          "query_mutex",
	OpCreateSemaphore:     "create_semaphore",
	OpReleaseSemaphore:    "release_semaphore",
	OpQuerySemaphore:      "query_semaphore",
	OpSelect:              "select",
	OpQueueAPC:            "queue_apc",
	OpGetAPC:              "get_apc",
	OpGetInprocSyncFd:     "get_inproc_sync_fd",
	OpListObjects:         "list_objects",
}

func (o Opcode) String() string {
	if o < NumOpcodes {
		return opcodeNames[o]
	}
	return fmt.Sprintf("opcode(%d)", uint32(o))
}

// Valid reports whether o names a request.
func (o Opcode) Valid() bool {
	return o < NumOpcodes
}

// ParseOpcode looks an opcode up by name.
func ParseOpcode(name string) (Opcode, bool) {
	for i, n := range opcodeNames {
		if n == name {
			return Opcode(i), true
		}
	}
	return 0, false
}
