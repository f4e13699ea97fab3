package kernel

// Standard and generic access rights.
const (
	AccessDelete          uint32 = 0x00010000
	AccessReadControl     uint32 = 0x00020000
	AccessWriteDAC        uint32 = 0x00040000
	AccessWriteOwner      uint32 = 0x00080000
	AccessSynchronize     uint32 = 0x00100000
	StandardRightsAll     uint32 = 0x000f0000
	StandardRightsRead           = AccessReadControl
	StandardRightsWrite          = AccessReadControl
	StandardRightsExecute        = AccessReadControl

	MaximumAllowed uint32 = 0x02000000
	GenericAll     uint32 = 0x10000000
	GenericExecute uint32 = 0x20000000
	GenericWrite   uint32 = 0x40000000
	GenericRead    uint32 = 0x80000000
)

// Event, mutex and semaphore rights.
const (
	EventQueryState  uint32 = 0x0001
	EventModifyState uint32 = 0x0002
	EventAllAccess          = StandardRightsAll | AccessSynchronize | 0x3

	MutantQueryState uint32 = 0x0001
	MutantAllAccess         = StandardRightsAll | AccessSynchronize | 0x1

	SemaphoreQueryState  uint32 = 0x0001
	SemaphoreModifyState uint32 = 0x0002
	SemaphoreAllAccess          = StandardRightsAll | AccessSynchronize | 0x3
)

// Thread rights.
const (
	ThreadTerminate               uint32 = 0x0001
	ThreadSuspendResume           uint32 = 0x0002
	ThreadAlert                   uint32 = 0x0004
	ThreadGetContext              uint32 = 0x0008
	ThreadSetContext              uint32 = 0x0010
	ThreadSetInformation          uint32 = 0x0020
	ThreadQueryInformation        uint32 = 0x0040
	ThreadSetLimitedInformation   uint32 = 0x0400
	ThreadQueryLimitedInformation uint32 = 0x0800
	ThreadAllAccess                      = StandardRightsAll | AccessSynchronize | 0xffff
)

// Process rights.
const (
	ProcessTerminate               uint32 = 0x0001
	ProcessCreateThread            uint32 = 0x0002
	ProcessVMOperation             uint32 = 0x0008
	ProcessVMRead                  uint32 = 0x0010
	ProcessVMWrite                 uint32 = 0x0020
	ProcessDupHandle               uint32 = 0x0040
	ProcessCreateProcess           uint32 = 0x0080
	ProcessSetQuota                uint32 = 0x0100
	ProcessSetInformation          uint32 = 0x0200
	ProcessQueryInformation        uint32 = 0x0400
	ProcessSuspendResume           uint32 = 0x0800
	ProcessQueryLimitedInformation uint32 = 0x1000
	ProcessAllAccess                      = StandardRightsAll | AccessSynchronize | 0xffff
)

const (
	threadWrite = StandardRightsWrite | ThreadSetInformation | ThreadSetContext |
		ThreadSuspendResume | ThreadTerminate | ThreadAlert
	processWrite = StandardRightsWrite | ProcessCreateThread | ProcessVMOperation | ProcessVMWrite |
		ProcessDupHandle | ProcessCreateProcess | ProcessSetQuota | ProcessSetInformation |
		ProcessSuspendResume | ProcessTerminate
)

// GenericMapping maps the four generic rights of one object kind.
type GenericMapping struct {
	Read, Write, Execute, All uint32
}

var mappings = map[Kind]GenericMapping{
	KindEvent: {
		Read:    StandardRightsRead | EventQueryState,
		Write:   StandardRightsWrite | EventModifyState,
		Execute: StandardRightsExecute | AccessSynchronize,
		All:     EventAllAccess,
	},
	KindMutex: {
		Read:    StandardRightsRead | MutantQueryState,
		Write:   StandardRightsWrite,
		Execute: StandardRightsExecute | AccessSynchronize,
		All:     MutantAllAccess,
	},
	KindSemaphore: {
		Read:    StandardRightsRead | SemaphoreQueryState,
		Write:   StandardRightsWrite | SemaphoreModifyState,
		Execute: StandardRightsExecute | AccessSynchronize,
		All:     SemaphoreAllAccess,
	},
	KindThread: {
		Read:    StandardRightsRead | ThreadQueryInformation | ThreadGetContext,
		Write:   threadWrite,
		Execute: StandardRightsExecute | AccessSynchronize | ThreadQueryLimitedInformation,
		All:     ThreadAllAccess,
	},
	KindProcess: {
		Read:    StandardRightsRead | ProcessVMRead | ProcessQueryInformation,
		Write:   processWrite,
		Execute: StandardRightsExecute | AccessSynchronize | ProcessQueryLimitedInformation,
		All:     ProcessAllAccess,
	},
	KindAPC: {
		Read:    StandardRightsRead,
		Write:   StandardRightsWrite,
		Execute: StandardRightsExecute | AccessSynchronize,
		All:     StandardRightsAll | AccessSynchronize,
	},
}

// MapAccess replaces the generic rights in access with the specific rights
// of kind, and expands the rights that imply their limited variants.
func MapAccess(kind Kind, access uint32) uint32 {
	m := mappings[kind]
	if access&MaximumAllowed != 0 {
		access = (access &^ MaximumAllowed) | GenericAll
	}
	if access&GenericRead != 0 {
		access |= m.Read
	}
	if access&GenericWrite != 0 {
		access |= m.Write
	}
	if access&GenericExecute != 0 {
		access |= m.Execute
	}
	if access&GenericAll != 0 {
		access |= m.All
	}
	access &^= GenericRead | GenericWrite | GenericExecute | GenericAll

	switch kind {
	case KindThread:
		if access&ThreadQueryInformation != 0 {
			access |= ThreadQueryLimitedInformation
		}
		if access&ThreadSetInformation != 0 {
			access |= ThreadSetLimitedInformation
		}
	case KindProcess:
		if access&ProcessQueryInformation != 0 {
			access |= ProcessQueryLimitedInformation
		}
	}
	return access
}

// FullAccess returns every right of kind.
func FullAccess(kind Kind) uint32 {
	return mappings[kind].All
}
