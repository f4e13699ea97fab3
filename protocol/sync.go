package protocol

import "github.com/wippyai/ntserver/protocol/internal/wire"

// DupHandleRequest duplicates a handle between processes. A zero DstProcess
// only closes the source when DUPLICATE_CLOSE_SOURCE is set. A non-zero
// DstHint asks for that handle slot in the destination.
type DupHandleRequest struct {
	SrcProcess uint32
	SrcHandle  uint32
	DstProcess uint32
	DstHint    uint32
	Access     uint32
	Attributes uint32
	Options    uint32
}

func (*DupHandleRequest) Opcode() Opcode { return OpDupHandle }

func (m *DupHandleRequest) encode(f, _ *wire.Writer) {
	f.U32(m.SrcProcess)
	f.U32(m.SrcHandle)
	f.U32(m.DstProcess)
	f.U32(m.DstHint)
	f.U32(m.Access)
	f.U32(m.Attributes)
	f.U32(m.Options)
}

func (m *DupHandleRequest) decode(f, _ *wire.Reader) {
	m.SrcProcess = f.U32("src_process")
	m.SrcHandle = f.U32("src_handle")
	m.DstProcess = f.U32("dst_process")
	m.DstHint = f.U32("dst_hint")
	m.Access = f.U32("access")
	m.Attributes = f.U32("attributes")
	m.Options = f.U32("options")
}

// SetHandleInfoRequest changes the inherit flag of a handle.
type SetHandleInfoRequest struct {
	Handle  uint32
	Inherit bool
}

func (*SetHandleInfoRequest) Opcode() Opcode { return OpSetHandleInfo }

func (m *SetHandleInfoRequest) encode(f, _ *wire.Writer) {
	f.U32(m.Handle)
	f.Bool(m.Inherit)
}

func (m *SetHandleInfoRequest) decode(f, _ *wire.Reader) {
	m.Handle = f.U32("handle")
	m.Inherit = f.Bool("inherit")
}

// CreateEventRequest creates an event. The data is its name.
type CreateEventRequest struct {
	Access     uint32
	Attributes uint32
	Manual     bool
	Initial    bool
	Name       string
}

func (*CreateEventRequest) Opcode() Opcode { return OpCreateEvent }

func (m *CreateEventRequest) encode(f, d *wire.Writer) {
	f.U32(m.Access)
	f.U32(m.Attributes)
	f.Bool(m.Manual)
	f.Bool(m.Initial)
	d.WriteString(m.Name)
}

func (m *CreateEventRequest) decode(f, d *wire.Reader) {
	m.Access = f.U32("access")
	m.Attributes = f.U32("attributes")
	m.Manual = f.Bool("manual")
	m.Initial = f.Bool("initial")
	m.Name = d.String("name")
}

// Event operations.
const (
	EventSet uint32 = iota
	EventReset
	EventPulse
)

// EventOpRequest sets, resets or pulses an event.
type EventOpRequest struct {
	Handle uint32
	Op     uint32
}

func (*EventOpRequest) Opcode() Opcode { return OpEventOp }

func (m *EventOpRequest) encode(f, _ *wire.Writer) {
	f.U32(m.Handle)
	f.U32(m.Op)
}

func (m *EventOpRequest) decode(f, _ *wire.Reader) {
	m.Handle = f.U32("handle")
	m.Op = f.U32("op")
}

// EventStateReply reports the state of an event: the previous state for
// event_op, the current one for query_event.
type EventStateReply struct {
	Manual   bool
	Signaled bool
}

func (m *EventStateReply) encode(f, _ *wire.Writer) {
	f.Bool(m.Manual)
	f.Bool(m.Signaled)
}

func (m *EventStateReply) decode(f, _ *wire.Reader) {
	m.Manual = f.Bool("manual")
	m.Signaled = f.Bool("signaled")
}

// CreateMutexRequest creates a mutex. The data is its name.
type CreateMutexRequest struct {
	Access     uint32
	Attributes uint32
	Owned      bool
	Name       string
}

func (*CreateMutexRequest) Opcode() Opcode { return OpCreateMutex }

func (m *CreateMutexRequest) encode(f, d *wire.Writer) {
	f.U32(m.Access)
	f.U32(m.Attributes)
	f.Bool(m.Owned)
	d.WriteString(m.Name)
}

func (m *CreateMutexRequest) decode(f, d *wire.Reader) {
	m.Access = f.U32("access")
	m.Attributes = f.U32("attributes")
	m.Owned = f.Bool("owned")
	m.Name = d.String("name")
}

// MutexStateReply is the query_mutex reply.
type MutexStateReply struct {
	Count     uint32
	Owned     bool
	Abandoned bool
}

func (m *MutexStateReply) encode(f, _ *wire.Writer) {
	f.U32(m.Count)
	f.Bool(m.Owned)
	f.Bool(m.Abandoned)
}

func (m *MutexStateReply) decode(f, _ *wire.Reader) {
	m.Count = f.U32("count")
	m.Owned = f.Bool("owned")
	m.Abandoned = f.Bool("abandoned")
}

// CreateSemaphoreRequest creates a semaphore. The data is its name.
type CreateSemaphoreRequest struct {
	Access     uint32
	Attributes uint32
	Initial    uint32
	Max        uint32
	Name       string
}

func (*CreateSemaphoreRequest) Opcode() Opcode { return OpCreateSemaphore }

func (m *CreateSemaphoreRequest) encode(f, d *wire.Writer) {
	f.U32(m.Access)
	f.U32(m.Attributes)
	f.U32(m.Initial)
	f.U32(m.Max)
	d.WriteString(m.Name)
}

func (m *CreateSemaphoreRequest) decode(f, d *wire.Reader) {
	m.Access = f.U32("access")
	m.Attributes = f.U32("attributes")
	m.Initial = f.U32("initial")
	m.Max = f.U32("max")
	m.Name = d.String("name")
}

// ReleaseSemaphoreRequest adds to a semaphore count.
type ReleaseSemaphoreRequest struct {
	Handle uint32
	Count  uint32
}

func (*ReleaseSemaphoreRequest) Opcode() Opcode { return OpReleaseSemaphore }

func (m *ReleaseSemaphoreRequest) encode(f, _ *wire.Writer) {
	f.U32(m.Handle)
	f.U32(m.Count)
}

func (m *ReleaseSemaphoreRequest) decode(f, _ *wire.Reader) {
	m.Handle = f.U32("handle")
	m.Count = f.U32("count")
}

// SemaphoreStateReply is the query_semaphore reply.
type SemaphoreStateReply struct {
	Count uint32
	Max   uint32
}

func (m *SemaphoreStateReply) encode(f, _ *wire.Writer) {
	f.U32(m.Count)
	f.U32(m.Max)
}

func (m *SemaphoreStateReply) decode(f, _ *wire.Reader) {
	m.Count = f.U32("count")
	m.Max = f.U32("max")
}

// Select flags.
const (
	SelectAll           uint32 = 0x1
	SelectAlertable     uint32 = 0x2
	SelectInterruptible uint32 = 0x4
)

// TimeoutInfinite never expires.
const TimeoutInfinite int64 = -1

// SelectRequest waits on handles. Timeout is relative, in nanoseconds. The
// data is the handle list.
type SelectRequest struct {
	Flags   uint32
	Signal  uint32
	Cookie  uint64
	Timeout int64
	Handles []uint32
}

func (*SelectRequest) Opcode() Opcode { return OpSelect }

func (m *SelectRequest) encode(f, d *wire.Writer) {
	f.U32(m.Flags)
	f.U32(m.Signal)
	f.U64(m.Cookie)
	f.I64(m.Timeout)
	for _, h := range m.Handles {
		d.U32(h)
	}
}

func (m *SelectRequest) decode(f, d *wire.Reader) {
	m.Flags = f.U32("flags")
	m.Signal = f.U32("signal")
	m.Cookie = f.U64("cookie")
	m.Timeout = f.I64("timeout")
	m.Handles = make([]uint32, d.Len()/4)
	for i := range m.Handles {
		m.Handles[i] = d.U32("handle")
	}
	if d.Len() != 0 {
		d.Bytes(4, "handle")
	}
}

// QueueAPCRequest queues an APC to a thread.
type QueueAPCRequest struct {
	Thread uint32
	Type   uint32
	Func   uint64
	Args   [3]uint64
}

func (*QueueAPCRequest) Opcode() Opcode { return OpQueueAPC }

func (m *QueueAPCRequest) encode(f, _ *wire.Writer) {
	f.U32(m.Thread)
	f.U32(m.Type)
	f.U64(m.Func)
	for _, a := range m.Args {
		f.U64(a)
	}
}

func (m *QueueAPCRequest) decode(f, _ *wire.Reader) {
	m.Thread = f.U32("thread")
	m.Type = f.U32("type")
	m.Func = f.U64("func")
	for i := range m.Args {
		m.Args[i] = f.U64("arg")
	}
}

// GetAPCRequest completes the previous system APC, when Prev is set, and
// fetches the next APC of the caller.
type GetAPCRequest struct {
	System     bool
	Prev       uint32
	PrevStatus uint32
	PrevValue  uint64
}

func (*GetAPCRequest) Opcode() Opcode { return OpGetAPC }

func (m *GetAPCRequest) encode(f, _ *wire.Writer) {
	f.Bool(m.System)
	f.U32(m.Prev)
	f.U32(m.PrevStatus)
	f.Pad(4)
	f.U64(m.PrevValue)
}

func (m *GetAPCRequest) decode(f, _ *wire.Reader) {
	m.System = f.Bool("system")
	m.Prev = f.U32("prev")
	m.PrevStatus = f.U32("prev_status")
	f.Skip(4)
	m.PrevValue = f.U64("prev_value")
}

// APCReply describes a fetched APC. Type 0 means the queue was empty. System
// APCs come with a handle to report their result through.
type APCReply struct {
	Handle uint32
	Type   uint32
	Func   uint64
	Args   [3]uint64
}

func (m *APCReply) encode(f, _ *wire.Writer) {
	f.U32(m.Handle)
	f.U32(m.Type)
	f.U64(m.Func)
	for _, a := range m.Args {
		f.U64(a)
	}
}

func (m *APCReply) decode(f, _ *wire.Reader) {
	m.Handle = f.U32("handle")
	m.Type = f.U32("type")
	m.Func = f.U64("func")
	for i := range m.Args {
		m.Args[i] = f.U64("arg")
	}
}
