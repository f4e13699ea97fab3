package protocol

import "github.com/wippyai/ntserver/protocol/internal/wire"

// InitProcessRequest registers the calling host thread as the first thread
// of a new process.
type InitProcessRequest struct {
	UnixPID  int32
	UnixTID  int32
	Machine  uint16
	ParentID uint32
	Inherit  bool
}

func (*InitProcessRequest) Opcode() Opcode { return OpInitProcess }

func (m *InitProcessRequest) encode(f, _ *wire.Writer) {
	f.I32(m.UnixPID)
	f.I32(m.UnixTID)
	f.U16(m.Machine)
	f.Pad(2)
	f.U32(m.ParentID)
	f.Bool(m.Inherit)
}

func (m *InitProcessRequest) decode(f, _ *wire.Reader) {
	m.UnixPID = f.I32("unix_pid")
	m.UnixTID = f.I32("unix_tid")
	m.Machine = f.U16("machine")
	f.Skip(2)
	m.ParentID = f.U32("parent_id")
	m.Inherit = f.Bool("inherit")
}

// InitProcessReply carries the ids of the new process and thread. The data
// is the server instance id.
type InitProcessReply struct {
	ProcessID  uint32
	ThreadID   uint32
	Machine    uint16
	InstanceID [16]byte
}

func (m *InitProcessReply) encode(f, d *wire.Writer) {
	f.U32(m.ProcessID)
	f.U32(m.ThreadID)
	f.U16(m.Machine)
	d.WriteBytes(m.InstanceID[:])
}

func (m *InitProcessReply) decode(f, d *wire.Reader) {
	m.ProcessID = f.U32("process_id")
	m.ThreadID = f.U32("thread_id")
	m.Machine = f.U16("machine")
	copy(m.InstanceID[:], d.Bytes(16, "instance_id"))
}

// InitThreadRequest binds the calling connection to a thread made by
// new_thread.
type InitThreadRequest struct {
	ThreadID uint32
	UnixTID  int32
}

func (*InitThreadRequest) Opcode() Opcode { return OpInitThread }

func (m *InitThreadRequest) encode(f, _ *wire.Writer) {
	f.U32(m.ThreadID)
	f.I32(m.UnixTID)
}

func (m *InitThreadRequest) decode(f, _ *wire.Reader) {
	m.ThreadID = f.U32("thread_id")
	m.UnixTID = f.I32("unix_tid")
}

// InitThreadReply confirms the binding.
type InitThreadReply struct {
	ProcessID uint32
	ThreadID  uint32
	Suspended bool
}

func (m *InitThreadReply) encode(f, _ *wire.Writer) {
	f.U32(m.ProcessID)
	f.U32(m.ThreadID)
	f.Bool(m.Suspended)
}

func (m *InitThreadReply) decode(f, _ *wire.Reader) {
	m.ProcessID = f.U32("process_id")
	m.ThreadID = f.U32("thread_id")
	m.Suspended = f.Bool("suspended")
}

// NewThreadRequest creates a thread in a process. The host thread joins
// it later with init_thread.
type NewThreadRequest struct {
	Process    uint32
	Access     uint32
	Attributes uint32
	Suspend    bool
}

func (*NewThreadRequest) Opcode() Opcode { return OpNewThread }

func (m *NewThreadRequest) encode(f, _ *wire.Writer) {
	f.U32(m.Process)
	f.U32(m.Access)
	f.U32(m.Attributes)
	f.Bool(m.Suspend)
}

func (m *NewThreadRequest) decode(f, _ *wire.Reader) {
	m.Process = f.U32("process")
	m.Access = f.U32("access")
	m.Attributes = f.U32("attributes")
	m.Suspend = f.Bool("suspend")
}

// NewThreadReply returns the id and a handle of the new thread.
type NewThreadReply struct {
	ThreadID uint32
	Handle   uint32
}

func (m *NewThreadReply) encode(f, _ *wire.Writer) {
	f.U32(m.ThreadID)
	f.U32(m.Handle)
}

func (m *NewThreadReply) decode(f, _ *wire.Reader) {
	m.ThreadID = f.U32("thread_id")
	m.Handle = f.U32("handle")
}

// TerminateRequest terminates a thread or a process.
type TerminateRequest struct {
	Op       Opcode
	Handle   uint32
	ExitCode int32
}

func (m *TerminateRequest) Opcode() Opcode { return m.Op }

func (m *TerminateRequest) encode(f, _ *wire.Writer) {
	f.U32(m.Handle)
	f.I32(m.ExitCode)
}

func (m *TerminateRequest) decode(f, _ *wire.Reader) {
	m.Handle = f.U32("handle")
	m.ExitCode = f.I32("exit_code")
}

// TerminateReply reports whether the caller terminated itself.
type TerminateReply struct {
	Self bool
	Last bool
}

func (m *TerminateReply) encode(f, _ *wire.Writer) {
	f.Bool(m.Self)
	f.Bool(m.Last)
}

func (m *TerminateReply) decode(f, _ *wire.Reader) {
	m.Self = f.Bool("self")
	m.Last = f.Bool("last")
}

// HandleRequest is any request naming a single handle: suspend, resume,
// close and the queries.
type HandleRequest struct {
	Op     Opcode
	Handle uint32
}

func (m *HandleRequest) Opcode() Opcode { return m.Op }

func (m *HandleRequest) encode(f, _ *wire.Writer) { f.U32(m.Handle) }

func (m *HandleRequest) decode(f, _ *wire.Reader) { m.Handle = f.U32("handle") }

// CountReply returns a previous count: suspend counts, mutex recursion,
// semaphore counts.
type CountReply struct {
	Count uint32
}

func (m *CountReply) encode(f, _ *wire.Writer) { f.U32(m.Count) }

func (m *CountReply) decode(f, _ *wire.Reader) { m.Count = f.U32("count") }

// OpenRequest opens a thread or process by id.
type OpenRequest struct {
	Op         Opcode
	ID         uint32
	Access     uint32
	Attributes uint32
}

func (m *OpenRequest) Opcode() Opcode { return m.Op }

func (m *OpenRequest) encode(f, _ *wire.Writer) {
	f.U32(m.ID)
	f.U32(m.Access)
	f.U32(m.Attributes)
}

func (m *OpenRequest) decode(f, _ *wire.Reader) {
	m.ID = f.U32("id")
	m.Access = f.U32("access")
	m.Attributes = f.U32("attributes")
}

// HandleReply returns a new handle.
type HandleReply struct {
	Handle uint32
}

func (m *HandleReply) encode(f, _ *wire.Writer) { f.U32(m.Handle) }

func (m *HandleReply) decode(f, _ *wire.Reader) { m.Handle = f.U32("handle") }

// ThreadInfo is the get_thread_info reply.
type ThreadInfo struct {
	ProcessID    uint32
	ThreadID     uint32
	ExitCode     int32
	Priority     int32
	Affinity     uint64
	SuspendCount uint32
	State        uint32
	LastError    uint32
	UnixTID      int32
	Description  string
}

func (m *ThreadInfo) encode(f, d *wire.Writer) {
	f.U32(m.ProcessID)
	f.U32(m.ThreadID)
	f.I32(m.ExitCode)
	f.I32(m.Priority)
	f.U64(m.Affinity)
	f.U32(m.SuspendCount)
	f.U32(m.State)
	f.U32(m.LastError)
	f.I32(m.UnixTID)
	d.WriteString(m.Description)
}

func (m *ThreadInfo) decode(f, d *wire.Reader) {
	m.ProcessID = f.U32("process_id")
	m.ThreadID = f.U32("thread_id")
	m.ExitCode = f.I32("exit_code")
	m.Priority = f.I32("priority")
	m.Affinity = f.U64("affinity")
	m.SuspendCount = f.U32("suspend_count")
	m.State = f.U32("state")
	m.LastError = f.U32("last_error")
	m.UnixTID = f.I32("unix_tid")
	m.Description = d.String("description")
}

// set_thread_info and set_process_info masks.
const (
	SetInfoPriority    uint32 = 0x1
	SetInfoAffinity    uint32 = 0x2
	SetInfoDescription uint32 = 0x4
)

// SetInfoRequest changes thread or process information selected by Mask.
// The data is the new thread description.
type SetInfoRequest struct {
	Op          Opcode
	Handle      uint32
	Mask        uint32
	Priority    int32
	Affinity    uint64
	Description string
}

func (m *SetInfoRequest) Opcode() Opcode { return m.Op }

func (m *SetInfoRequest) encode(f, d *wire.Writer) {
	f.U32(m.Handle)
	f.U32(m.Mask)
	f.I32(m.Priority)
	f.Pad(4)
	f.U64(m.Affinity)
	d.WriteString(m.Description)
}

func (m *SetInfoRequest) decode(f, d *wire.Reader) {
	m.Handle = f.U32("handle")
	m.Mask = f.U32("mask")
	m.Priority = f.I32("priority")
	f.Skip(4)
	m.Affinity = f.U64("affinity")
	m.Description = d.String("description")
}

// ProcessInfo is the get_process_info reply.
type ProcessInfo struct {
	ProcessID    uint32
	ParentID     uint32
	ExitCode     int32
	Priority     int32
	Affinity     uint64
	Threads      uint32
	Handles      uint32
	SuspendCount uint32
	Terminated   bool
	UnixPID      int32
}

func (m *ProcessInfo) encode(f, _ *wire.Writer) {
	f.U32(m.ProcessID)
	f.U32(m.ParentID)
	f.I32(m.ExitCode)
	f.I32(m.Priority)
	f.U64(m.Affinity)
	f.U32(m.Threads)
	f.U32(m.Handles)
	f.U32(m.SuspendCount)
	f.Bool(m.Terminated)
	f.I32(m.UnixPID)
}

func (m *ProcessInfo) decode(f, _ *wire.Reader) {
	m.ProcessID = f.U32("process_id")
	m.ParentID = f.U32("parent_id")
	m.ExitCode = f.I32("exit_code")
	m.Priority = f.I32("priority")
	m.Affinity = f.U64("affinity")
	m.Threads = f.U32("threads")
	m.Handles = f.U32("handles")
	m.SuspendCount = f.U32("suspend_count")
	m.Terminated = f.Bool("terminated")
	m.UnixPID = f.I32("unix_pid")
}

// ObjectCount is one entry of the list_objects reply.
type ObjectCount struct {
	Kind uint32
	Live uint32
}

// ProcessEntry describes one running process in the list_objects reply.
type ProcessEntry struct {
	ProcessID uint32
	UnixPID   int32
	Threads   uint32
	Handles   uint32
}

// ListObjectsRequest asks for a summary of the object model.
type ListObjectsRequest struct{}

func (*ListObjectsRequest) Opcode() Opcode { return OpListObjects }

func (*ListObjectsRequest) encode(_, _ *wire.Writer) {}

func (*ListObjectsRequest) decode(_, _ *wire.Reader) {}

// ListObjectsReply carries live object counts and the running processes.
type ListObjectsReply struct {
	Objects   []ObjectCount
	Processes []ProcessEntry
}

func (m *ListObjectsReply) encode(f, d *wire.Writer) {
	f.U32(uint32(len(m.Objects)))
	f.U32(uint32(len(m.Processes)))
	for _, o := range m.Objects {
		d.U32(o.Kind)
		d.U32(o.Live)
	}
	for _, p := range m.Processes {
		d.U32(p.ProcessID)
		d.I32(p.UnixPID)
		d.U32(p.Threads)
		d.U32(p.Handles)
	}
}

func (m *ListObjectsReply) decode(f, d *wire.Reader) {
	objects := f.U32("objects")
	processes := f.U32("processes")
	if int(objects)*8+int(processes)*16 > d.Len() {
		d.Bytes(int(objects)*8+int(processes)*16, "entries")
		return
	}
	m.Objects = make([]ObjectCount, objects)
	for i := range m.Objects {
		m.Objects[i] = ObjectCount{Kind: d.U32("kind"), Live: d.U32("live")}
	}
	m.Processes = make([]ProcessEntry, processes)
	for i := range m.Processes {
		m.Processes[i] = ProcessEntry{
			ProcessID: d.U32("process_id"),
			UnixPID:   d.I32("unix_pid"),
			Threads:   d.U32("threads"),
			Handles:   d.U32("handles"),
		}
	}
}
