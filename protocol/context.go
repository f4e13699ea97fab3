package protocol

import (
	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/protocol/internal/wire"
)

// ContextHeaderSize is the machine and flags prefix of an encoded context.
const ContextHeaderSize = 8

// EncodeContext serializes the valid groups of c: machine, flags, then the
// registers of each flagged group in register file order.
func EncodeContext(c *cpucontext.Context) []byte {
	w := wire.NewWriter()
	writeContext(w, c)
	return w.Bytes()
}

func writeContext(w *wire.Writer, c *cpucontext.Context) {
	w.U16(uint16(c.Machine))
	w.Pad(2)
	w.U32(uint32(c.Flags))
	for g := cpucontext.GroupControl; g&cpucontext.GroupAll != 0; g <<= 1 {
		if c.Flags&g == 0 {
			continue
		}
		for _, v := range c.Values(g) {
			w.U64(v)
		}
	}
}

// DecodeContext parses an encoded context.
func DecodeContext(b []byte) (*cpucontext.Context, error) {
	r := wire.NewReader(b)
	c, err := readContext(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errors.ProtocolError("context has %d trailing bytes", r.Len())
	}
	return c, nil
}

func readContext(r *wire.Reader) (*cpucontext.Context, error) {
	m := cpucontext.Machine(r.U16("machine"))
	r.Skip(2)
	flags := cpucontext.Group(r.U32("flags"))
	if err := r.Err(); err != nil {
		return nil, errors.New(errors.PhaseProtocol, errors.KindProtocol).Cause(err).Detail("context header").Build()
	}
	c, err := cpucontext.New(m)
	if err != nil {
		return nil, err
	}
	if flags&^cpucontext.GroupAll != 0 {
		return nil, errors.ProtocolError("context flags %#x", uint32(flags))
	}
	for g := cpucontext.GroupControl; g&cpucontext.GroupAll != 0; g <<= 1 {
		if flags&g == 0 {
			continue
		}
		vals := c.Values(g)
		for i := range vals {
			vals[i] = r.U64("register")
		}
	}
	if err := r.Err(); err != nil {
		return nil, errors.New(errors.PhaseProtocol, errors.KindProtocol).Cause(err).Detail("context registers").Build()
	}
	c.Flags = flags
	return c, nil
}

func decodeContextData(d *wire.Reader) *cpucontext.Context {
	if d.Len() == 0 {
		return nil
	}
	c, err := DecodeContext(d.Remaining())
	if err != nil {
		d.Fail("context", err)
		return nil
	}
	return c
}

// ContextRequest reads or writes the registers of a thread. For
// set_thread_context the data is the encoded context.
type ContextRequest struct {
	Op      Opcode
	Handle  uint32
	Groups  uint32
	Context *cpucontext.Context
}

func (m *ContextRequest) Opcode() Opcode { return m.Op }

func (m *ContextRequest) encode(f, d *wire.Writer) {
	f.U32(m.Handle)
	f.U32(m.Groups)
	if m.Context != nil {
		writeContext(d, m.Context)
	}
}

func (m *ContextRequest) decode(f, d *wire.Reader) {
	m.Handle = f.U32("handle")
	m.Groups = f.U32("groups")
	m.Context = decodeContextData(d)
}

// ContextReply carries the registers read.
type ContextReply struct {
	Context *cpucontext.Context
}

func (m *ContextReply) encode(_, d *wire.Writer) {
	if m.Context != nil {
		writeContext(d, m.Context)
	}
}

func (m *ContextReply) decode(_, d *wire.Reader) {
	m.Context = decodeContextData(d)
}

// ExceptionEventRequest stops the caller in a debug event. The data is the
// context captured at the fault.
type ExceptionEventRequest struct {
	Code    uint32
	Address uint64
	Context *cpucontext.Context
}

func (*ExceptionEventRequest) Opcode() Opcode { return OpQueueExceptionEvent }

func (m *ExceptionEventRequest) encode(f, d *wire.Writer) {
	f.U32(m.Code)
	f.Pad(4)
	f.U64(m.Address)
	if m.Context != nil {
		writeContext(d, m.Context)
	}
}

func (m *ExceptionEventRequest) decode(f, d *wire.Reader) {
	m.Code = f.U32("code")
	f.Skip(4)
	m.Address = f.U64("address")
	m.Context = decodeContextData(d)
}

// ContinueDebugEventRequest lets a thread stopped in a debug event go on.
type ContinueDebugEventRequest struct {
	ThreadID uint32
}

func (*ContinueDebugEventRequest) Opcode() Opcode { return OpContinueDebugEvent }

func (m *ContinueDebugEventRequest) encode(f, _ *wire.Writer) { f.U32(m.ThreadID) }

func (m *ContinueDebugEventRequest) decode(f, _ *wire.Reader) { m.ThreadID = f.U32("thread_id") }
