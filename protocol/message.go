package protocol

import (
	"encoding/binary"
	stderrors "errors"
	"io"

	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/protocol/internal/wire"
)

// Message is a request or reply payload. Fields go to the fixed part and
// variable data after it.
type Message interface {
	encode(fields, data *wire.Writer)
	decode(fields, data *wire.Reader)
}

// RequestMessage is a request payload.
type RequestMessage interface {
	Message
	Opcode() Opcode
}

// Request is one framed request. Fields is the fixed part after the header.
type Request struct {
	Op        Opcode
	ReplySize uint32
	Fields    []byte
	Data      []byte
	// Fd is a descriptor passed alongside the request, -1 for none.
	Fd int
}

// Reply is one framed reply.
type Reply struct {
	Status errors.Status
	Fields []byte
	Data   []byte
	// Fd is a descriptor passed alongside the reply, -1 for none.
	Fd int
}

// NewRequest encodes m. replySize caps the variable reply data the caller
// accepts.
func NewRequest(l Layout, m RequestMessage, replySize uint32) (*Request, error) {
	fields, data := wire.NewWriter(), wire.NewWriter()
	m.encode(fields, data)
	if fields.Len() > l.RequestFieldSize() {
		return nil, errors.ProtocolError("%s fields take %d bytes, %d fit", m.Opcode(), fields.Len(), l.RequestFieldSize())
	}
	return &Request{Op: m.Opcode(), ReplySize: replySize, Fields: fields.Bytes(), Data: data.Bytes(), Fd: -1}, nil
}

// Decode fills m from the request.
func (r *Request) Decode(m Message) error {
	return decode(r.Op.String(), r.Fields, r.Data, m)
}

// NewReply encodes m, which may be nil for replies without fields.
func NewReply(l Layout, status errors.Status, m Message) (*Reply, error) {
	rep := &Reply{Status: status, Fd: -1}
	if m == nil {
		return rep, nil
	}
	fields, data := wire.NewWriter(), wire.NewWriter()
	m.encode(fields, data)
	if fields.Len() > l.ReplyFieldSize() {
		return nil, errors.ProtocolError("reply fields take %d bytes, %d fit", fields.Len(), l.ReplyFieldSize())
	}
	rep.Fields = fields.Bytes()
	rep.Data = data.Bytes()
	return rep, nil
}

// Decode fills m from the reply.
func (r *Reply) Decode(m Message) error {
	return decode("reply", r.Fields, r.Data, m)
}

func decode(what string, fields, data []byte, m Message) error {
	fr, dr := wire.NewReader(fields), wire.NewReader(data)
	m.decode(fr, dr)
	if err := fr.Err(); err != nil {
		return errors.New(errors.PhaseProtocol, errors.KindProtocol).Object(what).Cause(err).Detail("bad fields").Build()
	}
	if err := dr.Err(); err != nil {
		return errors.New(errors.PhaseProtocol, errors.KindProtocol).Object(what).Cause(err).Detail("bad data").Build()
	}
	return nil
}

// ReadRequest reads one request. A clean end of stream before the first
// byte returns io.EOF; anything else malformed is a ProtocolError.
func ReadRequest(r io.Reader, l Layout, maxLen int) (*Request, error) {
	var fixed [FixedSize]byte
	if err := readFixed(r, fixed[:]); err != nil {
		return nil, err
	}
	op := Opcode(binary.LittleEndian.Uint32(fixed[0:]))
	size := binary.LittleEndian.Uint32(fixed[4:])
	replySize := binary.LittleEndian.Uint32(fixed[8:])
	if int64(size) > int64(maxLen) {
		return nil, errors.ProtocolError("%s carries %d bytes, limit is %d", op, size, maxLen)
	}
	req := &Request{
		Op:        op,
		ReplySize: replySize,
		Fields:    append([]byte(nil), fixed[l.RequestHeaderSize():]...),
		Fd:        -1,
	}
	if size > 0 {
		req.Data = make([]byte, size)
		if _, err := io.ReadFull(r, req.Data); err != nil {
			return nil, errors.New(errors.PhaseProtocol, errors.KindProtocol).Cause(err).
				Detail("%s data truncated", op).Build()
		}
	}
	return req, nil
}

// WriteRequest frames req.
func WriteRequest(w io.Writer, l Layout, req *Request) error {
	if len(req.Fields) > l.RequestFieldSize() {
		return errors.ProtocolError("%s fields overflow the fixed part", req.Op)
	}
	buf := wire.NewWriter()
	buf.U32(uint32(req.Op))
	buf.U32(uint32(len(req.Data)))
	buf.U32(req.ReplySize)
	buf.PadTo(l.RequestHeaderSize())
	buf.WriteBytes(req.Fields)
	buf.PadTo(FixedSize)
	buf.WriteBytes(req.Data)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteReply frames rep.
func WriteReply(w io.Writer, l Layout, rep *Reply) error {
	if len(rep.Fields) > l.ReplyFieldSize() {
		return errors.ProtocolError("reply fields overflow the fixed part")
	}
	buf := wire.NewWriter()
	buf.U32(uint32(rep.Status))
	buf.U32(uint32(len(rep.Data)))
	buf.PadTo(l.ReplyHeaderSize())
	buf.WriteBytes(rep.Fields)
	buf.PadTo(FixedSize)
	buf.WriteBytes(rep.Data)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadReply reads one reply.
func ReadReply(r io.Reader, l Layout, maxLen int) (*Reply, error) {
	var fixed [FixedSize]byte
	if err := readFixed(r, fixed[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(fixed[4:])
	if int64(size) > int64(maxLen) {
		return nil, errors.ProtocolError("reply carries %d bytes, limit is %d", size, maxLen)
	}
	rep := &Reply{
		Status: errors.Status(binary.LittleEndian.Uint32(fixed[0:])),
		Fields: append([]byte(nil), fixed[l.ReplyHeaderSize():]...),
		Fd:     -1,
	}
	if size > 0 {
		rep.Data = make([]byte, size)
		if _, err := io.ReadFull(r, rep.Data); err != nil {
			return nil, errors.New(errors.PhaseProtocol, errors.KindProtocol).Cause(err).
				Detail("reply data truncated").Build()
		}
	}
	return rep, nil
}

func readFixed(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return nil
	case n == 0 && stderrors.Is(err, io.EOF):
		return io.EOF
	}
	return errors.New(errors.PhaseProtocol, errors.KindProtocol).Cause(err).
		Detail("header truncated after %d bytes", n).Build()
}

// WakeSize is the size of a wake message.
const WakeSize = 16

// Wake completes a select that was answered with STATUS_PENDING. It is the
// next message the server sends to that thread.
type Wake struct {
	Cookie uint64
	Status errors.Status
}

// WriteWake frames a wake message.
func WriteWake(w io.Writer, wk Wake) error {
	buf := wire.NewWriter()
	buf.U64(wk.Cookie)
	buf.U32(uint32(wk.Status))
	buf.PadTo(WakeSize)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadWake reads a wake message.
func ReadWake(r io.Reader) (Wake, error) {
	var buf [WakeSize]byte
	if err := readFixed(r, buf[:]); err != nil {
		return Wake{}, err
	}
	return Wake{
		Cookie: binary.LittleEndian.Uint64(buf[0:]),
		Status: errors.Status(binary.LittleEndian.Uint32(buf[8:])),
	}, nil
}
