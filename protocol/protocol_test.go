package protocol_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/protocol"
)

func TestHeaderLayout(t *testing.T) {
	for _, tt := range []struct {
		layout        protocol.Layout
		request, resp int
	}{
		{protocol.Layout32, 12, 8},
		{protocol.Layout64, 16, 16},
	} {
		t.Run(tt.layout.String(), func(t *testing.T) {
			assert.Equal(t, tt.request, tt.layout.RequestHeaderSize())
			assert.Equal(t, tt.resp, tt.layout.ReplyHeaderSize())

			req, err := protocol.NewRequest(tt.layout, &protocol.EventOpRequest{Handle: 0x10004, Op: protocol.EventPulse}, 32)
			require.NoError(t, err)
			var buf bytes.Buffer
			require.NoError(t, protocol.WriteRequest(&buf, tt.layout, req))

			raw := buf.Bytes()
			require.Len(t, raw, protocol.FixedSize)
			assert.Equal(t, uint32(protocol.OpEventOp), binary.LittleEndian.Uint32(raw[0:]))
			assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(raw[4:]))
			assert.Equal(t, uint32(32), binary.LittleEndian.Uint32(raw[8:]))
			assert.Equal(t, uint32(0x10004), binary.LittleEndian.Uint32(raw[tt.request:]))
			assert.Equal(t, protocol.EventPulse, binary.LittleEndian.Uint32(raw[tt.request+4:]))
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	l := protocol.Layout64
	in := &protocol.SelectRequest{
		Flags:   protocol.SelectAll | protocol.SelectAlertable,
		Cookie:  0xfeedface,
		Timeout: protocol.TimeoutInfinite,
		Handles: []uint32{4, 8, 12},
	}
	req, err := protocol.NewRequest(l, in, 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, protocol.WriteRequest(&buf, l, req))
	assert.Equal(t, protocol.FixedSize+12, buf.Len())

	got, err := protocol.ReadRequest(&buf, l, 1024)
	require.NoError(t, err)
	assert.Equal(t, protocol.OpSelect, got.Op)
	assert.Equal(t, -1, got.Fd)

	var out protocol.SelectRequest
	require.NoError(t, got.Decode(&out))
	assert.Equal(t, *in, out)
}

func TestReplyRoundTrip(t *testing.T) {
	l := protocol.Layout32
	rep, err := protocol.NewReply(l, errors.StatusAccessDenied, &protocol.ThreadInfo{
		ProcessID: 4, ThreadID: 8, ExitCode: -1, Affinity: 3, Description: "worker",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, protocol.WriteReply(&buf, l, rep))
	got, err := protocol.ReadReply(&buf, l, 1024)
	require.NoError(t, err)
	assert.Equal(t, errors.StatusAccessDenied, got.Status)

	var info protocol.ThreadInfo
	require.NoError(t, got.Decode(&info))
	assert.Equal(t, int32(-1), info.ExitCode)
	assert.Equal(t, "worker", info.Description)
}

func TestOversizeRequest(t *testing.T) {
	l := protocol.Layout64
	req, err := protocol.NewRequest(l, &protocol.CreateEventRequest{Name: string(make([]byte, 100))}, 0)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteRequest(&buf, l, req))

	_, err = protocol.ReadRequest(&buf, l, 64)
	assert.True(t, errors.IsProtocol(err))
}

func TestTruncatedStream(t *testing.T) {
	_, err := protocol.ReadRequest(bytes.NewReader(nil), protocol.Layout64, 64)
	assert.Equal(t, io.EOF, err, "clean end of stream")

	_, err = protocol.ReadRequest(bytes.NewReader(make([]byte, 10)), protocol.Layout64, 64)
	assert.True(t, errors.IsProtocol(err))

	hdr := make([]byte, protocol.FixedSize)
	binary.LittleEndian.PutUint32(hdr[4:], 8)
	_, err = protocol.ReadRequest(bytes.NewReader(hdr), protocol.Layout64, 64)
	assert.True(t, errors.IsProtocol(err))
}

func TestDecodeShortData(t *testing.T) {
	req := &protocol.Request{Op: protocol.OpSelect, Fields: make([]byte, 48), Data: []byte{1, 2, 3, 4, 5}}
	var sel protocol.SelectRequest
	assert.True(t, errors.IsProtocol(req.Decode(&sel)))
}

func TestContextCodec(t *testing.T) {
	c := cpucontext.MustNew(cpucontext.MachineAMD64)
	require.NoError(t, c.SetReg("rip", 0x1234))
	require.NoError(t, c.SetReg("dr7", 0x400))

	b := protocol.EncodeContext(c)
	got, err := protocol.DecodeContext(b)
	require.NoError(t, err)
	assert.Equal(t, c.Flags, got.Flags)
	assert.True(t, c.Equal(got, c.Flags))

	_, err = protocol.DecodeContext(b[:len(b)-1])
	assert.True(t, errors.IsProtocol(err))

	_, err = protocol.DecodeContext(append(b, 0))
	assert.True(t, errors.IsProtocol(err))
}

func TestContextRequestBadData(t *testing.T) {
	req := &protocol.Request{Op: protocol.OpSetThreadContext, Fields: make([]byte, 48), Data: []byte{0x64, 0x86, 0, 0, 1, 0, 0, 0}}
	var m protocol.ContextRequest
	assert.True(t, errors.IsProtocol(req.Decode(&m)))
}

func TestWake(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteWake(&buf, protocol.Wake{Cookie: 7, Status: errors.StatusTimeout}))
	assert.Equal(t, protocol.WakeSize, buf.Len())
	wk, err := protocol.ReadWake(&buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.Wake{Cookie: 7, Status: errors.StatusTimeout}, wk)
}

func TestOpcodeNames(t *testing.T) {
	for op := protocol.Opcode(0); op < protocol.NumOpcodes; op++ {
		name := op.String()
		require.NotEmpty(t, name, "opcode %d has no name", op)
		back, ok := protocol.ParseOpcode(name)
		require.True(t, ok)
		assert.Equal(t, op, back)
	}
	assert.False(t, protocol.NumOpcodes.Valid())
}

func TestListObjectsReply(t *testing.T) {
	in := &protocol.ListObjectsReply{
		Objects:   []protocol.ObjectCount{{Kind: 1, Live: 2}},
		Processes: []protocol.ProcessEntry{{ProcessID: 4, UnixPID: 99, Threads: 1, Handles: 3}},
	}
	rep, err := protocol.NewReply(protocol.Layout64, 0, in)
	require.NoError(t, err)
	var out protocol.ListObjectsReply
	require.NoError(t, rep.Decode(&out))
	assert.Equal(t, *in, out)
}
