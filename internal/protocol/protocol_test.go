package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "event with intent",
			msg: Message{
				Op:     OpEvent,
				Event:  "user.joined",
				Data:   json.RawMessage(`{"user":"alice","seats":[1,2,3]}`),
				Intent: &Intent{Target: "group", Identifier: "lobby"},
			},
		},
		{
			name: "event without data",
			msg:  Message{Op: OpEvent, Event: "tick"},
		},
		{
			name: "identify request",
			msg:  Message{Op: OpIdentify, Data: json.RawMessage(`{"group":"bots","token":"s3cr3t"}`)},
		},
		{
			name: "identify response",
			msg:  Message{Op: OpIdentify, Data: json.RawMessage(`{"id":"node-7","ping":30000}`)},
		},
		{
			name: "disconnect",
			msg:  Message{Op: OpDisconnect, Data: json.RawMessage(`"PING_TIMEOUT"`)},
		},
		{
			name: "ping",
			msg:  Message{Op: OpPing},
		},
		{
			name: "pong",
			msg:  Message{Op: OpPong},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.msg)
			require.NoError(t, err)

			got, err := Decode(raw)
			require.NoError(t, err)
			require.Equal(t, tt.msg.Op, got.Op)
			require.Equal(t, tt.msg.Event, got.Event)
			require.Equal(t, string(tt.msg.Data), string(got.Data))
			require.Equal(t, tt.msg.Intent, got.Intent)
		})
	}
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	raw, err := Encode(Message{Op: OpPing})
	require.NoError(t, err)
	require.JSONEq(t, `{"op":3}`, string(raw))
}

func TestDecode(t *testing.T) {
	t.Run("missing op", func(t *testing.T) {
		_, err := Decode([]byte(`{"event":"x"}`))
		require.ErrorIs(t, err, ErrMissingOp)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Decode([]byte(`{"op":0,`))
		require.Error(t, err)
	})

	t.Run("null fields", func(t *testing.T) {
		msg, err := Decode([]byte(`{"op":0,"event":"e","data":null,"intent":null}`))
		require.NoError(t, err)
		require.Nil(t, msg.Data)
		require.Nil(t, msg.Intent)
	})

	t.Run("unknown opcode decodes", func(t *testing.T) {
		msg, err := Decode([]byte(`{"op":42}`))
		require.NoError(t, err)
		require.False(t, msg.Op.Known())
		require.Equal(t, "OP(42)", msg.Op.String())
	})
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(OpIdentify, "", IdentifyRequest{Group: "bots", Token: "t"}, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"group":"bots","token":"t"}`, string(msg.Data))

	msg, err = NewMessage(OpPing, "", nil, nil)
	require.NoError(t, err)
	require.Nil(t, msg.Data)

	_, err = NewMessage(OpEvent, "bad", make(chan int), nil)
	require.Error(t, err)
}

func TestDecodeIdentify(t *testing.T) {
	resp, err := DecodeIdentify(Message{Op: OpIdentify, Data: json.RawMessage(`{"id":"abc","ping":30000}`)})
	require.NoError(t, err)
	require.Equal(t, "abc", resp.ID)
	require.Equal(t, 60*time.Second, resp.HeartbeatHint())

	_, err = DecodeIdentify(Message{Op: OpIdentify})
	require.Error(t, err)

	_, err = DecodeIdentify(Message{Op: OpIdentify, Data: json.RawMessage(`{"ping":1}`)})
	require.Error(t, err)
}

func TestDecodeIdentify_NumberForms(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		wantID string
		hint   time.Duration
	}{
		{name: "float ping", data: `{"id":"c1","ping":30000.0}`, wantID: "c1", hint: 60 * time.Second},
		{name: "numeric id", data: `{"id":42,"ping":30000}`, wantID: "42", hint: 60 * time.Second},
		{name: "fractional ping", data: `{"id":"c2","ping":1.5}`, wantID: "c2", hint: 3 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeIdentify(Message{Op: OpIdentify, Data: json.RawMessage(tt.data)})
			require.NoError(t, err)
			require.Equal(t, tt.wantID, resp.ID)
			require.Equal(t, tt.hint, resp.HeartbeatHint())
		})
	}

	_, err := DecodeIdentify(Message{Op: OpIdentify, Data: json.RawMessage(`{"id":true,"ping":1}`)})
	require.Error(t, err)
}

func TestDisconnectReason(t *testing.T) {
	require.Equal(t, ReasonPingTimeout, DisconnectReason(Message{Op: OpDisconnect, Data: json.RawMessage(`"PING_TIMEOUT"`)}))
	require.Equal(t, ReasonNone, DisconnectReason(Message{Op: OpDisconnect}))
	require.Equal(t, ReasonNone, DisconnectReason(Message{Op: OpDisconnect, Data: json.RawMessage(`42`)}))
}

func TestOpCodeNames(t *testing.T) {
	for _, op := range []OpCode{OpEvent, OpIdentify, OpDisconnect, OpPing, OpPong} {
		got, ok := ParseOpCode(op.String())
		require.True(t, ok)
		require.Equal(t, op, got)
	}
	_, ok := ParseOpCode("NOPE")
	require.False(t, ok)
}

func TestLineReader(t *testing.T) {
	input := "{\"op\":3}\n\r\n{\"op\":4}\r\n{\"op\":0}"
	r, err := NewReader(FramingLine, strings.NewReader(input))
	require.NoError(t, err)

	for _, want := range []string{`{"op":3}`, `{"op":4}`, `{"op":0}`} {
		got, err := r.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
	_, err = r.ReadMessage()
	require.ErrorIs(t, err, io.EOF)
}

func TestLineReaderSizeBoundary(t *testing.T) {
	atLimit := bytes.Repeat([]byte("a"), MaxMessageSize)
	r, err := NewReader(FramingLine, bytes.NewReader(append(atLimit, '\n')))
	require.NoError(t, err)
	got, err := r.ReadMessage()
	require.NoError(t, err)
	require.Len(t, got, MaxMessageSize)

	overLimit := bytes.Repeat([]byte("a"), MaxMessageSize+1)
	r, err = NewReader(FramingLine, bytes.NewReader(append(overLimit, '\n')))
	require.NoError(t, err)
	_, err = r.ReadMessage()
	require.True(t, errors.Is(err, ErrMessageTooBig))
}

func TestLineReaderCRLFAtLimit(t *testing.T) {
	atLimit := bytes.Repeat([]byte("a"), MaxMessageSize)
	r, err := NewReader(FramingLine, bytes.NewReader(append(atLimit, '\r', '\n')))
	require.NoError(t, err)
	got, err := r.ReadMessage()
	require.NoError(t, err)
	require.Len(t, got, MaxMessageSize)

	overLimit := bytes.Repeat([]byte("a"), MaxMessageSize+1)
	r, err = NewReader(FramingLine, bytes.NewReader(append(overLimit, '\r', '\n')))
	require.NoError(t, err)
	_, err = r.ReadMessage()
	require.ErrorIs(t, err, ErrMessageTooBig)
}

func TestChunkReader(t *testing.T) {
	r, err := NewReader(FramingChunk, iotestOneByteChunks("ab"))
	require.NoError(t, err)

	got, err := r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "a", string(got))
	got, err = r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "b", string(got))
	_, err = r.ReadMessage()
	require.ErrorIs(t, err, io.EOF)
}

func TestFrame(t *testing.T) {
	require.Equal(t, `{"op":3}`, string(Frame(FramingChunk, []byte(`{"op":3}`))))
	require.Equal(t, "{\"op\":3}\n", string(Frame(FramingLine, []byte(`{"op":3}`))))
}

func TestNewReaderUnknownFraming(t *testing.T) {
	_, err := NewReader("xml", strings.NewReader(""))
	require.ErrorIs(t, err, ErrUnknownFraming)
}

// oneByteReader returns one byte per Read.
type oneByteReader struct{ data []byte }

func iotestOneByteChunks(s string) io.Reader { return &oneByteReader{data: []byte(s)} }

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(o.data) == 0 {
		return 0, io.EOF
	}
	p[0] = o.data[0]
	o.data = o.data[1:]
	return 1, nil
}
