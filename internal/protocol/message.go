package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MaxMessageSize is the largest inbound delivery unit accepted, in bytes.
const MaxMessageSize = 32 * 1024

// Disconnect reasons carried in the data field of a DISCONNECT message.
const (
	ReasonNone          = "NO_REASON"
	ReasonPingTimeout   = "PING_TIMEOUT"
	ReasonMessageTooBig = "MESSAGE_TOO_BIG"
	ReasonShutdown      = "SHUTDOWN"
)

// Errors
var (
	ErrMessageTooBig = errors.New("protocol: message too big")
	ErrMissingOp     = errors.New("protocol: missing op")
)

// Intent is an opaque routing hint passed through with a message.
type Intent struct {
	Target     string `json:"target"`
	Identifier string `json:"identifier"`
}

// Message is one protocol message.
type Message struct {
	Op     OpCode          `json:"op"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Intent *Intent         `json:"intent,omitempty"`
	ID     string          `json:"id,omitempty"` // set on outbound EVENT only
}

// IdentifyRequest is the client half of the handshake.
type IdentifyRequest struct {
	Group string `json:"group"`
	Token string `json:"token"`
}

// IdentifyResponse is the coordinator half of the handshake.
type IdentifyResponse struct {
	ID   string  `json:"id"`
	Ping float64 `json:"ping"` // base heartbeat interval in milliseconds
}

// UnmarshalJSON accepts the id as a JSON string or number and the ping
// interval as any JSON number.
func (r *IdentifyResponse) UnmarshalJSON(b []byte) error {
	var w struct {
		ID   json.RawMessage `json:"id"`
		Ping float64         `json:"ping"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	id, err := decodeID(w.ID)
	if err != nil {
		return err
	}
	r.ID, r.Ping = id, w.Ping
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id must be a string or number: %w", err)
	}
	return n.String(), nil
}

// HeartbeatHint is twice the coordinator's ping interval.
func (r IdentifyResponse) HeartbeatHint() time.Duration {
	return time.Duration(2 * r.Ping * float64(time.Millisecond))
}

// NewMessage builds a message, JSON-encoding data when it is not nil.
func NewMessage(op OpCode, event string, data any, intent *Intent) (Message, error) {
	msg := Message{Op: op, Event: event, Intent: intent}
	if data == nil {
		return msg, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		msg.Data = raw
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s data: %w", op, err)
	}
	msg.Data = raw
	return msg, nil
}

// Encode serializes a message to its JSON wire form.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// wireMessage distinguishes a missing "op" from op 0.
type wireMessage struct {
	Op     *OpCode         `json:"op"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Intent *Intent         `json:"intent"`
	ID     string          `json:"id"`
}

// Decode parses one JSON document into a Message.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if w.Op == nil {
		return Message{}, ErrMissingOp
	}
	msg := Message{
		Op:     *w.Op,
		Event:  w.Event,
		Intent: w.Intent,
		ID:     w.ID,
	}
	// JSON null is the same as no data.
	if len(w.Data) > 0 && string(w.Data) != "null" {
		msg.Data = w.Data
	}
	return msg, nil
}

// DecodeData unmarshals the message payload into v.
func (m Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("decode %s data: empty payload", m.Op)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Op, err)
	}
	return nil
}

// DecodeIdentify extracts a handshake response from an IDENTIFY message.
func DecodeIdentify(m Message) (IdentifyResponse, error) {
	var resp IdentifyResponse
	if err := m.DecodeData(&resp); err != nil {
		return IdentifyResponse{}, err
	}
	if resp.ID == "" {
		return IdentifyResponse{}, errors.New("decode IDENTIFY data: missing id")
	}
	return resp, nil
}

// DisconnectReason returns the reason string of a DISCONNECT message.
func DisconnectReason(m Message) string {
	var reason string
	if err := json.Unmarshal(m.Data, &reason); err != nil || reason == "" {
		return ReasonNone
	}
	return reason
}
