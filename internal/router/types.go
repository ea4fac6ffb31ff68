package router

import (
	"encoding/json"
	"time"

	"github.com/rickgao/socketlink/internal/protocol"
)

// EventIdentified is published once per session when the coordinator
// assigns an identity. Its Data is the identity as a JSON string.
const EventIdentified = "identified"

// Envelope is one application event on the bus.
type Envelope struct {
	Event      string
	Data       json.RawMessage
	Intent     *protocol.Intent
	MessageID  string    // coordinator-assigned id, empty if none
	ReceivedAt time.Time // local timestamp when the event reached the bus
}

// Handler consumes envelopes. Handlers run on the bus dispatch goroutine
// and must not block for long.
type Handler func(Envelope)

// BusConfig holds configuration for the event bus.
type BusConfig struct {
	BufferSize int // initial queue capacity, grows on demand
}

// DefaultBusConfig returns default configuration.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		BufferSize: 1024,
	}
}

// BusStats contains runtime statistics.
type BusStats struct {
	Published    int64
	Delivered    int64
	Unrouted     int64 // envelopes with no subscriber
	HandlerPanic int64
	Dropped      int64 // discarded by a Stop that timed out
	Queue        BufferStats
}
