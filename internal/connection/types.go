package connection

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/rickgao/socketlink/internal/protocol"
)

// Errors
var (
	ErrAlreadyStarted   = errors.New("connection: already started")
	ErrClosed           = errors.New("connection: manager closed")
	ErrUnknownTransport = errors.New("connection: unknown transport")
)

// TransportKind selects how the manager reaches the coordinator.
type TransportKind string

const (
	TransportTCP       TransportKind = "tcp"
	TransportWebSocket TransportKind = "ws"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected // transport open, handshake pending
	StateReady     // handshake complete
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Session is the state of one connected transport. It is reset to the
// zero value on every disconnect.
type Session struct {
	ID               string        // coordinator-assigned identity
	Ready            bool          // handshake complete
	HeartbeatHint    time.Duration // 2x the coordinator's ping interval
	PendingHeartbeat bool          // PING sent, no PING/PONG seen since
}

// TLSConfig enables TLS on the tcp transport.
type TLSConfig struct {
	Enabled            bool
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config configures a Connection Manager.
type Config struct {
	Host  string
	Port  int
	Group string // logical partition the client belongs to
	Token string

	Transport TransportKind
	Path      string           // request path for the ws transport
	Framing   protocol.Framing // tcp only
	TLS       TLSConfig

	ReconnectDelay     time.Duration // fixed delay after any close
	HeartbeatInterval  time.Duration // period between liveness checks
	UseServerHeartbeat bool          // use the coordinator's hint instead of HeartbeatInterval
	ConnectTimeout     time.Duration // 0 = bounded only by the OS
	WriteTimeout       time.Duration
	NotifyBufferSize   int // initial capacity of the observer queue
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		Transport:         TransportTCP,
		Path:              "/",
		Framing:           protocol.FramingChunk,
		ReconnectDelay:    15 * time.Second,
		HeartbeatInterval: 60 * time.Second,
		WriteTimeout:      5 * time.Second,
		NotifyBufferSize:  256,
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// withDefaults fills zero-valued durations and sizes.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Transport == "" {
		c.Transport = d.Transport
	}
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.Framing == "" {
		c.Framing = d.Framing
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.NotifyBufferSize <= 0 {
		c.NotifyBufferSize = d.NotifyBufferSize
	}
	return c
}

// Observer receives the manager's outward notifications. Calls are made
// from a single goroutine, in the order the manager produced them.
// Callbacks may call back into the Manager, Close included; a Close made
// from a callback returns without waiting for the remaining notifications.
type Observer interface {
	OnError(err error)
	OnEvent(msg protocol.Message)
	OnIdentify(id string)
}

// Observers adapts plain funcs to Observer. Nil fields are ignored.
type Observers struct {
	Error    func(err error)
	Event    func(msg protocol.Message)
	Identify func(id string)
}

func (o Observers) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

func (o Observers) OnEvent(msg protocol.Message) {
	if o.Event != nil {
		o.Event(msg)
	}
}

func (o Observers) OnIdentify(id string) {
	if o.Identify != nil {
		o.Identify(id)
	}
}

type notifyKind int

const (
	notifyError notifyKind = iota
	notifyEvent
	notifyIdentify
)

// notification is one queued Observer call.
type notification struct {
	kind notifyKind
	err  error
	msg  protocol.Message
	id   string
}
