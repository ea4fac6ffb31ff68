package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/socketlink/internal/metrics"
	"github.com/rickgao/socketlink/internal/protocol"
	"github.com/rickgao/socketlink/internal/router"
)

// Manager owns the coordinator connection: dial, handshake, heartbeat,
// opcode dispatch and reconnect. Every state transition happens under mu.
type Manager struct {
	cfg     Config
	dialer  Dialer
	obs     Observer
	logger  *slog.Logger
	metrics *metrics.Metrics
	newID   func() string

	// Observer calls are queued here and delivered by dispatchLoop so
	// they never run under mu.
	notifications *router.GrowableBuffer[notification]
	dispatchDone  chan struct{}
	inCallback    atomic.Bool

	mu        sync.Mutex
	started   bool
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	state     State
	transport Transport
	session   Session

	// gen changes on every dial and every teardown. Reader goroutines and
	// timers carry the gen they were started with and are ignored once
	// it is stale.
	gen       uint64
	hbSeq     uint64
	heartbeat *time.Timer
	reconnect *time.Timer

	wg sync.WaitGroup // dial and read goroutines
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records lifecycle metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithDialer replaces the transport dialer derived from Config.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithIDGenerator replaces the UUID generator used for outbound EVENT ids.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a Connection Manager. obs may be nil.
func NewManager(cfg Config, obs Observer, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()
	if obs == nil {
		obs = Observers{}
	}

	m := &Manager{
		cfg:          cfg,
		obs:          obs,
		logger:       slog.Default(),
		newID:        uuid.NewString,
		dispatchDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "connection", "addr", cfg.Address())
	m.notifications = router.NewGrowableBuffer[notification](cfg.NotifyBufferSize)

	if m.dialer == nil {
		d, err := NewDialer(cfg)
		if err != nil {
			return nil, err
		}
		m.dialer = d
	}
	return m, nil
}

// Connect starts the lifecycle and returns without waiting for the dial.
// The manager then reconnects on its own until Close or ctx is cancelled.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)

	go m.dispatchLoop()
	m.dialLocked()
	return nil
}

// Disconnect drops the current session, telling the peer why on a best
// effort basis. A reconnect is scheduled as after any other close.
func (m *Manager) Disconnect(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked(reason)
}

// Close shuts the manager down for good: no further reconnects, pending
// timers are cancelled and queued notifications are flushed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.transport != nil {
		m.session.Ready = false
		m.sendPayloadLocked(protocol.OpDisconnect, protocol.ReasonShutdown, "", nil)
		m.teardownLocked(protocol.ReasonShutdown)
	} else {
		m.gen++
		m.state = StateDisconnected
	}
	cancel := m.cancel
	started := m.started
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.notifications.Close()
	// Called from an Observer callback: the dispatch goroutine is this
	// goroutine and drains the rest once the callback returns.
	if started && !m.inCallback.Load() {
		<-m.dispatchDone
	}
	m.logger.Info("connection manager closed")
	return nil
}

// Send writes msg if the transport is open. It returns false without side
// effects otherwise. Outbound EVENT messages get a fresh unique id.
func (m *Manager) Send(msg protocol.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendLocked(msg)
}

// SendPayload builds and sends a message.
func (m *Manager) SendPayload(op protocol.OpCode, data any, event string, intent *protocol.Intent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendPayloadLocked(op, data, event, intent)
}

// Emit sends an application EVENT.
func (m *Manager) Emit(event string, data any, intent *protocol.Intent) bool {
	return m.SendPayload(protocol.OpEvent, data, event, intent)
}

// ID returns the identity of the current session, empty before handshake.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID
}

// Ready reports whether the handshake completed on the current transport.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Ready
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the current session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// dialLocked starts a connect attempt for a new generation.
func (m *Manager) dialLocked() {
	m.gen++
	m.state = StateConnecting
	m.wg.Add(1)
	go m.dial(m.ctx, m.gen)
}

// dial runs one connect attempt outside the lock.
func (m *Manager) dial(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	m.logger.Debug("dialing coordinator", "transport", m.cfg.Transport)
	t, err := m.dialer.Dial(ctx)
	m.metrics.DialResult(err)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.closed {
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			m.state = StateDisconnected
			return
		}
		m.logger.Warn("dial failed", "error", err)
		m.notify(notification{kind: notifyError, err: fmt.Errorf("dial %s: %w", m.cfg.Address(), err)})
		m.state = StateDisconnected
		m.scheduleReconnectLocked()
		return
	}
	m.onConnectLocked(t)
}

// onConnectLocked starts a fresh session on t and sends the handshake.
func (m *Manager) onConnectLocked(t Transport) {
	m.transport = t
	m.session = Session{}
	m.state = StateConnected
	m.logger.Info("connected to coordinator", "remote", t.RemoteAddr())

	m.wg.Add(1)
	go m.readLoop(m.gen, t)

	// The heartbeat runs from connect so a peer that never completes the
	// handshake still ends in PING_TIMEOUT and a reconnect.
	m.armHeartbeatLocked()
	m.sendPayloadLocked(protocol.OpIdentify, protocol.IdentifyRequest{
		Group: m.cfg.Group,
		Token: m.cfg.Token,
	}, "", nil)
}

// readLoop delivers inbound units for one transport generation.
func (m *Manager) readLoop(gen uint64, t Transport) {
	defer m.wg.Done()

	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.onReadError(gen, err)
			return
		}
		m.onData(gen, data)
	}
}

func (m *Manager) onReadError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.transport == nil {
		return
	}
	if errors.Is(err, protocol.ErrMessageTooBig) {
		m.metrics.Oversized()
		m.disconnectLocked(protocol.ReasonMessageTooBig)
		return
	}
	if !errors.Is(err, io.EOF) {
		m.notify(notification{kind: notifyError, err: fmt.Errorf("read: %w", err)})
	}
	m.logger.Info("connection closed by peer", "error", err)
	m.teardownLocked("CONNECTION_CLOSED")
}

// onData handles one inbound delivery unit.
func (m *Manager) onData(gen uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.transport == nil {
		return
	}
	if len(data) > protocol.MaxMessageSize {
		m.metrics.Oversized()
		m.logger.Warn("inbound message too big", "size", len(data), "limit", protocol.MaxMessageSize)
		m.disconnectLocked(protocol.ReasonMessageTooBig)
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		m.metrics.DecodeError()
		m.logger.Debug("dropping malformed message", "error", err, "size", len(data))
		return
	}
	m.handleLocked(msg)
}

// handleLocked dispatches a decoded message by opcode.
func (m *Manager) handleLocked(msg protocol.Message) {
	opLabel := "unknown"
	if msg.Op.Known() {
		opLabel = msg.Op.String()
	}
	m.metrics.MessageReceived(opLabel)

	switch msg.Op {
	case protocol.OpEvent:
		m.notify(notification{kind: notifyEvent, msg: msg})
	case protocol.OpIdentify:
		m.identifyLocked(msg)
	case protocol.OpDisconnect:
		m.logger.Info("coordinator requested disconnect", "reason", protocol.DisconnectReason(msg))
		m.disconnectLocked(protocol.ReasonNone)
	case protocol.OpPing:
		m.sendPayloadLocked(protocol.OpPong, nil, "", nil)
		m.resetHeartbeatLocked()
	case protocol.OpPong:
		m.resetHeartbeatLocked()
	default:
		m.logger.Debug("ignoring unknown opcode", "op", int(msg.Op))
	}
}

// identifyLocked completes the handshake.
func (m *Manager) identifyLocked(msg protocol.Message) {
	if m.session.Ready {
		m.logger.Debug("ignoring repeated identify", "id", m.session.ID)
		return
	}
	resp, err := protocol.DecodeIdentify(msg)
	if err != nil {
		m.metrics.DecodeError()
		m.logger.Debug("dropping malformed identify", "error", err)
		return
	}

	m.session.ID = resp.ID
	m.session.HeartbeatHint = resp.HeartbeatHint()
	m.session.Ready = true
	m.state = StateReady
	m.metrics.SessionReady()
	m.logger.Info("identified by coordinator", "id", resp.ID, "heartbeat_hint", m.session.HeartbeatHint)

	m.notify(notification{kind: notifyIdentify, id: resp.ID})
	m.resetHeartbeatLocked()
}

// disconnectLocked notifies the peer, then tears the transport down.
func (m *Manager) disconnectLocked(reason string) {
	if m.transport == nil {
		return
	}
	if reason == "" {
		reason = protocol.ReasonNone
	}
	m.session.Ready = false
	// Best effort: the transport may already be half closed.
	m.sendPayloadLocked(protocol.OpDisconnect, reason, "", nil)
	m.teardownLocked(reason)
}

// teardownLocked closes the transport, resets the session and schedules
// the reconnect.
func (m *Manager) teardownLocked(reason string) {
	t := m.transport
	m.transport = nil
	m.gen++
	m.stopHeartbeatLocked()
	m.session = Session{}
	m.state = StateDisconnected

	if t != nil {
		if err := t.Close(); err != nil {
			m.logger.Debug("close transport", "error", err)
		}
	}
	m.metrics.Disconnected(reason)
	m.logger.Info("disconnected", "reason", reason)
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer.
func (m *Manager) scheduleReconnectLocked() {
	if m.closed || m.ctx == nil || m.ctx.Err() != nil {
		return
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	gen := m.gen
	m.reconnect = time.AfterFunc(m.cfg.ReconnectDelay, func() { m.onReconnect(gen) })
	m.metrics.ReconnectScheduled()
	m.logger.Info("reconnect scheduled", "delay", m.cfg.ReconnectDelay)
}

func (m *Manager) onReconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.gen || m.transport != nil || m.ctx.Err() != nil {
		return
	}
	m.reconnect = nil
	m.dialLocked()
}

// resetHeartbeatLocked records liveness and restarts the heartbeat period.
func (m *Manager) resetHeartbeatLocked() {
	m.session.PendingHeartbeat = false
	m.armHeartbeatLocked()
}

func (m *Manager) armHeartbeatLocked() {
	m.stopHeartbeatLocked()
	m.hbSeq++
	gen, seq := m.gen, m.hbSeq
	m.heartbeat = time.AfterFunc(m.heartbeatPeriodLocked(), func() { m.onHeartbeat(gen, seq) })
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

func (m *Manager) heartbeatPeriodLocked() time.Duration {
	if m.cfg.UseServerHeartbeat && m.session.HeartbeatHint > 0 {
		return m.session.HeartbeatHint
	}
	return m.cfg.HeartbeatInterval
}

func (m *Manager) onHeartbeat(gen, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || seq != m.hbSeq || m.transport == nil {
		return
	}
	m.heartbeatExpiredLocked()
}

// heartbeatExpiredLocked pings the peer, or drops the session if the
// previous ping went unanswered for a whole period.
func (m *Manager) heartbeatExpiredLocked() {
	if m.session.PendingHeartbeat {
		m.metrics.HeartbeatTimeout()
		m.logger.Warn("heartbeat timed out", "period", m.heartbeatPeriodLocked())
		m.heartbeat = nil
		m.disconnectLocked(protocol.ReasonPingTimeout)
		return
	}
	m.session.PendingHeartbeat = true
	m.sendPayloadLocked(protocol.OpPing, nil, "", nil)
	m.armHeartbeatLocked()
}

// sendPayloadLocked builds a message and sends it.
func (m *Manager) sendPayloadLocked(op protocol.OpCode, data any, event string, intent *protocol.Intent) bool {
	msg, err := protocol.NewMessage(op, event, data, intent)
	if err != nil {
		m.notify(notification{kind: notifyError, err: err})
		return false
	}
	return m.sendLocked(msg)
}

// sendLocked writes msg when the transport is open.
func (m *Manager) sendLocked(msg protocol.Message) bool {
	if m.transport == nil || (m.state != StateConnected && m.state != StateReady) {
		m.metrics.SendDropped()
		return false
	}
	if msg.Op == protocol.OpEvent {
		msg.ID = m.newID()
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		m.notify(notification{kind: notifyError, err: fmt.Errorf("encode %s: %w", msg.Op, err)})
		return false
	}
	if err := m.transport.WriteMessage(data); err != nil {
		m.notify(notification{kind: notifyError, err: fmt.Errorf("write %s: %w", msg.Op, err)})
		return false
	}
	m.metrics.MessageSent(msg.Op.String())
	return true
}

// notify queues an Observer call. Never blocks.
func (m *Manager) notify(n notification) {
	if !m.notifications.Send(n) {
		m.logger.Debug("dropping notification after close", "kind", n.kind)
	}
}

// dispatchLoop delivers notifications to the Observer in order.
func (m *Manager) dispatchLoop() {
	defer close(m.dispatchDone)

	for {
		n, ok := m.notifications.Receive()
		if !ok {
			return
		}
		m.deliver(n)
	}
}

func (m *Manager) deliver(n notification) {
	m.inCallback.Store(true)
	defer m.inCallback.Store(false)

	switch n.kind {
	case notifyError:
		m.obs.OnError(n.err)
	case notifyEvent:
		m.obs.OnEvent(n.msg)
	case notifyIdentify:
		m.obs.OnIdentify(n.id)
	}
}
