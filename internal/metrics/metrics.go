package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "socketlink"

// Metrics holds the Prometheus collectors.
type Metrics struct {
	dials              *prometheus.CounterVec
	disconnects        *prometheus.CounterVec
	reconnects         prometheus.Counter
	messagesIn         *prometheus.CounterVec
	messagesOut        *prometheus.CounterVec
	decodeErrors       prometheus.Counter
	droppedSends       prometheus.Counter
	oversized          prometheus.Counter
	heartbeatTimeouts  prometheus.Counter
	sessionReady       prometheus.Gauge
	journalRows        *prometheus.CounterVec
	journalFlushErrors prometheus.Counter
}

// New registers all collectors on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		dials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dials_total",
			Help:      "Connection attempts by result",
		}, []string{"result"}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Closed sessions by reason",
		}, []string{"reason"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a close",
		}),

		messagesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Decoded inbound messages by opcode",
		}, []string{"op"}),

		messagesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages written by opcode",
		}, []string{"op"}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound deliveries that failed to decode and were dropped",
		}),

		droppedSends: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_sends_total",
			Help:      "Sends rejected because the transport was not open",
		}),

		oversized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oversized_messages_total",
			Help:      "Inbound deliveries larger than the message size limit",
		}),

		heartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Sessions closed after an unanswered ping",
		}),

		sessionReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_ready",
			Help:      "1 while the handshake has completed on the current connection",
		}),

		journalRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "rows_total",
			Help:      "Journal rows by outcome",
		}, []string{"outcome"}),

		journalFlushErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "flush_errors_total",
			Help:      "Failed journal batch flushes",
		}),
	}
}

// DialResult records a connection attempt.
func (m *Metrics) DialResult(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.dials.WithLabelValues("error").Inc()
		return
	}
	m.dials.WithLabelValues("ok").Inc()
}

// Disconnected records a closed session.
func (m *Metrics) Disconnected(reason string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(reason).Inc()
	m.sessionReady.Set(0)
}

// ReconnectScheduled records a scheduled reconnect.
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// MessageReceived records a decoded inbound message.
func (m *Metrics) MessageReceived(op string) {
	if m == nil {
		return
	}
	m.messagesIn.WithLabelValues(op).Inc()
}

// MessageSent records a written outbound message.
func (m *Metrics) MessageSent(op string) {
	if m == nil {
		return
	}
	m.messagesOut.WithLabelValues(op).Inc()
}

// DecodeError records a malformed inbound delivery.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// SendDropped records a send rejected while not connected.
func (m *Metrics) SendDropped() {
	if m == nil {
		return
	}
	m.droppedSends.Inc()
}

// Oversized records an inbound delivery over the size limit.
func (m *Metrics) Oversized() {
	if m == nil {
		return
	}
	m.oversized.Inc()
}

// HeartbeatTimeout records a session closed for an unanswered ping.
func (m *Metrics) HeartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

// SessionReady records a completed handshake.
func (m *Metrics) SessionReady() {
	if m == nil {
		return
	}
	m.sessionReady.Set(1)
}

// JournalRows records journal insert outcomes.
func (m *Metrics) JournalRows(inserted, conflicts int) {
	if m == nil {
		return
	}
	m.journalRows.WithLabelValues("inserted").Add(float64(inserted))
	m.journalRows.WithLabelValues("conflict").Add(float64(conflicts))
}

// JournalFlushError records a failed journal flush.
func (m *Metrics) JournalFlushError() {
	if m == nil {
		return
	}
	m.journalFlushErrors.Inc()
}
