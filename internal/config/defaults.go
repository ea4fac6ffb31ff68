package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultTransport         = "tcp"
	DefaultFraming           = "chunk"
	DefaultWSPath            = "/"
	DefaultReconnectDelay    = 15 * time.Second
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
	DefaultMetricsNamespace  = "socketlink"
	DefaultJournalTable      = "socket_events"
	DefaultJournalBatchSize  = 500
	DefaultJournalFlush      = 1 * time.Second
	DefaultJournalBufferSize = 10000
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
)

func (c *Config) applyDefaults() {
	// Socket defaults
	if c.Socket.Transport == "" {
		c.Socket.Transport = DefaultTransport
	}
	if c.Socket.Framing == "" {
		c.Socket.Framing = DefaultFraming
	}
	if c.Socket.Path == "" {
		c.Socket.Path = DefaultWSPath
	}
	if c.Socket.ReconnectDelay == 0 {
		c.Socket.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Socket.HeartbeatInterval == 0 {
		c.Socket.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Socket.WriteTimeout == 0 {
		c.Socket.WriteTimeout = DefaultWriteTimeout
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}

	// Journal defaults
	if c.Journal.Table == "" {
		c.Journal.Table = DefaultJournalTable
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultJournalBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultJournalFlush
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	applyDBDefaults(&c.Database)
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
