package config

import (
	"time"

	"github.com/rickgao/socketlink/internal/connection"
	"github.com/rickgao/socketlink/internal/protocol"
)

// Config is the root configuration for a socketlink instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance" toml:"instance"`
	Socket   SocketConfig   `yaml:"socket" toml:"socket"`
	Log      LogConfig      `yaml:"log" toml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	Journal  JournalConfig  `yaml:"journal" toml:"journal"`
	Database DBConfig       `yaml:"database" toml:"database"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id" toml:"id"`
}

// SocketConfig holds the coordinator connection settings.
type SocketConfig struct {
	Host  string `yaml:"host" toml:"host"`
	Port  int    `yaml:"port" toml:"port"`
	Group string `yaml:"group" toml:"group"`
	Token string `yaml:"token" toml:"token"`

	Transport string    `yaml:"transport" toml:"transport"` // tcp or ws
	Path      string    `yaml:"path" toml:"path"`           // ws only
	Framing   string    `yaml:"framing" toml:"framing"`     // chunk or line, tcp only
	TLS       TLSConfig `yaml:"tls" toml:"tls"`

	ReconnectDelay     time.Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	UseServerHeartbeat bool          `yaml:"use_server_heartbeat" toml:"use_server_heartbeat"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" toml:"write_timeout"`
}

// TLSConfig enables TLS to the coordinator.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled" toml:"enabled"`
	CAFile             string `yaml:"ca_file" toml:"ca_file"`
	ServerName         string `yaml:"server_name" toml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text or json
}

// MetricsConfig holds the ops HTTP server settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Port      int    `yaml:"port" toml:"port"`
	Path      string `yaml:"path" toml:"path"`
	Namespace string `yaml:"namespace" toml:"namespace"`
}

// JournalConfig controls persisting inbound events to PostgreSQL.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	Table         string        `yaml:"table" toml:"table"`
	BatchSize     int           `yaml:"batch_size" toml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size" toml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	SSLMode  string `yaml:"ssl_mode" toml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
	MinConns int    `yaml:"min_conns" toml:"min_conns"`
}

// ConnectionConfig converts the socket section for the Connection Manager.
func (s SocketConfig) ConnectionConfig() connection.Config {
	return connection.Config{
		Host:      s.Host,
		Port:      s.Port,
		Group:     s.Group,
		Token:     s.Token,
		Transport: connection.TransportKind(s.Transport),
		Path:      s.Path,
		Framing:   protocol.Framing(s.Framing),
		TLS: connection.TLSConfig{
			Enabled:            s.TLS.Enabled,
			CAFile:             s.TLS.CAFile,
			ServerName:         s.TLS.ServerName,
			InsecureSkipVerify: s.TLS.InsecureSkipVerify,
		},
		ReconnectDelay:     s.ReconnectDelay,
		HeartbeatInterval:  s.HeartbeatInterval,
		UseServerHeartbeat: s.UseServerHeartbeat,
		ConnectTimeout:     s.ConnectTimeout,
		WriteTimeout:       s.WriteTimeout,
	}
}
