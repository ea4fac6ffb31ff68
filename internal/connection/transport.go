package connection

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/socketlink/internal/protocol"
)

// Transport is the capability the manager holds on one open connection.
type Transport interface {
	// ReadMessage blocks for the next delivery unit. io.EOF marks an
	// orderly close by the peer.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one encoded message.
	WriteMessage(data []byte) error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// Dialer opens transports to the coordinator.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a func to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }

// NewDialer returns the dialer for cfg.Transport.
func NewDialer(cfg Config) (Dialer, error) {
	cfg = cfg.withDefaults()
	switch cfg.Transport {
	case TransportTCP:
		if _, err := protocol.NewReader(cfg.Framing, strings.NewReader("")); err != nil {
			return nil, err
		}
		return &tcpDialer{cfg: cfg}, nil
	case TransportWebSocket:
		return &wsDialer{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}

// tcpDialer dials raw TCP, optionally wrapped in TLS.
type tcpDialer struct {
	cfg Config
}

func (d *tcpDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", d.cfg.Address())
	if err != nil {
		return nil, err
	}

	conn := rawConn
	if d.cfg.TLS.Enabled {
		tlsCfg, err := clientTLSConfig(d.cfg)
		if err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		tlsConn := tls.Client(rawConn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	reader, err := protocol.NewReader(d.cfg.Framing, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &tcpTransport{
		conn:         conn,
		reader:       reader,
		framing:      d.cfg.Framing,
		writeTimeout: d.cfg.WriteTimeout,
	}, nil
}

// clientTLSConfig builds the TLS client configuration.
func clientTLSConfig(cfg Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		ServerName:         cfg.Host,
	}
	if name := strings.TrimSpace(cfg.TLS.ServerName); name != "" {
		tlsCfg.ServerName = name
	}

	if caPath := strings.TrimSpace(cfg.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read tls ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("parse tls ca bundle: %s", caPath)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

type tcpTransport struct {
	conn         net.Conn
	reader       protocol.Reader
	framing      protocol.Framing
	writeTimeout time.Duration
}

func (t *tcpTransport) ReadMessage() ([]byte, error) {
	data, err := t.reader.ReadMessage()
	if errors.Is(err, net.ErrClosed) {
		return nil, io.EOF
	}
	return data, err
}

func (t *tcpTransport) WriteMessage(data []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := t.conn.Write(protocol.Frame(t.framing, data))
	return err
}

func (t *tcpTransport) Close() error {
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// wsDialer dials a WebSocket endpoint; one text message is one unit.
type wsDialer struct {
	cfg Config
}

func (d *wsDialer) url() string {
	scheme := "ws"
	if d.cfg.TLS.Enabled {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: d.cfg.Address(), Path: d.cfg.Path}
	return u.String()
}

func (d *wsDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.ConnectTimeout,
	}
	if d.cfg.TLS.Enabled {
		tlsCfg, err := clientTLSConfig(d.cfg)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}

	conn, _, err := dialer.DialContext(ctx, d.url(), nil)
	if err != nil {
		return nil, err
	}
	// Frames past the limit are refused before their payload is buffered.
	conn.SetReadLimit(protocol.MaxMessageSize)
	return &wsTransport{conn: conn, writeTimeout: d.cfg.WriteTimeout}, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, protocol.ErrMessageTooBig
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
			errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(100*time.Millisecond),
	)
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
