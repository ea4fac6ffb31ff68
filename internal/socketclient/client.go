package socketclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rickgao/socketlink/internal/config"
	"github.com/rickgao/socketlink/internal/connection"
	"github.com/rickgao/socketlink/internal/protocol"
	"github.com/rickgao/socketlink/internal/router"
)

// Name is the module name the client registers under.
const Name = "socket_client"

// Client binds a Connection Manager to the host bus and log sink.
type Client struct {
	bus    router.Bus
	logger *slog.Logger
	mgr    *connection.Manager
}

// New creates a Client from the socket configuration. bus may be nil, in
// which case events are only logged. Extra options are passed to the manager.
func New(cfg config.SocketConfig, bus router.Bus, logger *slog.Logger, opts ...connection.Option) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		bus:    bus,
		logger: logger.With("module", Name, "category", "SOCKET"),
	}

	opts = append([]connection.Option{connection.WithLogger(c.logger)}, opts...)
	mgr, err := connection.NewManager(cfg.ConnectionConfig(), c, opts...)
	if err != nil {
		return nil, err
	}
	c.mgr = mgr
	return c, nil
}

// Init starts the connection lifecycle. It reports success as soon as the
// first attempt is dispatched, not when the session becomes ready.
func (c *Client) Init(ctx context.Context) bool {
	if err := c.mgr.Connect(ctx); err != nil {
		c.logger.Error("failed to start socket client", "error", err)
		return false
	}
	return true
}

// OnError logs a manager error.
func (c *Client) OnError(err error) {
	c.logger.Error("encountered an error", "error", err)
}

// OnEvent republishes a coordinator event on the bus under its own name.
func (c *Client) OnEvent(msg protocol.Message) {
	if c.bus == nil {
		c.logger.Debug("event received", "event", msg.Event)
		return
	}
	env := router.Envelope{
		Event:      msg.Event,
		Data:       msg.Data,
		Intent:     msg.Intent,
		MessageID:  msg.ID,
		ReceivedAt: time.Now(),
	}
	if !c.bus.Publish(env) {
		c.logger.Warn("bus closed, dropping event", "event", msg.Event)
	}
}

// OnIdentify logs the new identity and announces it on the bus.
func (c *Client) OnIdentify(id string) {
	c.logger.Info("connected to socket server", "identifier", id)
	if c.bus == nil {
		return
	}
	data, _ := json.Marshal(id)
	c.bus.Publish(router.Envelope{
		Event:      router.EventIdentified,
		Data:       data,
		ReceivedAt: time.Now(),
	})
}

// Emit sends an application event to the coordinator.
func (c *Client) Emit(event string, data any, intent *protocol.Intent) bool {
	return c.mgr.Emit(event, data, intent)
}

// Send writes a prebuilt message.
func (c *Client) Send(msg protocol.Message) bool {
	return c.mgr.Send(msg)
}

// Ready reports whether the coordinator handshake has completed.
func (c *Client) Ready() bool { return c.mgr.Ready() }

// ID returns the coordinator-assigned identity.
func (c *Client) ID() string { return c.mgr.ID() }

// Manager exposes the underlying Connection Manager.
func (c *Client) Manager() *connection.Manager { return c.mgr }

// Close shuts the connection down permanently.
func (c *Client) Close() error {
	return c.mgr.Close()
}
