package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rickgao/socketlink/internal/connection"
	"github.com/rickgao/socketlink/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type inbox struct {
	mu     sync.Mutex
	events []protocol.Message
}

func (b *inbox) add(msg protocol.Message) {
	b.mu.Lock()
	b.events = append(b.events, msg)
	b.mu.Unlock()
}

func (b *inbox) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.events {
		out = append(out, m.Event)
	}
	return out
}

func startSim(t *testing.T) (string, int, *server) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := newServer(protocol.FramingLine, time.Hour, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port, srv
}

func startClient(t *testing.T, host string, port int, group string) (*connection.Manager, *inbox) {
	t.Helper()
	box := &inbox{}
	cfg := connection.Config{
		Host:              host,
		Port:              port,
		Group:             group,
		Token:             "t",
		Framing:           protocol.FramingLine,
		ReconnectDelay:    time.Hour,
		HeartbeatInterval: time.Hour,
	}
	m, err := connection.NewManager(cfg, connection.Observers{Event: box.add},
		connection.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Close() })
	require.Eventually(t, m.Ready, 2*time.Second, 5*time.Millisecond)
	return m, box
}

func TestServer_RoutesEvents(t *testing.T) {
	host, port, srv := startSim(t)

	a, _ := startClient(t, host, port, "workers")
	b, bBox := startClient(t, host, port, "workers")
	_, cBox := startClient(t, host, port, "other")
	require.Eventually(t, func() bool { return srv.peerCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	// No intent: the sender's group.
	require.True(t, a.Emit("group.broadcast", map[string]int{"n": 1}, nil))
	require.Eventually(t, func() bool { return len(bBox.names()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// Addressed to one client by identity.
	require.True(t, b.Emit("direct", nil, &protocol.Intent{Target: "client", Identifier: a.ID()}))
	// Addressed to another group.
	require.True(t, a.Emit("cross", nil, &protocol.Intent{Target: "group", Identifier: "other"}))

	require.Eventually(t, func() bool { return len(cBox.names()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"cross"}, cBox.names())
	require.Equal(t, []string{"group.broadcast"}, bBox.names())
}

func TestServer_AnswersPing(t *testing.T) {
	host, port, _ := startSim(t)
	m, _ := startClient(t, host, port, "workers")

	require.True(t, m.SendPayload(protocol.OpPing, nil, "", nil))
	// The PONG resets the heartbeat; the session stays up.
	time.Sleep(20 * time.Millisecond)
	require.True(t, m.Ready())
}

func TestServer_UnregistersOnDisconnect(t *testing.T) {
	host, port, srv := startSim(t)
	m, _ := startClient(t, host, port, "workers")
	require.Eventually(t, func() bool { return srv.peerCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())
	require.Eventually(t, func() bool { return srv.peerCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
