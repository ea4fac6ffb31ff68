package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/socketlink/internal/protocol"
)

// peer is one identified client.
type peer struct {
	id    string
	group string

	mu   sync.Mutex
	conn net.Conn
	f    protocol.Framing
}

func (p *peer) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = p.conn.Write(protocol.Frame(p.f, data))
	return err
}

// server is a minimal coordinator: it assigns identities, pings, and
// routes events between clients by intent.
type server struct {
	logger  *slog.Logger
	framing protocol.Framing
	ping    time.Duration

	mu    sync.Mutex
	peers map[string]*peer
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func newServer(framing protocol.Framing, ping time.Duration, logger *slog.Logger) *server {
	return &server{
		logger:  logger,
		framing: framing,
		ping:    ping,
		peers:   make(map[string]*peer),
		conns:   make(map[net.Conn]struct{}),
	}
}

// serve accepts connections until ctx is cancelled.
func (s *server) serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.closeAll()
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		_ = p.send(protocol.Message{Op: protocol.OpDisconnect, Data: []byte(`"SHUTDOWN"`)})
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *server) handle(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	logger := s.logger.With("remote", conn.RemoteAddr().String())
	reader, err := protocol.NewReader(s.framing, conn)
	if err != nil {
		logger.Error("bad framing", "error", err)
		return
	}

	p := &peer{conn: conn, f: s.framing}
	defer s.unregister(p)

	stopPing := make(chan struct{})
	defer close(stopPing)

	for {
		data, err := reader.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn("read failed", "error", err)
			}
			return
		}
		if len(data) > protocol.MaxMessageSize {
			_ = p.send(protocol.Message{Op: protocol.OpDisconnect, Data: []byte(`"MESSAGE_TOO_BIG"`)})
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Debug("dropping malformed message", "error", err)
			continue
		}

		switch msg.Op {
		case protocol.OpIdentify:
			if p.id != "" {
				continue
			}
			var req protocol.IdentifyRequest
			if err := msg.DecodeData(&req); err != nil {
				logger.Debug("bad identify", "error", err)
				continue
			}
			p.id, p.group = uuid.NewString(), req.Group
			s.register(p)
			reply, _ := protocol.NewMessage(protocol.OpIdentify, "", protocol.IdentifyResponse{
				ID:   p.id,
				Ping: float64(s.ping.Milliseconds()),
			}, nil)
			_ = p.send(reply)
			logger.Info("client identified", "id", p.id, "group", p.group)
			s.wg.Add(1)
			go s.pingLoop(p, stopPing)

		case protocol.OpPing:
			_ = p.send(protocol.Message{Op: protocol.OpPong})

		case protocol.OpPong:

		case protocol.OpEvent:
			s.route(p, msg)

		case protocol.OpDisconnect:
			logger.Info("client disconnected", "id", p.id, "reason", protocol.DisconnectReason(msg))
			return

		default:
			logger.Debug("ignoring unknown opcode", "op", int(msg.Op))
		}
	}
}

func (s *server) pingLoop(p *peer, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.send(protocol.Message{Op: protocol.OpPing}); err != nil {
				return
			}
		}
	}
}

// route delivers an event by intent. target "client" addresses one id,
// target "group" a group; with no intent the sender's group gets it.
func (s *server) route(from *peer, msg protocol.Message) {
	if from.id == "" {
		return
	}
	msg.ID = ""

	s.mu.Lock()
	var targets []*peer
	for _, p := range s.peers {
		if p == from {
			continue
		}
		switch {
		case msg.Intent == nil:
			if p.group == from.group {
				targets = append(targets, p)
			}
		case msg.Intent.Target == "client":
			if p.id == msg.Intent.Identifier {
				targets = append(targets, p)
			}
		case msg.Intent.Target == "group":
			if p.group == msg.Intent.Identifier {
				targets = append(targets, p)
			}
		}
	}
	s.mu.Unlock()

	s.logger.Info("routing event", "event", msg.Event, "from", from.id, "targets", len(targets))
	for _, p := range targets {
		if err := p.send(msg); err != nil {
			s.logger.Warn("deliver failed", "to", p.id, "error", err)
		}
	}
}

func (s *server) register(p *peer) {
	s.mu.Lock()
	s.peers[p.id] = p
	s.mu.Unlock()
}

func (s *server) unregister(p *peer) {
	if p.id == "" {
		return
	}
	s.mu.Lock()
	delete(s.peers, p.id)
	s.mu.Unlock()
}

func (s *server) peerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
