// Command coordsim runs a minimal coordinator for trying socketlink locally.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/socketlink/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7400", "listen address")
	framing := flag.String("framing", string(protocol.FramingChunk), "chunk or line")
	ping := flag.Duration("ping", 30*time.Second, "ping interval advertised and used")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}
	logger.Info("coordinator listening", "addr", ln.Addr().String(), "framing", *framing, "ping", *ping)

	srv := newServer(protocol.Framing(*framing), *ping, logger)
	if err := srv.serve(ctx, ln); err != nil {
		logger.Error("serve failed", "error", err)
		os.Exit(1)
	}
	logger.Info("coordinator stopped")
}
