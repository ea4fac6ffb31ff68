package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/socketlink/internal/config"
	"github.com/rickgao/socketlink/internal/protocol"
	"github.com/rickgao/socketlink/internal/socketclient"
)

func emitCmd() *cobra.Command {
	var (
		data       string
		target     string
		identifier string
		opName     string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "emit [event]",
		Short: "Connect, send one message and disconnect",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			op, err := parseOp(opName)
			if err != nil {
				return err
			}
			var event string
			if len(args) > 0 {
				event = args[0]
			}
			if op == protocol.OpEvent && event == "" {
				return errors.New("an event name is required for EVENT")
			}

			var intent *protocol.Intent
			if target != "" || identifier != "" {
				intent = &protocol.Intent{Target: target, Identifier: identifier}
			}
			var payload json.RawMessage
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				payload = json.RawMessage(data)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return emitOnce(ctx, configPath, op, event, payload, intent)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "event payload as JSON")
	cmd.Flags().StringVar(&target, "target", "", "intent target")
	cmd.Flags().StringVar(&identifier, "identifier", "", "intent identifier")
	cmd.Flags().StringVar(&opName, "op", "EVENT", "opcode to send: EVENT, PING, PONG or DISCONNECT")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time to wait for the handshake")

	return cmd
}

// parseOp resolves an opcode name for emit. IDENTIFY belongs to the
// handshake and is refused.
func parseOp(name string) (protocol.OpCode, error) {
	op, ok := protocol.ParseOpCode(strings.ToUpper(strings.TrimSpace(name)))
	if !ok {
		return 0, fmt.Errorf("unknown opcode %q", name)
	}
	if op == protocol.OpIdentify {
		return 0, errors.New("IDENTIFY is sent by the handshake")
	}
	return op, nil
}

func emitOnce(ctx context.Context, configPath string, op protocol.OpCode, event string, payload json.RawMessage, intent *protocol.Intent) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	client, err := socketclient.New(cfg.Socket, nil, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if !client.Init(ctx) {
		return errors.New("socket client failed to start")
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !client.Ready() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for handshake: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	var data any
	if payload != nil {
		data = payload
	}
	if !client.Manager().SendPayload(op, data, event, intent) {
		return fmt.Errorf("send %s: connection not open", op)
	}
	logger.Info("message sent", "op", op.String(), "event", event, "identity", client.ID())
	return nil
}
