package main

import (
	"testing"

	"github.com/rickgao/socketlink/internal/protocol"
)

func TestParseOp(t *testing.T) {
	tests := []struct {
		name    string
		want    protocol.OpCode
		wantErr bool
	}{
		{name: "EVENT", want: protocol.OpEvent},
		{name: "ping", want: protocol.OpPing},
		{name: " Disconnect ", want: protocol.OpDisconnect},
		{name: "PONG", want: protocol.OpPong},
		{name: "IDENTIFY", wantErr: true},
		{name: "NOPE", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOp(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseOp(%q) = %v, want error", tt.name, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseOp(%q) error: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("parseOp(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
