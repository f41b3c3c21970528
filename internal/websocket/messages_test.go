package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/satriahrh/arunika/voice/domain"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    MessageType
		wantErr bool
	}{
		{"start", `{"type":"start"}`, MessageTypeStart, false},
		{"stop", `{"type":"stop"}`, MessageTypeStop, false},
		{"text", `{"type":"text","text":"hello"}`, MessageTypeText, false},
		{"text without text", `{"type":"text"}`, "", true},
		{"missing type", `{"text":"hello"}`, "", true},
		{"server type", `{"type":"snapshot"}`, "", true},
		{"invalid json", `{"type":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if cmd.Type != tt.want {
				t.Errorf("ParseCommand() type = %s, want %s", cmd.Type, tt.want)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("start: %w", domain.ErrPermissionDenied), "permission_denied", http.StatusServiceUnavailable},
		{fmt.Errorf("%w: dial", domain.ErrChannel), "channel_error", http.StatusBadGateway},
		{domain.ErrAlreadyActive, "already_active", http.StatusConflict},
		{domain.ErrNotConnected, "not_connected", http.StatusConflict},
		{domain.ErrEmptyText, "empty_text", http.StatusBadRequest},
		{domain.ErrQueueFull, "busy", http.StatusTooManyRequests},
		{context.DeadlineExceeded, "timeout", http.StatusGatewayTimeout},
		{errors.New("boom"), "internal_error", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.code {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.code)
		}
		if got := StatusCode(tt.err); got != tt.status {
			t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
}
