package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/arunika/voice/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	// Server to client
	MessageTypeSnapshot MessageType = "snapshot"
	MessageTypeError    MessageType = "error"
	MessageTypeAck      MessageType = "ack"

	// Client to server
	MessageTypeStart MessageType = "start"
	MessageTypeStop  MessageType = "stop"
	MessageTypeText  MessageType = "text"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// CommandMessage is a control command sent by the UI
type CommandMessage struct {
	BaseMessage
	Text string `json:"text,omitempty"`
}

// SnapshotMessage carries the latest session snapshot
type SnapshotMessage struct {
	BaseMessage
	Snapshot entities.Snapshot `json:"snapshot"`
}

// AckMessage confirms a command succeeded
type AckMessage struct {
	BaseMessage
	Command MessageType `json:"command"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// ParseCommand decodes and validates a client command
func ParseCommand(data []byte) (CommandMessage, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(data, &cmd); err != nil {
		return CommandMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}

	switch cmd.Type {
	case MessageTypeStart, MessageTypeStop:
	case MessageTypeText:
		if strings.TrimSpace(cmd.Text) == "" {
			return CommandMessage{}, fmt.Errorf("text is required for text commands")
		}
	case "":
		return CommandMessage{}, fmt.Errorf("message type is required")
	default:
		return CommandMessage{}, fmt.Errorf("unsupported message type: %s", cmd.Type)
	}
	return cmd, nil
}

// NewSnapshotMessage wraps a snapshot for broadcast
func NewSnapshotMessage(snapshot entities.Snapshot) SnapshotMessage {
	return SnapshotMessage{
		BaseMessage: newBase(MessageTypeSnapshot),
		Snapshot:    snapshot,
	}
}

// NewAckMessage confirms command
func NewAckMessage(command MessageType) AckMessage {
	return AckMessage{BaseMessage: newBase(MessageTypeAck), Command: command}
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string) ErrorMessage {
	return ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
	}
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}
