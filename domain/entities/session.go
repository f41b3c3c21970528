package entities

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnectionState represents the lifecycle state of the voice session
type ConnectionState string

const (
	ConnectionIdle       ConnectionState = "idle"
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionConnected  ConnectionState = "connected"
	ConnectionError      ConnectionState = "error"
)

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	switch s {
	case ConnectionIdle:
		return next == ConnectionConnecting || next == ConnectionIdle
	case ConnectionConnecting:
		return next == ConnectionConnected || next == ConnectionError || next == ConnectionIdle
	case ConnectionConnected:
		return next == ConnectionIdle || next == ConnectionError
	case ConnectionError:
		return next == ConnectionConnecting || next == ConnectionIdle
	}
	return false
}

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleAgent MessageRole = "agent"
)

// MessageSource records how the message text reached the log
type MessageSource string

const (
	MessageSourceVoice MessageSource = "voice"
	MessageSourceText  MessageSource = "text"
)

// Message is one finalized entry of the conversation log. Immutable once appended.
type Message struct {
	ID        string        `json:"id"`
	Role      MessageRole   `json:"role"`
	Text      string        `json:"text"`
	Source    MessageSource `json:"source"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewMessage creates a message stamped with a fresh ID
func NewMessage(role MessageRole, text string, source MessageSource, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Source:    source,
		Timestamp: at,
	}
}

// Validate validates the message data
func (m Message) Validate() error {
	if m.Role != MessageRoleUser && m.Role != MessageRoleAgent {
		return errors.New("invalid message role")
	}
	if m.Text == "" {
		return errors.New("text is required")
	}
	return nil
}

// MessageLog is the append-only conversation log. Insertion order is conversation order.
type MessageLog struct {
	mu       sync.RWMutex
	messages []Message
}

// NewMessageLog creates an empty log
func NewMessageLog() *MessageLog {
	return &MessageLog{messages: make([]Message, 0)}
}

// Append adds messages at the end of the log. Invalid messages are rejected as a whole.
func (l *MessageLog) Append(messages ...Message) error {
	for _, m := range messages {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, messages...)
	return nil
}

// Messages returns a copy of the log
func (l *MessageLog) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages in the log
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Clear empties the log
func (l *MessageLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = l.messages[:0]
}
