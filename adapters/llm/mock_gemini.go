package llm

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain/repositories"
)

// MockLLM answers with canned replies so the cascade can run offline
type MockLLM struct {
	logger *zap.Logger
}

var _ repositories.LargeLanguageModel = (*MockLLM)(nil)

// NewMockLLM creates a new mock LLM
func NewMockLLM(logger *zap.Logger) *MockLLM {
	return &MockLLM{logger: logger}
}

// GenerateChat implements repositories.LargeLanguageModel
func (m *MockLLM) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return &MockChatSession{
		logger:  m.logger,
		history: append([]repositories.ChatMessage(nil), history...),
	}, nil
}

// MockChatSession implements repositories.ChatSession
type MockChatSession struct {
	logger *zap.Logger

	mu      sync.Mutex
	history []repositories.ChatMessage
}

// SendMessage implements repositories.ChatSession
func (m *MockChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return repositories.ChatMessage{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, message)

	response := repositories.ChatMessage{
		Role:    repositories.AgentRole,
		Content: mockReply(message.Content),
	}
	m.history = append(m.history, response)

	m.logger.Debug("Mock chat reply", zap.String("reply", response.Content))
	return response, nil
}

// History implements repositories.ChatSession
func (m *MockChatSession) History() ([]repositories.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repositories.ChatMessage(nil), m.history...), nil
}

func mockReply(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.TrimSpace(lower) == "":
		return "Hi there! What would you like to talk about?"
	case strings.Contains(lower, "sad"), strings.Contains(lower, "tired"), strings.Contains(lower, "hard"):
		return "I understand, that sounds difficult. I'm here for you."
	case strings.Contains(lower, "?"):
		return "That's interesting, tell me more about what you're thinking."
	default:
		return "That's great, I'm glad you told me!"
	}
}
