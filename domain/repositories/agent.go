package repositories

import (
	"context"

	"github.com/satriahrh/arunika/voice/domain/entities"
)

// AgentConnector opens a bidirectional channel to a remote speech-to-speech agent
type AgentConnector interface {
	Connect(ctx context.Context) (AgentChannel, error)
}

// AgentChannel is an open session with the remote agent.
// Messages is closed after a closed or error message has been delivered.
type AgentChannel interface {
	SendAudio(ctx context.Context, chunk entities.TransportChunk) error
	SendText(ctx context.Context, text string) error
	Messages() <-chan entities.AgentMessage
	Close() error
}
