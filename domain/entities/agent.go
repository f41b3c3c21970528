package entities

// AgentMessageKind identifies which handler an inbound agent message is routed to
type AgentMessageKind string

const (
	AgentInputTranscript  AgentMessageKind = "input_transcript"
	AgentOutputTranscript AgentMessageKind = "output_transcript"
	AgentTurnComplete     AgentMessageKind = "turn_complete"
	AgentAudio            AgentMessageKind = "audio"
	AgentInterrupted      AgentMessageKind = "interrupted"
	AgentError            AgentMessageKind = "error"
	AgentClosed           AgentMessageKind = "closed"
)

// AgentMessage is one typed message from the remote agent's inbound stream.
// Audio carries a base64 framed 16-bit LE PCM payload.
type AgentMessage struct {
	Kind  AgentMessageKind
	Text  string
	Audio string
	Err   error
}
