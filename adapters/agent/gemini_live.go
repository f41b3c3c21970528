package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/entities"
	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/pcm"
)

const (
	defaultLiveModel    = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultLiveVoice    = "Zephyr"
	defaultSystemPrompt = "You are a warm, attentive voice companion. Keep answers short and conversational."
)

// GeminiLiveConfig holds configuration for the Gemini Live agent
// Required fields:
// - APIKey: Google AI API key
type GeminiLiveConfig struct {
	APIKey       string
	Model        string
	Voice        string
	SystemPrompt string
}

// ValidateGeminiLiveConfig validates the GeminiLiveConfig
func ValidateGeminiLiveConfig(config GeminiLiveConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}
	return nil
}

// GeminiLive connects to the Gemini Live speech-to-speech API
type GeminiLive struct {
	client *genai.Client
	config GeminiLiveConfig
	logger *zap.Logger
}

var _ repositories.AgentConnector = (*GeminiLive)(nil)

// NewGeminiLive creates a new Gemini Live agent
func NewGeminiLive(ctx context.Context, config GeminiLiveConfig, logger *zap.Logger) (*GeminiLive, error) {
	if err := ValidateGeminiLiveConfig(config); err != nil {
		return nil, err
	}

	if config.Model == "" {
		config.Model = defaultLiveModel
		logger.Info("Using default live model", zap.String("model", config.Model))
	}
	if config.Voice == "" {
		config.Voice = defaultLiveVoice
		logger.Info("Using default voice", zap.String("voice", config.Voice))
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
		logger.Info("Using default system prompt")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiLive{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Connect opens a live session with audio responses and both transcriptions enabled
func (g *GeminiLive) Connect(ctx context.Context) (repositories.AgentChannel, error) {
	session, err := g.client.Live.Connect(ctx, g.config.Model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: g.config.Voice},
			},
		},
		SystemInstruction:        genai.NewContentFromText(g.config.SystemPrompt, genai.RoleUser),
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open live session: %w", err)
	}

	ch := &liveChannel{
		session:  session,
		logger:   g.logger,
		messages: make(chan entities.AgentMessage, 64),
		done:     make(chan struct{}),
		received: make(chan struct{}),
	}
	go ch.receive()

	g.logger.Info("Gemini Live session opened", zap.String("model", g.config.Model))
	return ch, nil
}

type liveChannel struct {
	session *genai.Session
	logger  *zap.Logger

	sendMu    sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	received  chan struct{}
	messages  chan entities.AgentMessage
}

func (c *liveChannel) Messages() <-chan entities.AgentMessage {
	return c.messages
}

func (c *liveChannel) SendAudio(ctx context.Context, chunk entities.TransportChunk) error {
	if c.closed() {
		return domain.ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: chunk.Data, MIMEType: chunk.MIMEType},
	})
}

func (c *liveChannel) SendText(ctx context.Context, text string) error {
	if c.closed() {
		return domain.ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
	})
}

func (c *liveChannel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// receive owns the messages channel and closes it after the final closed or error message
func (c *liveChannel) receive() {
	defer close(c.received)
	defer close(c.messages)

	for {
		msg, err := c.session.Receive()
		if err != nil {
			c.finish(err)
			return
		}
		if msg.GoAway != nil {
			c.logger.Warn("Gemini Live session is going away", zap.Any("timeLeft", msg.GoAway.TimeLeft))
		}
		for _, out := range translateServerMessage(msg) {
			select {
			case c.messages <- out:
			case <-c.done:
				c.tryDeliver(entities.AgentMessage{Kind: entities.AgentClosed})
				return
			}
		}
	}
}

func (c *liveChannel) finish(err error) {
	var closeErr *websocket.CloseError
	if c.closed() || (errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure) {
		c.tryDeliver(entities.AgentMessage{Kind: entities.AgentClosed})
		return
	}
	c.logger.Error("Gemini Live session failed", zap.Error(err))
	msg := entities.AgentMessage{
		Kind: entities.AgentError,
		Err:  fmt.Errorf("%w: %v", domain.ErrChannel, err),
	}
	select {
	case c.messages <- msg:
	case <-c.done:
		c.tryDeliver(entities.AgentMessage{Kind: entities.AgentClosed})
	}
}

func (c *liveChannel) tryDeliver(msg entities.AgentMessage) {
	select {
	case c.messages <- msg:
	default:
	}
}

func (c *liveChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.sendMu.Lock()
		err = c.session.Close()
		c.sendMu.Unlock()
		<-c.received
		c.logger.Info("Gemini Live session closed")
	})
	return err
}

// translateServerMessage maps one live server message onto agent messages,
// transcripts first, then audio, then turn signals
func translateServerMessage(msg *genai.LiveServerMessage) []entities.AgentMessage {
	content := msg.ServerContent
	if content == nil {
		return nil
	}

	var out []entities.AgentMessage
	if content.InputTranscription != nil && content.InputTranscription.Text != "" {
		out = append(out, entities.AgentMessage{
			Kind: entities.AgentInputTranscript,
			Text: content.InputTranscription.Text,
		})
	}
	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		out = append(out, entities.AgentMessage{
			Kind: entities.AgentOutputTranscript,
			Text: content.OutputTranscription.Text,
		})
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			if !strings.HasPrefix(part.InlineData.MIMEType, "audio/pcm") {
				continue
			}
			out = append(out, entities.AgentMessage{
				Kind:  entities.AgentAudio,
				Audio: pcm.EncodeBase64(part.InlineData.Data),
			})
		}
	}
	if content.Interrupted {
		out = append(out, entities.AgentMessage{Kind: entities.AgentInterrupted})
	}
	if content.TurnComplete {
		out = append(out, entities.AgentMessage{Kind: entities.AgentTurnComplete})
	}
	return out
}
