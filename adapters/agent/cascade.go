// Package agent implements the remote agent channels the session controller
// talks to: Gemini Live, a WebSocket relay, and a cascade of speech-to-text,
// chat and text-to-speech services.
package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/entities"
	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/pcm"
)

// CascadeConfig configures the cascaded agent
type CascadeConfig struct {
	Language   string
	SampleRate int
}

// Cascade builds a speech-to-speech agent out of separate recognition, chat
// and synthesis services
type Cascade struct {
	stt    repositories.SpeechToText
	llm    repositories.LargeLanguageModel
	tts    repositories.TextToSpeech
	config CascadeConfig
	logger *zap.Logger
}

var _ repositories.AgentConnector = (*Cascade)(nil)

// NewCascade creates a new cascaded agent
func NewCascade(
	stt repositories.SpeechToText,
	llm repositories.LargeLanguageModel,
	tts repositories.TextToSpeech,
	config CascadeConfig,
	logger *zap.Logger,
) *Cascade {
	if config.SampleRate <= 0 {
		config.SampleRate = entities.CaptureSampleRate
	}
	if config.Language == "" {
		config.Language = "en-US"
		logger.Info("Using default speech language", zap.String("language", config.Language))
	}
	return &Cascade{
		stt:    stt,
		llm:    llm,
		tts:    tts,
		config: config,
		logger: logger,
	}
}

// Connect starts a chat session and returns a channel over it
func (c *Cascade) Connect(ctx context.Context) (repositories.AgentChannel, error) {
	chat, err := c.llm.GenerateChat(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start chat session: %w", err)
	}

	chCtx, cancel := context.WithCancel(context.Background())
	ch := &cascadeChannel{
		owner:    c,
		chat:     chat,
		ctx:      chCtx,
		cancel:   cancel,
		messages: make(chan entities.AgentMessage, 64),
	}
	c.logger.Info("Cascade agent connected", zap.String("language", c.config.Language))
	return ch, nil
}

type cascadeChannel struct {
	owner *Cascade
	chat  repositories.ChatSession

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	utterance   repositories.SpeechToTextStreaming
	replyGen    uint64
	replyCancel context.CancelFunc

	closeOnce sync.Once
	messages  chan entities.AgentMessage
}

func (ch *cascadeChannel) Messages() <-chan entities.AgentMessage {
	return ch.messages
}

// SendAudio feeds the current utterance, opening a recognition stream on the
// first chunk after the previous utterance finished
func (ch *cascadeChannel) SendAudio(ctx context.Context, chunk entities.TransportChunk) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return domain.ErrNotConnected
	}
	stream := ch.utterance
	if stream == nil {
		var err error
		stream, err = ch.owner.stt.InitTranscribeStreaming(ch.ctx, repositories.AudioConfig{
			SampleRate: ch.owner.config.SampleRate,
			Encoding:   "LINEAR16",
			Language:   ch.owner.config.Language,
		})
		if err != nil {
			ch.mu.Unlock()
			return fmt.Errorf("failed to start recognition: %w", err)
		}
		ch.utterance = stream
		ch.wg.Add(1)
		go ch.listen(stream)
	}
	ch.mu.Unlock()

	return stream.Stream(chunk.Data)
}

// SendText starts a reply to a typed turn
func (ch *cascadeChannel) SendText(ctx context.Context, text string) error {
	if !ch.respond(text, false) {
		return domain.ErrNotConnected
	}
	return nil
}

// listen waits for the recognizer to finish one utterance
func (ch *cascadeChannel) listen(stream repositories.SpeechToTextStreaming) {
	defer ch.wg.Done()

	select {
	case <-ch.ctx.Done():
		return
	case <-stream.Done():
	}

	ch.mu.Lock()
	if ch.utterance == stream {
		ch.utterance = nil
	}
	ch.mu.Unlock()

	text, err := stream.End()
	if err != nil {
		ch.owner.logger.Debug("Utterance produced no transcript", zap.Error(err))
		return
	}
	ch.owner.logger.Info("Transcription completed", zap.String("text", text))
	ch.respond(text, true)
}

// respond cancels any reply still streaming and starts a new one. It
// reports false once the channel is closed.
func (ch *cascadeChannel) respond(text string, spoken bool) bool {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return false
	}
	interrupted := ch.replyCancel != nil
	if interrupted {
		ch.replyCancel()
	}
	ch.replyGen++
	gen := ch.replyGen
	replyCtx, cancel := context.WithCancel(ch.ctx)
	ch.replyCancel = cancel
	ch.wg.Add(1)
	ch.mu.Unlock()

	if interrupted {
		ch.emit(entities.AgentMessage{Kind: entities.AgentInterrupted})
	}
	if spoken {
		ch.emit(entities.AgentMessage{Kind: entities.AgentInputTranscript, Text: text})
	}

	go ch.reply(replyCtx, gen, text)
	return true
}

func (ch *cascadeChannel) reply(ctx context.Context, gen uint64, text string) {
	defer ch.wg.Done()
	defer ch.finishReply(gen)

	response, err := ch.chat.SendMessage(ctx, repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: text,
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		ch.emit(entities.AgentMessage{
			Kind: entities.AgentError,
			Err:  fmt.Errorf("%w: chat: %v", domain.ErrChannel, err),
		})
		return
	}

	ch.owner.logger.Info("AI response generated", zap.String("response", response.Content))
	ch.emitReply(ctx, entities.AgentMessage{Kind: entities.AgentOutputTranscript, Text: response.Content})

	audio, err := ch.owner.tts.ConvertTextToSpeech(ctx, response.Content)
	if err != nil {
		ch.owner.logger.Error("Text-to-speech failed, replying with text only", zap.Error(err))
	} else {
		var size int
		for chunk := range audio {
			size += len(chunk)
			ch.emitReply(ctx, entities.AgentMessage{Kind: entities.AgentAudio, Audio: pcm.EncodeBase64(chunk)})
		}
		ch.owner.logger.Debug("TTS completed", zap.Int("audioSize", size))
	}

	ch.emitReply(ctx, entities.AgentMessage{Kind: entities.AgentTurnComplete})
}

func (ch *cascadeChannel) finishReply(gen uint64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.replyGen == gen && ch.replyCancel != nil {
		ch.replyCancel()
		ch.replyCancel = nil
	}
}

// emitReply drops messages of a reply that has been superseded
func (ch *cascadeChannel) emitReply(ctx context.Context, msg entities.AgentMessage) {
	if ctx.Err() != nil {
		return
	}
	select {
	case ch.messages <- msg:
	case <-ctx.Done():
	}
}

func (ch *cascadeChannel) emit(msg entities.AgentMessage) {
	select {
	case ch.messages <- msg:
	case <-ch.ctx.Done():
	}
}

// Close cancels any reply in flight and ends the message stream
func (ch *cascadeChannel) Close() error {
	ch.closeOnce.Do(func() {
		ch.mu.Lock()
		ch.closed = true
		stream := ch.utterance
		ch.utterance = nil
		ch.mu.Unlock()

		ch.cancel()
		ch.wg.Wait()
		if stream != nil {
			_, _ = stream.End()
		}

		select {
		case ch.messages <- entities.AgentMessage{Kind: entities.AgentClosed}:
		default:
		}
		close(ch.messages)
		ch.owner.logger.Info("Cascade agent closed")
	})
	return nil
}
