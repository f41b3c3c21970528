package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/entities"
	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/capture"
	"github.com/satriahrh/arunika/voice/internal/emotion"
	"github.com/satriahrh/arunika/voice/internal/metrics"
	"github.com/satriahrh/arunika/voice/internal/pcm"
	"github.com/satriahrh/arunika/voice/internal/playback"
	"github.com/satriahrh/arunika/voice/internal/saga"
	"github.com/satriahrh/arunika/voice/internal/transcript"
)

// SessionConfig tunes the controller
type SessionConfig struct {
	CaptureSampleRate  int
	CaptureFrameSize   int
	CaptureChannels    int
	PlaybackSampleRate int
	EmotionDecay       time.Duration
	OutboundQueue      int
	StartTimeout       time.Duration
}

// DefaultSessionConfig returns the settings the agent protocol expects
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		CaptureSampleRate:  entities.CaptureSampleRate,
		CaptureFrameSize:   entities.CaptureFrameSize,
		CaptureChannels:    1,
		PlaybackSampleRate: entities.PlaybackSampleRate,
		EmotionDecay:       2 * time.Second,
		OutboundQueue:      32,
		StartTimeout:       15 * time.Second,
	}
}

type eventKind int

const (
	eventAgent eventKind = iota
	eventSendFailed
	eventSpeaking
	eventDecay
	eventSendText
)

// event is one entry of the session's ordered event queue
type event struct {
	kind     eventKind
	msg      entities.AgentMessage
	err      error
	speaking bool
	gen      uint64
	text     string
	reply    chan error
}

// session is the runtime of one connected session. All handler state is
// touched only by the loop goroutine.
type session struct {
	id          string
	channel     repositories.AgentChannel
	stream      repositories.CaptureStream
	ctx         context.Context
	cancel      context.CancelFunc
	events      chan event
	audio       chan entities.TransportChunk
	text        chan string
	done        chan struct{}
	connectedAt time.Time
	once        sync.Once

	decayMu    sync.Mutex
	decayGen   uint64
	decayTimer *time.Timer
}

// post blocks until the loop accepts ev or the session ends
func (s *session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// tryPost never blocks. Used from callbacks that may run on the loop itself.
func (s *session) tryPost(ev event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// SessionController owns the connection lifecycle and routes every inbound
// agent message to the transcript, playback and emotion components.
type SessionController struct {
	device    repositories.CaptureDevice
	connector repositories.AgentConnector
	scheduler *playback.Scheduler
	turns     *transcript.Machine
	emotions  *emotion.Tracker
	messages  *entities.MessageLog
	sagas     *saga.Manager
	metrics   *metrics.Metrics
	logger    *zap.Logger
	config    SessionConfig

	opMu sync.Mutex

	mu      sync.RWMutex
	state   entities.ConnectionState
	lastErr error
	current *session

	dropped atomic.Int64
	changes chan struct{}
}

// NewSessionController creates a new session controller
func NewSessionController(
	device repositories.CaptureDevice,
	connector repositories.AgentConnector,
	engine repositories.OutputEngine,
	config SessionConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SessionController {
	defaults := DefaultSessionConfig()
	if config.CaptureSampleRate <= 0 {
		config.CaptureSampleRate = defaults.CaptureSampleRate
	}
	if config.CaptureFrameSize <= 0 {
		config.CaptureFrameSize = defaults.CaptureFrameSize
	}
	if config.CaptureChannels <= 0 {
		config.CaptureChannels = defaults.CaptureChannels
	}
	if config.PlaybackSampleRate <= 0 {
		config.PlaybackSampleRate = defaults.PlaybackSampleRate
	}
	if config.EmotionDecay <= 0 {
		config.EmotionDecay = defaults.EmotionDecay
	}
	if config.OutboundQueue <= 0 {
		config.OutboundQueue = defaults.OutboundQueue
	}
	if config.StartTimeout <= 0 {
		config.StartTimeout = defaults.StartTimeout
	}
	if m == nil {
		m = metrics.New("")
	}

	messages := entities.NewMessageLog()
	c := &SessionController{
		device:    device,
		connector: connector,
		scheduler: playback.NewScheduler(engine, logger.Named("playback")),
		turns:     transcript.NewMachine(messages),
		emotions:  emotion.NewTracker(),
		messages:  messages,
		sagas:     saga.NewManager(logger.Named("saga")),
		metrics:   m,
		logger:    logger,
		config:    config,
		state:     entities.ConnectionIdle,
		changes:   make(chan struct{}, 1),
	}
	c.scheduler.OnSpeakingChange(c.onSpeakingChange)
	c.sagas.Observe(func(e saga.SagaEvent) {
		if e.Type == saga.EventStepFailed {
			c.logger.Warn("Session start step failed",
				zap.String("stepID", string(e.StepID)),
				zap.String("error", e.Error))
		}
	})
	return c
}

// Start acquires the microphone and opens the agent channel. On failure the
// acquired resources are released and the session moves to the error state.
func (c *SessionController) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state == entities.ConnectionConnecting || c.state == entities.ConnectionConnected {
		c.mu.Unlock()
		return domain.ErrAlreadyActive
	}
	c.lastErr = nil
	c.setStateLocked(entities.ConnectionConnecting)
	c.mu.Unlock()
	c.notify()

	startedAt := time.Now()
	def := saga.NewDefinition(startSagaName, c.config.StartTimeout,
		&acquireMicrophoneStep{
			device: c.device,
			config: repositories.CaptureConfig{
				SampleRate: c.config.CaptureSampleRate,
				FrameSize:  c.config.CaptureFrameSize,
				Channels:   c.config.CaptureChannels,
			},
			logger: c.logger,
		},
		&openAgentChannelStep{connector: c.connector, logger: c.logger},
	)

	instance, err := c.sagas.Run(ctx, def, saga.SagaData{})
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.setStateLocked(entities.ConnectionError)
		c.mu.Unlock()
		c.metrics.StartDuration.Observe(time.Since(startedAt).Seconds())
		c.notify()

		c.logger.Error("Failed to start session", zap.Error(err))
		return err
	}

	stream := instance.Data[string(StepAcquireMicrophone)].(repositories.CaptureStream)
	channel := instance.Data[string(StepOpenAgentChannel)].(repositories.AgentChannel)

	c.launch(stream, channel)
	c.metrics.RecordSessionStart(time.Since(startedAt))
	return nil
}

// launch wires the goroutines of a freshly connected session
func (c *SessionController) launch(stream repositories.CaptureStream, channel repositories.AgentChannel) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:          uuid.NewString(),
		channel:     channel,
		stream:      stream,
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan event, 64),
		audio:       make(chan entities.TransportChunk, c.config.OutboundQueue),
		text:        make(chan string, 8),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}

	// cursor restarts at zero for every connection
	c.scheduler.Interrupt()
	c.turns.Reset()
	c.dropped.Store(0)

	c.mu.Lock()
	c.current = s
	c.setStateLocked(entities.ConnectionConnected)
	c.mu.Unlock()
	c.notify()

	pipeline := capture.NewPipeline(func(chunk entities.TransportChunk) error {
		select {
		case s.audio <- chunk:
			return nil
		default:
			return domain.ErrQueueFull
		}
	}, c.config.CaptureSampleRate, c.logger.Named("capture"))
	pipeline.OnSendError(func(err error) {
		// capture must not wait on a busy loop
		if !s.tryPost(event{kind: eventSendFailed, err: err}) {
			c.dropped.Add(1)
			c.metrics.FramesDropped.Inc()
		}
	})

	go c.loop(s)
	go c.readPump(s)
	go c.writePump(s)
	go func() {
		if err := pipeline.Run(ctx, stream); err != nil {
			s.post(event{kind: eventAgent, msg: entities.AgentMessage{
				Kind: entities.AgentError,
				Err:  fmt.Errorf("capture stopped: %w", err),
			}})
		}
	}()

	c.logger.Info("Session connected", zap.String("sessionID", s.id))
}

// readPump forwards inbound agent messages into the event queue in arrival order
func (c *SessionController) readPump(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.channel.Messages():
			if !ok {
				s.post(event{kind: eventAgent, msg: entities.AgentMessage{Kind: entities.AgentClosed}})
				return
			}
			if !s.post(event{kind: eventAgent, msg: msg}) {
				return
			}
		}
	}
}

// writePump performs every outbound send so the loop never waits on the network
func (c *SessionController) writePump(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.audio:
			if err := s.channel.SendAudio(s.ctx, chunk); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.post(event{kind: eventSendFailed, err: err})
				continue
			}
			c.metrics.RecordFrameSent(len(chunk.Data))
		case text := <-s.text:
			if err := s.channel.SendText(s.ctx, text); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.post(event{kind: eventAgent, msg: entities.AgentMessage{
					Kind: entities.AgentError,
					Err:  fmt.Errorf("%w: text send: %v", domain.ErrChannel, err),
				}})
			}
		}
	}
}

// loop is the single consumer of the session's events
func (c *SessionController) loop(s *session) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			if s.ctx.Err() != nil {
				return
			}
			c.handle(s, ev)
		}
	}
}

func (c *SessionController) handle(s *session, ev event) {
	switch ev.kind {
	case eventAgent:
		c.route(s, ev.msg)
	case eventSendFailed:
		c.dropped.Add(1)
		c.metrics.FramesDropped.Inc()
		c.logger.Debug("Dropped capture frame", zap.String("sessionID", s.id), zap.Error(ev.err))
	case eventSpeaking:
		c.logger.Debug("Agent speaking changed", zap.String("sessionID", s.id), zap.Bool("speaking", ev.speaking))
		c.notify()
	case eventDecay:
		c.onDecay(s, ev.gen)
	case eventSendText:
		ev.reply <- c.sendText(s, ev.text)
	}
}

// route dispatches one agent message to its handler
func (c *SessionController) route(s *session, msg entities.AgentMessage) {
	switch msg.Kind {
	case entities.AgentInputTranscript:
		c.onInputTranscript(s, msg.Text)
	case entities.AgentOutputTranscript:
		c.onOutputTranscript(s, msg.Text)
	case entities.AgentTurnComplete:
		c.onTurnComplete(s)
	case entities.AgentAudio:
		c.onAudio(s, msg.Audio)
	case entities.AgentInterrupted:
		c.onInterrupted(s)
	case entities.AgentError:
		err := msg.Err
		if err == nil {
			err = errors.New("agent reported an error")
		}
		if !errors.Is(err, domain.ErrChannel) {
			err = fmt.Errorf("%w: %v", domain.ErrChannel, err)
		}
		c.logger.Error("Agent channel failed", zap.String("sessionID", s.id), zap.Error(err))
		c.teardown(s, entities.ConnectionError, err)
	case entities.AgentClosed:
		c.logger.Info("Agent channel closed", zap.String("sessionID", s.id))
		c.teardown(s, entities.ConnectionIdle, nil)
	default:
		c.metrics.MalformedMessages.Inc()
		c.logger.Warn("Ignoring unknown agent message",
			zap.String("sessionID", s.id),
			zap.String("kind", string(msg.Kind)))
	}
}

func (c *SessionController) onInputTranscript(s *session, text string) {
	if text == "" {
		return
	}
	if c.turns.AppendInput(text) {
		c.cancelDecay(s)
	}
	c.notify()
}

func (c *SessionController) onOutputTranscript(s *session, text string) {
	if text == "" {
		return
	}
	accumulated, opened := c.turns.AppendOutput(text)
	if opened {
		c.cancelDecay(s)
	}
	if e, changed := c.emotions.Observe(accumulated); changed {
		c.metrics.EmotionChanges.WithLabelValues(string(e)).Inc()
		c.logger.Debug("Emotion changed", zap.String("sessionID", s.id), zap.String("emotion", string(e)))
	}
	c.notify()
}

func (c *SessionController) onTurnComplete(s *session) {
	flushed, err := c.turns.Complete()
	if err != nil {
		c.logger.Error("Failed to flush turn", zap.String("sessionID", s.id), zap.Error(err))
	}
	for _, m := range flushed {
		c.metrics.RecordMessage(string(m.Role), string(m.Source))
	}
	c.metrics.TurnsCompleted.Inc()
	c.scheduleDecay(s)
	c.notify()
}

func (c *SessionController) onAudio(s *session, payload string) {
	samples, err := pcm.DecodePayload(payload)
	if err != nil {
		c.metrics.MalformedMessages.Inc()
		c.metrics.BuffersFailed.Inc()
		c.logger.Warn("Dropping malformed audio fragment", zap.String("sessionID", s.id), zap.Error(err))
		return
	}
	if len(samples) == 0 {
		return
	}
	c.metrics.AudioBytesIn.Add(float64(2 * len(samples)))

	buffer := pcm.ToFloat32(samples)
	if rate := c.scheduler.SampleRate(); rate > 0 && rate != c.config.PlaybackSampleRate {
		buffer = pcm.Resample(buffer, c.config.PlaybackSampleRate, rate)
	}

	if _, err := c.scheduler.Schedule(buffer); err != nil {
		c.metrics.BuffersFailed.Inc()
		return
	}
	c.metrics.BuffersScheduled.Inc()
}

func (c *SessionController) onInterrupted(s *session) {
	stopped := c.scheduler.Interrupt()
	c.metrics.Interruptions.WithLabelValues("agent").Inc()
	c.logger.Debug("Agent interrupted playback", zap.String("sessionID", s.id), zap.Int("stopped", stopped))
}

// sendText interrupts playback, queues the text turn and logs it
func (c *SessionController) sendText(s *session, text string) error {
	c.scheduler.Interrupt()
	c.metrics.Interruptions.WithLabelValues("text").Inc()

	select {
	case s.text <- text:
	default:
		return domain.ErrQueueFull
	}

	msg, err := c.turns.AppendTyped(text)
	if err != nil {
		return err
	}
	c.metrics.RecordMessage(string(msg.Role), string(msg.Source))
	c.notify()
	return nil
}

// scheduleDecay arms the single decay slot, replacing any pending one
func (c *SessionController) scheduleDecay(s *session) {
	s.decayMu.Lock()
	defer s.decayMu.Unlock()
	if s.decayTimer != nil {
		s.decayTimer.Stop()
	}
	s.decayGen++
	gen := s.decayGen
	s.decayTimer = time.AfterFunc(c.config.EmotionDecay, func() {
		s.post(event{kind: eventDecay, gen: gen})
	})
}

// cancelDecay disarms the decay slot. A timer that already fired carries a
// stale generation and is ignored by onDecay.
func (c *SessionController) cancelDecay(s *session) {
	s.decayMu.Lock()
	defer s.decayMu.Unlock()
	if s.decayTimer != nil {
		s.decayTimer.Stop()
		s.decayTimer = nil
	}
	s.decayGen++
}

func (c *SessionController) onDecay(s *session, gen uint64) {
	s.decayMu.Lock()
	current := s.decayGen
	if gen == current {
		s.decayTimer = nil
	}
	s.decayMu.Unlock()

	if gen != current {
		return
	}
	if c.emotions.Reset() {
		c.metrics.EmotionChanges.WithLabelValues(string(entities.EmotionNeutral)).Inc()
		c.notify()
	}
}

func (c *SessionController) onSpeakingChange(speaking bool) {
	c.mu.RLock()
	s := c.current
	c.mu.RUnlock()
	if s == nil {
		return
	}
	s.tryPost(event{kind: eventSpeaking, speaking: speaking})
}

// teardown releases every resource of s and moves to next. Only the first
// call for a session has any effect.
func (c *SessionController) teardown(s *session, next entities.ConnectionState, cause error) {
	s.once.Do(func() {
		s.cancel()

		s.decayMu.Lock()
		if s.decayTimer != nil {
			s.decayTimer.Stop()
			s.decayTimer = nil
		}
		s.decayGen++
		s.decayMu.Unlock()

		if err := s.channel.Close(); err != nil {
			c.logger.Warn("Failed to close agent channel", zap.String("sessionID", s.id), zap.Error(err))
		}
		if err := s.stream.Close(); err != nil {
			c.logger.Warn("Failed to close capture stream", zap.String("sessionID", s.id), zap.Error(err))
		}

		c.scheduler.Interrupt()
		c.turns.Reset()
		c.emotions.Reset()

		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.lastErr = cause
		c.setStateLocked(next)
		c.mu.Unlock()

		c.metrics.RecordSessionEnd(time.Since(s.connectedAt))
		c.notify()
		c.logger.Info("Session ended",
			zap.String("sessionID", s.id),
			zap.String("state", string(next)))
	})
}

// Stop ends the session and returns to idle. Safe to call in any state.
func (c *SessionController) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	s := c.current
	c.mu.RUnlock()

	if s == nil {
		c.mu.Lock()
		if c.state != entities.ConnectionIdle {
			c.lastErr = nil
			c.setStateLocked(entities.ConnectionIdle)
		}
		c.mu.Unlock()
		c.emotions.Reset()
		c.notify()
		return nil
	}

	// the loop must leave its handlers before playback and turn state are reset
	s.cancel()
	<-s.done
	c.teardown(s, entities.ConnectionIdle, nil)

	// the loop may have torn down into error first
	c.mu.Lock()
	if c.state != entities.ConnectionIdle {
		c.lastErr = nil
		c.setStateLocked(entities.ConnectionIdle)
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// SendText interrupts agent playback and sends a typed user turn
func (c *SessionController) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyText
	}

	c.mu.RLock()
	s := c.current
	state := c.state
	c.mu.RUnlock()
	if s == nil || state != entities.ConnectionConnected {
		return domain.ErrNotConnected
	}

	reply := make(chan error, 1)
	select {
	case s.events <- event{kind: eventSendText, text: text, reply: reply}:
	case <-s.ctx.Done():
		return domain.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return domain.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a read-only view of the session
func (c *SessionController) Snapshot() entities.Snapshot {
	c.mu.RLock()
	state := c.state
	var lastErr, sessionID string
	if c.lastErr != nil {
		lastErr = c.lastErr.Error()
	}
	if c.current != nil {
		sessionID = c.current.id
	}
	c.mu.RUnlock()

	pending := c.turns.Pending()
	volume := 0.0
	if state == entities.ConnectionConnected {
		volume = math.Max(0, math.Min(1, c.scheduler.Level()))
	}

	return entities.Snapshot{
		SessionID:     sessionID,
		State:         state,
		LastError:     lastErr,
		Messages:      c.messages.Messages(),
		PendingInput:  pending.Input,
		PendingOutput: pending.Output,
		IsSpeaking:    c.scheduler.IsSpeaking(),
		Volume:        volume,
		Emotion:       c.emotions.Current(),
		DroppedFrames: int(c.dropped.Load()),
	}
}

// Messages returns a copy of the conversation log
func (c *SessionController) Messages() []entities.Message {
	return c.messages.Messages()
}

// State returns the connection state
func (c *SessionController) State() entities.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the error that moved the session to the error state
func (c *SessionController) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Changes signals, coalesced, that the snapshot may have changed
func (c *SessionController) Changes() <-chan struct{} {
	return c.changes
}

func (c *SessionController) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *SessionController) setStateLocked(next entities.ConnectionState) {
	if c.state == next {
		return
	}
	if !c.state.CanTransition(next) {
		c.logger.Warn("Unexpected state transition",
			zap.String("from", string(c.state)),
			zap.String("to", string(next)))
	}
	c.metrics.RecordTransition(string(c.state), string(next))
	c.state = next
}
