package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/entities"
	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/metrics"
	"github.com/satriahrh/arunika/voice/internal/pcm"
)

// fakeStream is a capture stream fed by the test
type fakeStream struct {
	frames    chan entities.CaptureFrame
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan entities.CaptureFrame, 8), closed: make(chan struct{})}
}

func (s *fakeStream) Frames() <-chan entities.CaptureFrame { return s.frames }
func (s *fakeStream) Err() error                           { return nil }
func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeDevice struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (d *fakeDevice) Open(ctx context.Context, config repositories.CaptureConfig) (repositories.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

// fakeChannel records outbound traffic and lets the test push inbound messages
type fakeChannel struct {
	messages chan entities.AgentMessage

	mu        sync.Mutex
	chunks    []entities.TransportChunk
	texts     []string
	audioErr  error
	closed    bool
	closeCall int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{messages: make(chan entities.AgentMessage, 32)}
}

func (c *fakeChannel) SendAudio(ctx context.Context, chunk entities.TransportChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.audioErr != nil {
		return c.audioErr
	}
	c.chunks = append(c.chunks, chunk)
	return nil
}

func (c *fakeChannel) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeChannel) Messages() <-chan entities.AgentMessage { return c.messages }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCall++
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *fakeChannel) sentChunks() []entities.TransportChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entities.TransportChunk(nil), c.chunks...)
}

type fakeConnector struct {
	mu       sync.Mutex
	err      error
	channels []*fakeChannel
}

func (f *fakeConnector) Connect(ctx context.Context) (repositories.AgentChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := newFakeChannel()
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeConnector) last() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[len(f.channels)-1]
}

func (f *fakeConnector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

// timedVoice finishes on its own after its duration
type timedVoice struct {
	once  sync.Once
	done  chan struct{}
	timer *time.Timer
}

func (v *timedVoice) Stop() {
	v.timer.Stop()
	v.once.Do(func() { close(v.done) })
}

func (v *timedVoice) Done() <-chan struct{} { return v.done }

// wallEngine plays nothing but keeps real time
type wallEngine struct {
	origin time.Time
	rate   int
}

func newWallEngine() *wallEngine {
	return &wallEngine{origin: time.Now(), rate: entities.PlaybackSampleRate}
}

func (e *wallEngine) CurrentTime() time.Duration { return time.Since(e.origin) }
func (e *wallEngine) SampleRate() int            { return e.rate }
func (e *wallEngine) Level() float64             { return 0.5 }

func (e *wallEngine) Play(samples []float32, at time.Duration) (repositories.Voice, error) {
	v := &timedVoice{done: make(chan struct{})}
	end := at + pcm.Duration(len(samples), e.rate) - e.CurrentTime()
	v.timer = time.AfterFunc(end, func() { v.once.Do(func() { close(v.done) }) })
	return v, nil
}

type harness struct {
	ctrl      *SessionController
	device    *fakeDevice
	connector *fakeConnector
}

func newHarness(t *testing.T, decay time.Duration) *harness {
	t.Helper()
	return newHarnessWithEngine(t, decay, newWallEngine())
}

func newHarnessWithEngine(t *testing.T, decay time.Duration, engine repositories.OutputEngine) *harness {
	t.Helper()
	h := &harness{device: &fakeDevice{}, connector: &fakeConnector{}}
	config := DefaultSessionConfig()
	config.EmotionDecay = decay
	h.ctrl = NewSessionController(h.device, h.connector, engine, config, metrics.New("test"), zaptest.NewLogger(t))
	t.Cleanup(func() { h.ctrl.Stop() })
	return h
}

func (h *harness) start(t *testing.T) *fakeChannel {
	t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return h.connector.last()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func audioPayload(n int, value float32) string {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = value
	}
	return pcm.EncodeBase64(pcm.Encode(pcm.FromFloat32(samples)))
}

func TestEndToEndAgentTurn(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	ch := h.start(t)

	if h.ctrl.State() != entities.ConnectionConnected {
		t.Fatalf("State() = %s, want connected", h.ctrl.State())
	}

	// one silent capture frame goes out before the agent answers
	h.device.last().frames <- entities.CaptureFrame{
		Channels:   [][]float32{make([]float32, entities.CaptureFrameSize)},
		SampleRate: entities.CaptureSampleRate,
	}
	waitFor(t, "capture chunk", func() bool { return len(ch.sentChunks()) == 1 })
	chunk := ch.sentChunks()[0]
	if chunk.MIMEType != "audio/pcm;rate=16000" || len(chunk.Data) != 2*entities.CaptureFrameSize {
		t.Errorf("chunk = %s with %d bytes", chunk.MIMEType, len(chunk.Data))
	}
	for i, b := range chunk.Data {
		if b != 0 {
			t.Fatalf("chunk byte %d = %d, want silence", i, b)
		}
	}

	// 7200 samples at 24kHz is 300ms of speech
	ch.messages <- entities.AgentMessage{Kind: entities.AgentOutputTranscript, Text: "I understand, that sounds difficult"}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentAudio, Audio: audioPayload(7200, 0.25)}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentTurnComplete}

	waitFor(t, "agent message", func() bool { return len(h.ctrl.Messages()) == 1 })

	snap := h.ctrl.Snapshot()
	if snap.Emotion != entities.EmotionEmpathy {
		t.Errorf("Emotion = %s, want empathy", snap.Emotion)
	}
	if !snap.IsSpeaking {
		t.Error("IsSpeaking = false while the buffer is playing")
	}
	if snap.Messages[0].Role != entities.MessageRoleAgent || snap.Messages[0].Text != "I understand, that sounds difficult" {
		t.Errorf("message = %+v", snap.Messages[0])
	}
	if snap.PendingOutput != "" {
		t.Errorf("PendingOutput = %q after flush", snap.PendingOutput)
	}

	waitFor(t, "speaking to end", func() bool { return !h.ctrl.Snapshot().IsSpeaking })
	waitFor(t, "emotion decay", func() bool { return h.ctrl.Snapshot().Emotion == entities.EmotionNeutral })
}

func TestTurnFlushOrderThroughController(t *testing.T) {
	h := newHarness(t, time.Second)
	ch := h.start(t)

	ch.messages <- entities.AgentMessage{Kind: entities.AgentOutputTranscript, Text: "Sure, "}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentInputTranscript, Text: "Can you help?"}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentOutputTranscript, Text: "happy to help."}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentTurnComplete}

	waitFor(t, "two messages", func() bool { return len(h.ctrl.Messages()) == 2 })
	messages := h.ctrl.Messages()
	if messages[0].Role != entities.MessageRoleUser || messages[1].Role != entities.MessageRoleAgent {
		t.Errorf("roles = %s, %s; want user then agent", messages[0].Role, messages[1].Role)
	}
	if messages[1].Text != "Sure, happy to help." {
		t.Errorf("agent text = %q", messages[1].Text)
	}
}

func TestInterruptedStopsPlayback(t *testing.T) {
	h := newHarness(t, time.Second)
	ch := h.start(t)

	ch.messages <- entities.AgentMessage{Kind: entities.AgentAudio, Audio: audioPayload(48000, 0.1)}
	waitFor(t, "speaking", func() bool { return h.ctrl.Snapshot().IsSpeaking })

	ch.messages <- entities.AgentMessage{Kind: entities.AgentInterrupted}
	waitFor(t, "interruption", func() bool { return !h.ctrl.Snapshot().IsSpeaking })

	if h.ctrl.scheduler.NextStartTime() != 0 {
		t.Errorf("cursor = %v after interruption, want 0", h.ctrl.scheduler.NextStartTime())
	}
}

func TestStartFailures(t *testing.T) {
	t.Run("permission denied", func(t *testing.T) {
		h := newHarness(t, time.Second)
		h.device.err = errors.New("NotAllowedError")

		err := h.ctrl.Start(context.Background())
		if !errors.Is(err, domain.ErrPermissionDenied) {
			t.Fatalf("Start() error = %v, want ErrPermissionDenied", err)
		}
		if h.ctrl.State() != entities.ConnectionError {
			t.Errorf("State() = %s, want error", h.ctrl.State())
		}
		if h.connector.count() != 0 {
			t.Error("agent channel must not open without a microphone")
		}
		if !errors.Is(h.ctrl.LastError(), domain.ErrPermissionDenied) {
			t.Errorf("LastError() = %v", h.ctrl.LastError())
		}
	})

	t.Run("channel error releases microphone", func(t *testing.T) {
		h := newHarness(t, time.Second)
		h.connector.err = errors.New("dial tcp: connection refused")

		err := h.ctrl.Start(context.Background())
		if !errors.Is(err, domain.ErrChannel) {
			t.Fatalf("Start() error = %v, want ErrChannel", err)
		}
		if h.ctrl.State() != entities.ConnectionError {
			t.Errorf("State() = %s, want error", h.ctrl.State())
		}
		if !h.device.last().isClosed() {
			t.Error("microphone stream was not released")
		}
		if h.ctrl.Snapshot().LastError == "" {
			t.Error("snapshot should carry the start error")
		}
	})

	t.Run("retry after error", func(t *testing.T) {
		h := newHarness(t, time.Second)
		h.connector.err = errors.New("boom")
		_ = h.ctrl.Start(context.Background())

		h.connector.err = nil
		if err := h.ctrl.Start(context.Background()); err != nil {
			t.Fatalf("retry Start() error = %v", err)
		}
		if h.ctrl.State() != entities.ConnectionConnected {
			t.Errorf("State() = %s, want connected", h.ctrl.State())
		}
		if h.ctrl.LastError() != nil {
			t.Errorf("LastError() = %v after successful retry", h.ctrl.LastError())
		}
	})
}

func TestStartWhileActive(t *testing.T) {
	h := newHarness(t, time.Second)
	h.start(t)
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, domain.ErrAlreadyActive) {
		t.Errorf("second Start() error = %v, want ErrAlreadyActive", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, time.Second)
	ch := h.start(t)
	stream := h.device.last()

	ch.messages <- entities.AgentMessage{Kind: entities.AgentOutputTranscript, Text: "Wow"}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentAudio, Audio: audioPayload(48000, 0.1)}
	waitFor(t, "speaking", func() bool { return h.ctrl.Snapshot().IsSpeaking })

	for i := 0; i < 2; i++ {
		if err := h.ctrl.Stop(); err != nil {
			t.Fatalf("Stop() #%d error = %v", i+1, err)
		}
		snap := h.ctrl.Snapshot()
		if snap.State != entities.ConnectionIdle {
			t.Errorf("State = %s after Stop #%d", snap.State, i+1)
		}
		if snap.IsSpeaking {
			t.Errorf("IsSpeaking after Stop #%d", i+1)
		}
		if snap.Emotion != entities.EmotionNeutral {
			t.Errorf("Emotion = %s after Stop #%d", snap.Emotion, i+1)
		}
	}
	if !ch.isClosed() || !stream.isClosed() {
		t.Error("Stop() must close the channel and the microphone")
	}
	if ch.closeCall != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closeCall)
	}
}

// gatedEngine parks the first SampleRate call after arm() until release()
type gatedEngine struct {
	*wallEngine
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	gate    chan struct{}
}

func newGatedEngine() *gatedEngine {
	return &gatedEngine{
		wallEngine: newWallEngine(),
		entered:    make(chan struct{}),
		gate:       make(chan struct{}),
	}
}

func (e *gatedEngine) arm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed = true
}

func (e *gatedEngine) release() { close(e.gate) }

func (e *gatedEngine) SampleRate() int {
	e.mu.Lock()
	armed := e.armed
	e.armed = false
	e.mu.Unlock()
	if armed {
		close(e.entered)
		<-e.gate
	}
	return e.wallEngine.SampleRate()
}

func TestStopWaitsForInFlightAudio(t *testing.T) {
	engine := newGatedEngine()
	h := newHarnessWithEngine(t, time.Second, engine)
	ch := h.start(t)

	engine.arm()
	ch.messages <- entities.AgentMessage{Kind: entities.AgentOutputTranscript, Text: "Wow, really?"}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentAudio, Audio: audioPayload(48000, 0.1)}
	select {
	case <-engine.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("audio fragment never reached the engine")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- h.ctrl.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop() returned while the loop was still handling audio")
	case <-time.After(50 * time.Millisecond):
	}
	engine.release()

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}

	snap := h.ctrl.Snapshot()
	if snap.State != entities.ConnectionIdle {
		t.Errorf("State = %s, want idle", snap.State)
	}
	if snap.IsSpeaking || len(h.ctrl.scheduler.Active()) != 0 {
		t.Errorf("IsSpeaking = %v with %d active buffers after Stop", snap.IsSpeaking, len(h.ctrl.scheduler.Active()))
	}
	if snap.Emotion != entities.EmotionNeutral {
		t.Errorf("Emotion = %s after Stop, want neutral", snap.Emotion)
	}
}

func TestAgentErrorAndClose(t *testing.T) {
	tests := []struct {
		name      string
		msg       entities.AgentMessage
		wantState entities.ConnectionState
	}{
		{"error", entities.AgentMessage{Kind: entities.AgentError, Err: errors.New("socket reset")}, entities.ConnectionError},
		{"closed", entities.AgentMessage{Kind: entities.AgentClosed}, entities.ConnectionIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Second)
			ch := h.start(t)
			ch.messages <- tt.msg

			waitFor(t, "teardown", func() bool { return h.ctrl.State() == tt.wantState })
			waitFor(t, "channel close", ch.isClosed)

			if tt.wantState == entities.ConnectionError && !errors.Is(h.ctrl.LastError(), domain.ErrChannel) {
				t.Errorf("LastError() = %v, want ErrChannel", h.ctrl.LastError())
			}
			if err := h.ctrl.SendText(context.Background(), "hello"); !errors.Is(err, domain.ErrNotConnected) {
				t.Errorf("SendText() after teardown error = %v", err)
			}

			// Stop from error or idle lands in idle
			if err := h.ctrl.Stop(); err != nil {
				t.Fatal(err)
			}
			if h.ctrl.State() != entities.ConnectionIdle {
				t.Errorf("State() = %s after Stop", h.ctrl.State())
			}
		})
	}
}

func TestUnknownAndMalformedMessagesAreIgnored(t *testing.T) {
	h := newHarness(t, time.Second)
	ch := h.start(t)

	ch.messages <- entities.AgentMessage{Kind: "tool_call", Text: "?"}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentAudio, Audio: "%%%not-base64"}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentInputTranscript, Text: "still here"}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentTurnComplete}

	waitFor(t, "user message", func() bool { return len(h.ctrl.Messages()) == 1 })
	if h.ctrl.State() != entities.ConnectionConnected {
		t.Errorf("State() = %s, session should continue", h.ctrl.State())
	}
	if h.ctrl.Snapshot().IsSpeaking {
		t.Error("malformed audio must not be scheduled")
	}
}

func TestSendText(t *testing.T) {
	h := newHarness(t, time.Second)

	if err := h.ctrl.SendText(context.Background(), "hi"); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("SendText() while idle error = %v, want ErrNotConnected", err)
	}

	ch := h.start(t)
	if err := h.ctrl.SendText(context.Background(), "   "); !errors.Is(err, domain.ErrEmptyText) {
		t.Errorf("SendText(blank) error = %v, want ErrEmptyText", err)
	}

	ch.messages <- entities.AgentMessage{Kind: entities.AgentAudio, Audio: audioPayload(48000, 0.1)}
	waitFor(t, "speaking", func() bool { return h.ctrl.Snapshot().IsSpeaking })

	if err := h.ctrl.SendText(context.Background(), "Tell me a story"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if h.ctrl.Snapshot().IsSpeaking {
		t.Error("SendText() must interrupt playback")
	}

	messages := h.ctrl.Messages()
	if len(messages) != 1 || messages[0].Source != entities.MessageSourceText || messages[0].Text != "Tell me a story" {
		t.Errorf("messages = %+v", messages)
	}
	waitFor(t, "text sent", func() bool { return len(ch.sentTexts()) == 1 })
}

func TestCaptureFramesReachChannel(t *testing.T) {
	h := newHarness(t, time.Second)
	ch := h.start(t)
	stream := h.device.last()

	frame := entities.CaptureFrame{
		Channels:   [][]float32{make([]float32, entities.CaptureFrameSize)},
		SampleRate: entities.CaptureSampleRate,
	}
	stream.frames <- frame
	stream.frames <- frame

	waitFor(t, "two chunks", func() bool { return len(ch.sentChunks()) == 2 })
	chunk := ch.sentChunks()[0]
	if chunk.MIMEType != "audio/pcm;rate=16000" || len(chunk.Data) != 2*entities.CaptureFrameSize {
		t.Errorf("chunk = %s with %d bytes", chunk.MIMEType, len(chunk.Data))
	}
}

func TestSendFailuresAreDroppedNotFatal(t *testing.T) {
	h := newHarness(t, time.Second)
	ch := h.start(t)
	ch.mu.Lock()
	ch.audioErr = errors.New("write: broken pipe")
	ch.mu.Unlock()

	stream := h.device.last()
	stream.frames <- entities.CaptureFrame{Channels: [][]float32{make([]float32, 16)}}

	waitFor(t, "dropped frame", func() bool { return h.ctrl.Snapshot().DroppedFrames == 1 })
	if h.ctrl.State() != entities.ConnectionConnected {
		t.Errorf("State() = %s, frame failures must not end the session", h.ctrl.State())
	}
}

func TestNewTurnCancelsDecay(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond)
	ch := h.start(t)

	ch.messages <- entities.AgentMessage{Kind: entities.AgentOutputTranscript, Text: "That's great news!"}
	ch.messages <- entities.AgentMessage{Kind: entities.AgentTurnComplete}
	waitFor(t, "first turn", func() bool { return len(h.ctrl.Messages()) == 1 })

	// a neutral fragment opens the next turn before the decay fires
	ch.messages <- entities.AgentMessage{Kind: entities.AgentOutputTranscript, Text: "So, about tomorrow"}
	waitFor(t, "second turn", func() bool { return h.ctrl.Snapshot().PendingOutput != "" })

	time.Sleep(400 * time.Millisecond)
	if e := h.ctrl.Snapshot().Emotion; e != entities.EmotionJoy {
		t.Errorf("Emotion = %s, decay should have been cancelled by the new turn", e)
	}
}
