package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/pcm"
)

const (
	// mockSpeechThreshold is the RMS a chunk must exceed to count as speech
	mockSpeechThreshold = 0.02
	// mockTrailingSilence ends the utterance after this much quiet following speech
	mockTrailingSilence = 700 * time.Millisecond
)

var mockTranscripts = []string{
	"Hello, how are you today?",
	"I had a really long day at work and I'm tired.",
	"Can you tell me something interesting?",
	"Thanks, that was nice to hear.",
}

// MockSpeechToText recognizes utterances by energy alone and returns canned text
type MockSpeechToText struct {
	logger *zap.Logger

	mu   sync.Mutex
	next int
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	if config.Encoding != "" && config.Encoding != "LINEAR16" {
		return nil, fmt.Errorf("unsupported audio encoding: %s", config.Encoding)
	}
	sampleRate := config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	s.mu.Lock()
	text := mockTranscripts[s.next%len(mockTranscripts)]
	s.next++
	s.mu.Unlock()

	s.logger.Debug("Initializing mock streaming transcription",
		zap.Int("sampleRate", sampleRate),
		zap.String("language", config.Language))

	return &MockSpeechToTextStream{
		logger:        s.logger,
		sampleRate:    sampleRate,
		transcription: text,
		done:          make(chan struct{}),
	}, nil
}

// MockSpeechToTextStream is a mock implementation of streaming speech recognition
type MockSpeechToTextStream struct {
	logger        *zap.Logger
	sampleRate    int
	transcription string

	mu       sync.Mutex
	speech   time.Duration
	silence  time.Duration
	doneOnce sync.Once
	done     chan struct{}
}

// Stream implements mock streaming audio processing
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	samples, err := pcm.Decode(data)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	level := pcm.RMS(pcm.ToFloat32(samples))
	chunk := pcm.Duration(len(samples), m.sampleRate)

	m.mu.Lock()
	defer m.mu.Unlock()
	if level >= mockSpeechThreshold {
		m.speech += chunk
		m.silence = 0
		return nil
	}
	if m.speech > 0 {
		m.silence += chunk
		if m.silence >= mockTrailingSilence {
			m.doneOnce.Do(func() { close(m.done) })
		}
	}
	return nil
}

// Done is closed after speech followed by enough silence
func (m *MockSpeechToTextStream) Done() <-chan struct{} {
	return m.done
}

// End returns the mock transcription result
func (m *MockSpeechToTextStream) End() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.speech == 0 {
		return "", fmt.Errorf("no speech detected in audio")
	}
	m.logger.Debug("Ending mock transcription stream", zap.String("result", m.transcription))
	return m.transcription, nil
}
