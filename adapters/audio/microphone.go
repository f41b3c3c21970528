package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/entities"
	"github.com/satriahrh/arunika/voice/domain/repositories"
)

// Microphone opens the default capture device through miniaudio
type Microphone struct {
	logger *zap.Logger
}

var _ repositories.CaptureDevice = (*Microphone)(nil)

// NewMicrophone creates a new microphone
func NewMicrophone(logger *zap.Logger) *Microphone {
	return &Microphone{logger: logger}
}

// Open starts capturing. Any failure to reach the device is reported as
// domain.ErrPermissionDenied.
func (m *Microphone) Open(ctx context.Context, config repositories.CaptureConfig) (repositories.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.FrameSize <= 0 {
		config.FrameSize = entities.CaptureFrameSize
	}
	if config.SampleRate <= 0 {
		config.SampleRate = entities.CaptureSampleRate
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", domain.ErrPermissionDenied, err)
	}

	stream := &micStream{
		malgoCtx: malgoCtx,
		frames:   make(chan entities.CaptureFrame, 8),
		framer:   newFramer(config.FrameSize, config.Channels, config.SampleRate),
		logger:   m.logger,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(config.Channels)
	deviceConfig.SampleRate = uint32(config.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			stream.onData(input)
		},
	})
	if err != nil {
		stream.release()
		return nil, fmt.Errorf("%w: init capture device: %v", domain.ErrPermissionDenied, err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		stream.release()
		return nil, fmt.Errorf("%w: start capture device: %v", domain.ErrPermissionDenied, err)
	}

	m.logger.Info("Microphone opened",
		zap.Int("sampleRate", config.SampleRate),
		zap.Int("channels", config.Channels),
		zap.Int("frameSize", config.FrameSize))
	return stream, nil
}

type micStream struct {
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	framer   *framer
	logger   *zap.Logger

	mu      sync.Mutex
	closed  bool
	frames  chan entities.CaptureFrame
	overrun atomic.Int64
}

// onData runs on the audio thread and must never block
func (s *micStream) onData(input []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, frame := range s.framer.push(input) {
		select {
		case s.frames <- frame:
		default:
			s.overrun.Add(1)
		}
	}
}

func (s *micStream) Frames() <-chan entities.CaptureFrame {
	return s.frames
}

func (s *micStream) Err() error {
	return nil
}

func (s *micStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	s.release()
	if n := s.overrun.Load(); n > 0 {
		s.logger.Warn("Capture frames lost to a slow consumer", zap.Int64("frames", n))
	}
	return nil
}

func (s *micStream) release() {
	if s.device != nil {
		s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.malgoCtx != nil {
		_ = s.malgoCtx.Uninit()
		s.malgoCtx.Free()
		s.malgoCtx = nil
	}
}
