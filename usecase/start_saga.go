package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/saga"
)

// Saga step IDs. Step results are stored in the saga data under these keys.
const (
	StepAcquireMicrophone saga.StepID = "acquire_microphone"
	StepOpenAgentChannel  saga.StepID = "open_agent_channel"

	startSagaName = "session_start"
)

// acquireMicrophoneStep opens the capture device and closes it on compensation
type acquireMicrophoneStep struct {
	device repositories.CaptureDevice
	config repositories.CaptureConfig
	logger *zap.Logger
}

func (s *acquireMicrophoneStep) ID() saga.StepID { return StepAcquireMicrophone }

func (s *acquireMicrophoneStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	stream, err := s.device.Open(ctx, s.config)
	if err != nil {
		if !errors.Is(err, domain.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
		}
		return saga.Fail(err)
	}
	s.logger.Debug("Microphone acquired",
		zap.Int("sampleRate", s.config.SampleRate),
		zap.Int("frameSize", s.config.FrameSize))
	return saga.Ok(stream)
}

func (s *acquireMicrophoneStep) Compensate(ctx context.Context, data saga.SagaData) error {
	stream, ok := data[string(StepAcquireMicrophone)].(repositories.CaptureStream)
	if !ok {
		return nil
	}
	return stream.Close()
}

// openAgentChannelStep connects to the remote agent and closes it on compensation
type openAgentChannelStep struct {
	connector repositories.AgentConnector
	logger    *zap.Logger
}

func (s *openAgentChannelStep) ID() saga.StepID { return StepOpenAgentChannel }

func (s *openAgentChannelStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	channel, err := s.connector.Connect(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrChannel) {
			err = fmt.Errorf("%w: %v", domain.ErrChannel, err)
		}
		return saga.Fail(err)
	}
	s.logger.Debug("Agent channel opened")
	return saga.Ok(channel)
}

func (s *openAgentChannelStep) Compensate(ctx context.Context, data saga.SagaData) error {
	channel, ok := data[string(StepOpenAgentChannel)].(repositories.AgentChannel)
	if !ok {
		return nil
	}
	return channel.Close()
}
