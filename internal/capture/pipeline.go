// Package capture turns microphone frames into transport chunks for the agent.
package capture

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain/entities"
	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/pcm"
)

// Sink receives encoded chunks. It must not block on the network.
type Sink func(chunk entities.TransportChunk) error

// Pipeline forwards channel 0 of every captured frame to a sink. A failed
// send drops that frame only; capture keeps going.
type Pipeline struct {
	sink        Sink
	sampleRate  int
	onSendError func(error)
	logger      *zap.Logger

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewPipeline creates a pipeline that encodes at sampleRate
func NewPipeline(sink Sink, sampleRate int, logger *zap.Logger) *Pipeline {
	if sampleRate <= 0 {
		sampleRate = entities.CaptureSampleRate
	}
	return &Pipeline{
		sink:       sink,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// OnSendError registers a callback for dropped frames. Must be set before Run.
func (p *Pipeline) OnSendError(fn func(error)) {
	p.onSendError = fn
}

// Run consumes the stream until ctx is cancelled or the stream ends.
// It returns the stream's terminal error, if any.
func (p *Pipeline) Run(ctx context.Context, stream repositories.CaptureStream) error {
	frames := stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				if err := stream.Err(); err != nil {
					p.logger.Error("Capture stream ended", zap.Error(err))
					return err
				}
				return nil
			}
			p.process(frame)
		}
	}
}

func (p *Pipeline) process(frame entities.CaptureFrame) {
	mono := frame.Channel(0)
	if len(mono) == 0 {
		return
	}

	rate := frame.SampleRate
	if rate <= 0 {
		rate = p.sampleRate
	}
	chunk := pcm.EncodeFrame(entities.AudioFrame{
		Samples:    pcm.FromFloat32(mono),
		SampleRate: rate,
	})

	if err := p.sink(chunk); err != nil {
		p.dropped.Add(1)
		if p.onSendError != nil {
			p.onSendError(err)
		}
		return
	}
	p.sent.Add(1)
}

// Sent returns the number of frames handed to the sink
func (p *Pipeline) Sent() int64 {
	return p.sent.Load()
}

// Dropped returns the number of frames the sink refused
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}
