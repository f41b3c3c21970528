package repositories

import (
	"context"
	"time"

	"github.com/satriahrh/arunika/voice/domain/entities"
)

// CaptureConfig describes the frames a capture device must produce
type CaptureConfig struct {
	SampleRate int
	FrameSize  int
	Channels   int
}

// CaptureDevice abstracts the microphone.
// Open fails with domain.ErrPermissionDenied when access is refused or unavailable.
type CaptureDevice interface {
	Open(ctx context.Context, config CaptureConfig) (CaptureStream, error)
}

// CaptureStream yields fixed-size frames until closed
type CaptureStream interface {
	Frames() <-chan entities.CaptureFrame
	// Err returns the error that ended the stream, if any
	Err() error
	Close() error
}

// OutputEngine abstracts the speaker: a monotonic clock plus scheduled-start playback
type OutputEngine interface {
	// CurrentTime is the engine's output clock
	CurrentTime() time.Duration
	// SampleRate is the engine's native buffer rate
	SampleRate() int
	// Play schedules samples to start at the given clock time
	Play(samples []float32, at time.Duration) (Voice, error)
	// Level is the current output amplitude in 0..1
	Level() float64
}

// Voice is one buffer scheduled on an OutputEngine
type Voice interface {
	// Stop silences the voice immediately. Safe to call more than once.
	Stop()
	// Done is closed when the voice finished playing or was stopped
	Done() <-chan struct{}
}
