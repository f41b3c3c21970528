// Package playback schedules decoded agent speech back to back on an output
// engine's timeline and tracks which buffers are still audible.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/pcm"
)

// Handle identifies one scheduled buffer
type Handle struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
}

// End is the clock time the buffer stops playing
func (h Handle) End() time.Duration {
	return h.Start + h.Duration
}

type activeVoice struct {
	handle Handle
	voice  repositories.Voice
}

// Scheduler owns the playback cursor and the active set.
// The active set is empty exactly when nothing is speaking.
type Scheduler struct {
	engine repositories.OutputEngine
	logger *zap.Logger

	mu        sync.Mutex
	nextStart time.Duration
	seq       uint64
	epoch     uint64
	active    map[uint64]activeVoice

	onSpeakingChange func(speaking bool)
}

// NewScheduler creates a scheduler on top of engine
func NewScheduler(engine repositories.OutputEngine, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		engine: engine,
		logger: logger,
		active: make(map[uint64]activeVoice),
	}
}

// OnSpeakingChange registers the callback fired when the active set becomes
// non-empty (true) or empty (false). It is called without the lock held.
func (s *Scheduler) OnSpeakingChange(fn func(speaking bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpeakingChange = fn
}

// Schedule places samples right after the previously scheduled buffer, or at
// the current clock time if the cursor already lies in the past. samples must
// be at the engine's sample rate.
func (s *Scheduler) Schedule(samples []float32) (Handle, error) {
	if len(samples) == 0 {
		return Handle{}, fmt.Errorf("%w: empty buffer", domain.ErrPlaybackFailure)
	}

	s.mu.Lock()
	now := s.engine.CurrentTime()
	startAt := s.nextStart
	if now > startAt {
		startAt = now
	}

	voice, err := s.engine.Play(samples, startAt)
	if err != nil {
		s.mu.Unlock()
		if !errors.Is(err, domain.ErrPlaybackFailure) {
			err = fmt.Errorf("%w: %v", domain.ErrPlaybackFailure, err)
		}
		s.logger.Warn("Dropping playback buffer", zap.Int("samples", len(samples)), zap.Error(err))
		return Handle{}, err
	}

	s.seq++
	handle := Handle{
		ID:       s.seq,
		Start:    startAt,
		Duration: pcm.Duration(len(samples), s.engine.SampleRate()),
	}
	s.nextStart = handle.End()

	wasIdle := len(s.active) == 0
	s.active[handle.ID] = activeVoice{handle: handle, voice: voice}
	epoch := s.epoch
	notify := s.onSpeakingChange
	s.mu.Unlock()

	go s.await(handle.ID, epoch, voice)

	if wasIdle && notify != nil {
		notify(true)
	}
	return handle, nil
}

// await removes the handle once the engine reports it finished. Completions
// from before an interrupt belong to an old epoch and are ignored.
func (s *Scheduler) await(id, epoch uint64, voice repositories.Voice) {
	<-voice.Done()

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	ended := len(s.active) == 0
	notify := s.onSpeakingChange
	s.mu.Unlock()

	if ended && notify != nil {
		notify(false)
	}
}

// Interrupt silences every active buffer, clears the active set and resets
// the cursor. Speaking ended is always signalled. Safe to call repeatedly.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	stopped := make([]repositories.Voice, 0, len(s.active))
	for id, av := range s.active {
		stopped = append(stopped, av.voice)
		delete(s.active, id)
	}
	s.nextStart = 0
	s.epoch++
	notify := s.onSpeakingChange
	s.mu.Unlock()

	for _, v := range stopped {
		v.Stop()
	}
	if len(stopped) > 0 {
		s.logger.Debug("Playback interrupted", zap.Int("stopped", len(stopped)))
	}
	if notify != nil {
		notify(false)
	}
	return len(stopped)
}

// IsSpeaking reports whether any scheduled buffer is still active
func (s *Scheduler) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// Active returns a copy of the active set
func (s *Scheduler) Active() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Handle, 0, len(s.active))
	for _, av := range s.active {
		out = append(out, av.handle)
	}
	return out
}

// NextStartTime returns the playback cursor
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// SampleRate is the engine's native rate that Schedule expects
func (s *Scheduler) SampleRate() int {
	return s.engine.SampleRate()
}

// Level polls the engine's output amplitude
func (s *Scheduler) Level() float64 {
	return s.engine.Level()
}
