// Package audio implements the capture device and output engines on top of
// the host's sound hardware, plus a headless engine for servers and tests.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/pcm"
)

// Mixer renders scheduled voices onto a single mono 16-bit LE stream. Its
// clock is the number of samples read so far, so it advances exactly as fast
// as the consumer pulls audio.
type Mixer struct {
	rate int

	mu     sync.Mutex
	pos    int64
	voices []*mixVoice
	level  float64
	closed bool
}

// NewMixer creates a mixer running at rate
func NewMixer(rate int) *Mixer {
	return &Mixer{rate: rate}
}

type mixVoice struct {
	mixer   *Mixer
	start   int64
	samples []float32
	once    sync.Once
	done    chan struct{}
}

func (v *mixVoice) end() int64 {
	return v.start + int64(len(v.samples))
}

func (v *mixVoice) finish() {
	v.once.Do(func() { close(v.done) })
}

// Stop removes the voice from the mix immediately
func (v *mixVoice) Stop() {
	v.mixer.remove(v)
	v.finish()
}

// Done is closed when the voice has been fully rendered or stopped
func (v *mixVoice) Done() <-chan struct{} {
	return v.done
}

// CurrentTime is the playback clock
func (m *Mixer) CurrentTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pcm.Duration(int(m.pos), m.rate)
}

// SampleRate is the mixer's native rate
func (m *Mixer) SampleRate() int {
	return m.rate
}

// Level is the RMS of the most recently rendered block
func (m *Mixer) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Play schedules samples to start at the given clock time. A start time in
// the past plays immediately.
func (m *Mixer) Play(samples []float32, at time.Duration) (repositories.Voice, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", domain.ErrPlaybackFailure)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: output closed", domain.ErrPlaybackFailure)
	}

	start := m.sampleAt(at)
	if start < m.pos {
		start = m.pos
	}
	v := &mixVoice{
		mixer:   m,
		start:   start,
		samples: samples,
		done:    make(chan struct{}),
	}
	m.voices = append(m.voices, v)
	return v, nil
}

// Read renders the next len(p)/2 samples. It never blocks and never fails;
// silence is rendered when nothing is scheduled.
func (m *Mixer) Read(p []byte) (int, error) {
	n := len(p) / 2
	if n == 0 {
		return 0, nil
	}

	m.mu.Lock()
	var sumSq float64
	for i := 0; i < n; i++ {
		t := m.pos + int64(i)
		var s float32
		for _, v := range m.voices {
			if idx := t - v.start; idx >= 0 && idx < int64(len(v.samples)) {
				s += v.samples[idx]
			}
		}
		binary.LittleEndian.PutUint16(p[2*i:], uint16(pcm.FloatToInt16(s)))
		sumSq += float64(s) * float64(s)
	}
	m.pos += int64(n)
	m.level = math.Min(1, math.Sqrt(sumSq/float64(n)))

	var finished []*mixVoice
	remaining := make([]*mixVoice, 0, len(m.voices))
	for _, v := range m.voices {
		if v.end() <= m.pos {
			finished = append(finished, v)
			continue
		}
		remaining = append(remaining, v)
	}
	m.voices = remaining
	m.mu.Unlock()

	for _, v := range finished {
		v.finish()
	}
	return 2 * n, nil
}

// Close stops every voice and rejects further playback
func (m *Mixer) Close() error {
	m.mu.Lock()
	voices := m.voices
	m.voices = nil
	m.closed = true
	m.mu.Unlock()

	for _, v := range voices {
		v.finish()
	}
	return nil
}

// sampleAt converts a clock time to the nearest sample index. Buffer
// durations are truncated to the nanosecond, so rounding down would start a
// back-to-back buffer one sample early.
func (m *Mixer) sampleAt(at time.Duration) int64 {
	second := int64(time.Second)
	return (int64(at)*int64(m.rate) + second/2) / second
}

func (m *Mixer) remove(target *mixVoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range m.voices {
		if v == target {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}
