package audio

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/internal/playback"
)

func readSamples(t *testing.T, m *Mixer, n int) []int16 {
	t.Helper()
	buf := make([]byte, 2*n)
	got, err := m.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != len(buf) {
		t.Fatalf("Read() = %d bytes, want %d", got, len(buf))
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return out
}

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestMixer_ClockAdvancesWithReads(t *testing.T) {
	m := NewMixer(1000)
	if m.CurrentTime() != 0 {
		t.Fatalf("CurrentTime() = %v, want 0", m.CurrentTime())
	}
	readSamples(t, m, 250)
	if got := m.CurrentTime(); got != 250*time.Millisecond {
		t.Errorf("CurrentTime() = %v, want 250ms", got)
	}
	if m.SampleRate() != 1000 {
		t.Errorf("SampleRate() = %d, want 1000", m.SampleRate())
	}
}

func TestMixer_ScheduledStart(t *testing.T) {
	m := NewMixer(1000)
	voice, err := m.Play(constant(4, 0.5), 2*time.Millisecond)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	out := readSamples(t, m, 8)
	for i, s := range out {
		inVoice := i >= 2 && i < 6
		if inVoice && s == 0 {
			t.Errorf("sample %d silent, want voice", i)
		}
		if !inVoice && s != 0 {
			t.Errorf("sample %d = %d, want silence", i, s)
		}
	}
	if !isDone(voice.Done()) {
		t.Error("voice not done after being fully rendered")
	}
}

func TestMixer_OverlappingVoicesSum(t *testing.T) {
	m := NewMixer(1000)
	if _, err := m.Play(constant(2, 0.25), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Play(constant(2, 0.25), 0); err != nil {
		t.Fatal(err)
	}
	single := NewMixer(1000)
	if _, err := single.Play(constant(2, 0.5), 0); err != nil {
		t.Fatal(err)
	}

	got := readSamples(t, m, 2)
	want := readSamples(t, single, 2)
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
	if m.Level() <= 0 {
		t.Errorf("Level() = %v, want > 0", m.Level())
	}
}

func TestMixer_LateStartPlaysImmediately(t *testing.T) {
	m := NewMixer(1000)
	readSamples(t, m, 10)

	if _, err := m.Play(constant(3, 0.5), time.Millisecond); err != nil {
		t.Fatal(err)
	}
	out := readSamples(t, m, 3)
	for i, s := range out {
		if s == 0 {
			t.Errorf("sample %d silent, late voice should start at once", i)
		}
	}
}

func TestMixer_StopSilencesVoice(t *testing.T) {
	m := NewMixer(1000)
	voice, err := m.Play(constant(100, 0.5), 0)
	if err != nil {
		t.Fatal(err)
	}
	readSamples(t, m, 10)

	voice.Stop()
	voice.Stop()
	if !isDone(voice.Done()) {
		t.Fatal("Done() not closed after Stop()")
	}
	for i, s := range readSamples(t, m, 10) {
		if s != 0 {
			t.Errorf("sample %d = %d after Stop(), want silence", i, s)
		}
	}
	if m.Level() != 0 {
		t.Errorf("Level() = %v after Stop(), want 0", m.Level())
	}
}

func TestMixer_PlayRejections(t *testing.T) {
	m := NewMixer(1000)
	if _, err := m.Play(nil, 0); !errors.Is(err, domain.ErrPlaybackFailure) {
		t.Errorf("Play(nil) error = %v, want ErrPlaybackFailure", err)
	}

	voice, err := m.Play(constant(10, 0.1), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if !isDone(voice.Done()) {
		t.Error("Close() should finish pending voices")
	}
	if _, err := m.Play(constant(10, 0.1), 0); !errors.Is(err, domain.ErrPlaybackFailure) {
		t.Errorf("Play() after Close() error = %v, want ErrPlaybackFailure", err)
	}
}

func TestMixer_BackToBackBuffersNeitherOverlapNorGap(t *testing.T) {
	// 4801 samples at 24kHz is not a whole number of nanoseconds
	const n = 4801
	m := NewMixer(24000)
	scheduler := playback.NewScheduler(m, zaptest.NewLogger(t))
	for i := 0; i < 2; i++ {
		if _, err := scheduler.Schedule(constant(n, 0.25)); err != nil {
			t.Fatalf("Schedule() error = %v", err)
		}
	}

	out := readSamples(t, m, 2*n+1)
	for i, s := range out[:2*n] {
		if s != 8192 {
			t.Fatalf("sample %d = %d, want 8192", i, s)
		}
	}
	if out[2*n] != 0 {
		t.Errorf("sample %d = %d, want silence after both buffers", 2*n, out[2*n])
	}
}
