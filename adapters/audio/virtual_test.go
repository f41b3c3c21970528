package audio

import (
	"testing"
	"time"
)

func TestVirtualEngine_ClockFollowsWallTime(t *testing.T) {
	e := NewVirtualEngine(24000)
	defer e.Close()

	time.Sleep(100 * time.Millisecond)
	got := e.CurrentTime()
	if got < 50*time.Millisecond || got > time.Second {
		t.Errorf("CurrentTime() = %v after 100ms, want roughly 100ms", got)
	}
}

func TestVirtualEngine_VoiceFinishes(t *testing.T) {
	e := NewVirtualEngine(24000)
	defer e.Close()

	voice, err := e.Play(constant(1200, 0.2), e.CurrentTime())
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	select {
	case <-voice.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("50ms voice did not finish within 2s")
	}
}

func TestVirtualEngine_CloseFinishesVoices(t *testing.T) {
	e := NewVirtualEngine(24000)
	voice, err := e.Play(constant(24000*10, 0.2), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !isDone(voice.Done()) {
		t.Error("Close() left a voice pending")
	}
}
