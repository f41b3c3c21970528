package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AGENT_BACKEND", "mock")
	t.Setenv("PORT", "")
	t.Setenv("EMOTION_DECAY", "")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if c.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", c.Server.Port)
	}
	if c.Audio.CaptureFrameSize != 4096 {
		t.Errorf("expected frame size 4096, got %d", c.Audio.CaptureFrameSize)
	}
	if c.Audio.CaptureSampleRate != 16000 || c.Audio.PlaybackSampleRate != 24000 {
		t.Errorf("unexpected sample rates %d/%d", c.Audio.CaptureSampleRate, c.Audio.PlaybackSampleRate)
	}
	if c.Session.EmotionDecay != 2*time.Second {
		t.Errorf("expected emotion decay 2s, got %s", c.Session.EmotionDecay)
	}
	if c.Session.OutboundQueue != 32 {
		t.Errorf("expected outbound queue 32, got %d", c.Session.OutboundQueue)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AGENT_BACKEND", "RELAY")
	t.Setenv("RELAY_URL", "wss://agent.example.com/live")
	t.Setenv("PORT", "9090")
	t.Setenv("EMOTION_DECAY", "500ms")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Agent.Backend != BackendRelay {
		t.Errorf("backend = %q, want relay", c.Agent.Backend)
	}
	if c.Server.Port != "9090" {
		t.Errorf("port = %q", c.Server.Port)
	}
	if c.Session.EmotionDecay != 500*time.Millisecond {
		t.Errorf("emotion decay = %s", c.Session.EmotionDecay)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		var c Config
		c.Agent.Backend = BackendMock
		c.Audio.CaptureFrameSize = 4096
		c.Audio.CaptureSampleRate = 16000
		c.Audio.PlaybackSampleRate = 24000
		c.Session.EmotionDecay = 2 * time.Second
		c.Session.OutboundQueue = 32
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"mock needs nothing", func(c *Config) {}, false},
		{"gemini without key", func(c *Config) { c.Agent.Backend = BackendGemini }, true},
		{"gemini with key", func(c *Config) { c.Agent.Backend = BackendGemini; c.Gemini.APIKey = "k" }, false},
		{"relay without url", func(c *Config) { c.Agent.Backend = BackendRelay }, true},
		{"relay with http url", func(c *Config) { c.Agent.Backend = BackendRelay; c.Relay.URL = "http://x" }, true},
		{"cascade without tts key", func(c *Config) { c.Agent.Backend = BackendCascade; c.Gemini.APIKey = "k" }, true},
		{"unknown backend", func(c *Config) { c.Agent.Backend = "carrier-pigeon" }, true},
		{"zero frame size", func(c *Config) { c.Audio.CaptureFrameSize = 0 }, true},
		{"zero decay", func(c *Config) { c.Session.EmotionDecay = 0 }, true},
		{"ui secret without jwt secret", func(c *Config) { c.Auth.UISecret = "s" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
