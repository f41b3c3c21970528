// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Agent backends
const (
	BackendGemini  = "gemini"
	BackendRelay   = "relay"
	BackendCascade = "cascade"
	BackendMock    = "mock"
)

type Config struct {
	Server struct {
		Port      string
		LogLevel  string
		LogFormat string
	}
	Agent struct {
		Backend      string
		SystemPrompt string
	}
	Gemini struct {
		APIKey    string
		LiveModel string
		ChatModel string
		Voice     string
	}
	Relay struct {
		URL   string
		Token string
	}
	Eleven struct {
		APIKey       string
		APIBaseURL   string
		VoiceID      string
		ModelID      string
		OutputFormat string
		ChunkSize    int
		Stability    float64
		Clarity      float64
	}
	Speech struct {
		Language string
	}
	Audio struct {
		CaptureFrameSize   int
		CaptureSampleRate  int
		PlaybackSampleRate int
		SpeakerEnabled     bool
	}
	Session struct {
		EmotionDecay  time.Duration
		OutboundQueue int
		AutoStart     bool
	}
	Auth struct {
		JWTSecret string
		UISecret  string
		TokenTTL  time.Duration
	}
}

// Load reads .env if present, then the environment
func Load() (Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("agent.backend", BackendGemini)
	v.SetDefault("agent.system_prompt", "You are a warm, attentive voice companion. Keep answers short and conversational.")

	v.SetDefault("gemini.live_model", "gemini-2.0-flash-live-001")
	v.SetDefault("gemini.chat_model", "gemini-2.0-flash")
	v.SetDefault("gemini.voice", "Puck")

	v.SetDefault("speech.language", "en-US")

	v.SetDefault("audio.capture_frame_size", 4096)
	v.SetDefault("audio.capture_sample_rate", 16000)
	v.SetDefault("audio.playback_sample_rate", 24000)
	v.SetDefault("audio.speaker_enabled", true)

	v.SetDefault("session.emotion_decay", "2s")
	v.SetDefault("session.outbound_queue", 32)
	v.SetDefault("session.auto_start", false)

	v.SetDefault("auth.token_ttl", "24h")

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.log_format", "LOG_FORMAT")

	v.BindEnv("agent.backend", "AGENT_BACKEND")
	v.BindEnv("agent.system_prompt", "SYSTEM_PROMPT")

	v.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	v.BindEnv("gemini.live_model", "GEMINI_LIVE_MODEL")
	v.BindEnv("gemini.chat_model", "GEMINI_CHAT_MODEL")
	v.BindEnv("gemini.voice", "GEMINI_VOICE")

	v.BindEnv("relay.url", "RELAY_URL")
	v.BindEnv("relay.token", "RELAY_TOKEN")

	v.BindEnv("elevenlabs.api_key", "ELEVEN_LABS_API_KEY")
	v.BindEnv("elevenlabs.api_base_url", "ELEVEN_LABS_API_BASE_URL")
	v.BindEnv("elevenlabs.voice_id", "ELEVEN_LABS_VOICE_ID")
	v.BindEnv("elevenlabs.model_id", "ELEVEN_LABS_MODEL_ID")
	v.BindEnv("elevenlabs.output_format", "ELEVEN_LABS_OUTPUT_FORMAT")
	v.BindEnv("elevenlabs.chunk_size", "ELEVEN_LABS_CHUNK_SIZE")
	v.BindEnv("elevenlabs.stability", "ELEVEN_LABS_STABILITY")
	v.BindEnv("elevenlabs.clarity", "ELEVEN_LABS_CLARITY")

	v.BindEnv("speech.language", "SPEECH_LANGUAGE")

	v.BindEnv("audio.capture_frame_size", "CAPTURE_FRAME_SIZE")
	v.BindEnv("audio.capture_sample_rate", "CAPTURE_SAMPLE_RATE")
	v.BindEnv("audio.playback_sample_rate", "PLAYBACK_SAMPLE_RATE")
	v.BindEnv("audio.speaker_enabled", "SPEAKER_ENABLED")

	v.BindEnv("session.emotion_decay", "EMOTION_DECAY")
	v.BindEnv("session.outbound_queue", "OUTBOUND_QUEUE")
	v.BindEnv("session.auto_start", "AUTO_START")

	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.ui_secret", "UI_SECRET")
	v.BindEnv("auth.token_ttl", "TOKEN_TTL")

	var c Config
	c.Server.Port = fmt.Sprint(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.LogFormat = v.GetString("server.log_format")

	c.Agent.Backend = strings.ToLower(v.GetString("agent.backend"))
	c.Agent.SystemPrompt = v.GetString("agent.system_prompt")

	c.Gemini.APIKey = v.GetString("gemini.api_key")
	c.Gemini.LiveModel = v.GetString("gemini.live_model")
	c.Gemini.ChatModel = v.GetString("gemini.chat_model")
	c.Gemini.Voice = v.GetString("gemini.voice")

	c.Relay.URL = v.GetString("relay.url")
	c.Relay.Token = v.GetString("relay.token")

	c.Eleven.APIKey = v.GetString("elevenlabs.api_key")
	c.Eleven.APIBaseURL = v.GetString("elevenlabs.api_base_url")
	c.Eleven.VoiceID = v.GetString("elevenlabs.voice_id")
	c.Eleven.ModelID = v.GetString("elevenlabs.model_id")
	c.Eleven.OutputFormat = v.GetString("elevenlabs.output_format")
	c.Eleven.ChunkSize = v.GetInt("elevenlabs.chunk_size")
	c.Eleven.Stability = v.GetFloat64("elevenlabs.stability")
	c.Eleven.Clarity = v.GetFloat64("elevenlabs.clarity")

	c.Speech.Language = v.GetString("speech.language")

	c.Audio.CaptureFrameSize = v.GetInt("audio.capture_frame_size")
	c.Audio.CaptureSampleRate = v.GetInt("audio.capture_sample_rate")
	c.Audio.PlaybackSampleRate = v.GetInt("audio.playback_sample_rate")
	c.Audio.SpeakerEnabled = v.GetBool("audio.speaker_enabled")

	c.Session.EmotionDecay = v.GetDuration("session.emotion_decay")
	c.Session.OutboundQueue = v.GetInt("session.outbound_queue")
	c.Session.AutoStart = v.GetBool("session.auto_start")

	c.Auth.JWTSecret = v.GetString("auth.jwt_secret")
	c.Auth.UISecret = v.GetString("auth.ui_secret")
	c.Auth.TokenTTL = v.GetDuration("auth.token_ttl")

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks the settings the selected backend depends on
func (c Config) Validate() error {
	switch c.Agent.Backend {
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the %s backend", c.Agent.Backend)
		}
	case BackendRelay:
		if c.Relay.URL == "" {
			return fmt.Errorf("RELAY_URL is required for the relay backend")
		}
		if !strings.HasPrefix(c.Relay.URL, "ws://") && !strings.HasPrefix(c.Relay.URL, "wss://") {
			return fmt.Errorf("RELAY_URL must be a ws:// or wss:// URL, got %q", c.Relay.URL)
		}
	case BackendCascade:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the cascade backend")
		}
		if c.Eleven.APIKey == "" {
			return fmt.Errorf("ELEVEN_LABS_API_KEY is required for the cascade backend")
		}
	case BackendMock:
	default:
		return fmt.Errorf("unknown AGENT_BACKEND %q", c.Agent.Backend)
	}

	if c.Audio.CaptureFrameSize <= 0 {
		return fmt.Errorf("CAPTURE_FRAME_SIZE must be positive, got %d", c.Audio.CaptureFrameSize)
	}
	if c.Audio.CaptureSampleRate <= 0 || c.Audio.PlaybackSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.Session.EmotionDecay <= 0 {
		return fmt.Errorf("EMOTION_DECAY must be positive, got %s", c.Session.EmotionDecay)
	}
	if c.Session.OutboundQueue <= 0 {
		return fmt.Errorf("OUTBOUND_QUEUE must be positive, got %d", c.Session.OutboundQueue)
	}
	if c.Auth.UISecret != "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when UI_SECRET is set")
	}
	return nil
}
