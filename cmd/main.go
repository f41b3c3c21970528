package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/arunika/voice/adapters/agent"
	"github.com/satriahrh/arunika/voice/adapters/audio"
	"github.com/satriahrh/arunika/voice/adapters/llm"
	"github.com/satriahrh/arunika/voice/adapters/speech"
	"github.com/satriahrh/arunika/voice/adapters/stt"
	"github.com/satriahrh/arunika/voice/adapters/tts"
	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/api"
	"github.com/satriahrh/arunika/voice/internal/auth"
	"github.com/satriahrh/arunika/voice/internal/config"
	"github.com/satriahrh/arunika/voice/internal/metrics"
	"github.com/satriahrh/arunika/voice/internal/websocket"
	"github.com/satriahrh/arunika/voice/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	connector, closers, err := newConnector(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize agent", zap.String("backend", cfg.Agent.Backend), zap.Error(err))
	}
	engine, err := newOutputEngine(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize audio output", zap.Error(err))
	}
	closers = append(closers, engine)
	microphone := audio.NewMicrophone(logger.Named("microphone"))

	// Initialize usecase services
	m := metrics.New("voice")
	sessionConfig := usecase.DefaultSessionConfig()
	sessionConfig.CaptureSampleRate = cfg.Audio.CaptureSampleRate
	sessionConfig.CaptureFrameSize = cfg.Audio.CaptureFrameSize
	sessionConfig.PlaybackSampleRate = cfg.Audio.PlaybackSampleRate
	sessionConfig.EmotionDecay = cfg.Session.EmotionDecay
	sessionConfig.OutboundQueue = cfg.Session.OutboundQueue
	controller := usecase.NewSessionController(microphone, connector, engine, sessionConfig, m, logger.Named("session"))

	// Initialize WebSocket hub and the snapshot presenter
	hubCtx, cancelHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(controller, logger.Named("hub"))
	go hub.Run(hubCtx)
	presenter := websocket.NewPresenter(controller, hub, 100*time.Millisecond, logger.Named("presenter"))
	presenter.Start()

	var issuer *auth.Issuer
	if cfg.Auth.UISecret != "" {
		issuer, err = auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			logger.Fatal("Failed to initialize authentication", zap.Error(err))
		}
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		Session:  controller,
		Hub:      hub,
		Metrics:  m,
		Issuer:   issuer,
		UISecret: cfg.Auth.UISecret,
		Logger:   logger.Named("api"),
	})

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Server.Port),
		zap.String("backend", cfg.Agent.Backend),
		zap.Bool("speaker", cfg.Audio.SpeakerEnabled))

	if cfg.Session.AutoStart {
		startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := controller.Start(startCtx); err != nil {
			logger.Error("Auto start failed", zap.Error(err))
		}
		cancel()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()

	logger.Info("Server is shutting down...")

	if err := controller.Stop(); err != nil {
		logger.Error("Failed to stop session", zap.Error(err))
	}
	presenter.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	cancelHub()

	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("Failed to release resource", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Server.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Server.LogLevel, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// newConnector builds the agent for the configured backend. The returned
// closers release clients the agent holds.
func newConnector(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.AgentConnector, []io.Closer, error) {
	switch cfg.Agent.Backend {
	case config.BackendGemini:
		live, err := agent.NewGeminiLive(ctx, agent.GeminiLiveConfig{
			APIKey:       cfg.Gemini.APIKey,
			Model:        cfg.Gemini.LiveModel,
			Voice:        cfg.Gemini.Voice,
			SystemPrompt: cfg.Agent.SystemPrompt,
		}, logger.Named("gemini-live"))
		return live, nil, err

	case config.BackendRelay:
		relay, err := agent.NewRelay(agent.RelayConfig{
			URL:   cfg.Relay.URL,
			Token: cfg.Relay.Token,
		}, logger.Named("relay"))
		return relay, nil, err

	case config.BackendCascade:
		speechToText, err := stt.NewGoogleSpeechToText(ctx, logger.Named("stt"))
		if err != nil {
			return nil, nil, err
		}
		chat, err := llm.NewGeminiLLM(ctx, llm.GeminiConfig{
			APIKey:       cfg.Gemini.APIKey,
			Model:        cfg.Gemini.ChatModel,
			SystemPrompt: cfg.Agent.SystemPrompt,
		}, logger.Named("llm"))
		if err != nil {
			speechToText.Close()
			return nil, nil, err
		}
		textToSpeech, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:       cfg.Eleven.APIKey,
			APIBaseURL:   cfg.Eleven.APIBaseURL,
			VoiceID:      cfg.Eleven.VoiceID,
			ModelID:      cfg.Eleven.ModelID,
			OutputFormat: cfg.Eleven.OutputFormat,
			ChunkSize:    cfg.Eleven.ChunkSize,
			Stability:    cfg.Eleven.Stability,
			Clarity:      cfg.Eleven.Clarity,
		}, logger.Named("tts"))
		if err != nil {
			speechToText.Close()
			return nil, nil, err
		}
		cascade := agent.NewCascade(speechToText, chat, textToSpeech, agent.CascadeConfig{
			Language:   cfg.Speech.Language,
			SampleRate: cfg.Audio.CaptureSampleRate,
		}, logger.Named("cascade"))
		return cascade, []io.Closer{speechToText}, nil

	case config.BackendMock:
		cascade := agent.NewCascade(
			stt.NewMockSpeechToText(logger.Named("stt")),
			llm.NewMockLLM(logger.Named("llm")),
			speech.NewToneTextToSpeech(logger.Named("tts")),
			agent.CascadeConfig{
				Language:   cfg.Speech.Language,
				SampleRate: cfg.Audio.CaptureSampleRate,
			},
			logger.Named("cascade"))
		return cascade, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown agent backend %q", cfg.Agent.Backend)
}

type outputEngine interface {
	repositories.OutputEngine
	io.Closer
}

// newOutputEngine opens the speaker, or a wall-clock virtual output when the
// speaker is disabled
func newOutputEngine(cfg config.Config, logger *zap.Logger) (outputEngine, error) {
	if !cfg.Audio.SpeakerEnabled {
		logger.Info("Speaker disabled, using virtual output", zap.Int("sampleRate", cfg.Audio.PlaybackSampleRate))
		return audio.NewVirtualEngine(cfg.Audio.PlaybackSampleRate), nil
	}
	return audio.NewSpeaker(cfg.Audio.PlaybackSampleRate, logger.Named("speaker"))
}
