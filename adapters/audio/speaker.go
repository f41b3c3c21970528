package audio

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain/repositories"
)

// Speaker plays the mixer through the default output device
type Speaker struct {
	*Mixer
	player *oto.Player
	logger *zap.Logger
}

var _ repositories.OutputEngine = (*Speaker)(nil)

// NewSpeaker opens the default output device at sampleRate, mono 16-bit.
// Only one speaker may exist per process.
func NewSpeaker(sampleRate int, logger *zap.Logger) (*Speaker, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init speaker: %w", err)
	}
	<-ready

	mixer := NewMixer(sampleRate)
	player := otoCtx.NewPlayer(mixer)
	player.Play()

	logger.Info("Speaker ready", zap.Int("sampleRate", sampleRate))
	return &Speaker{Mixer: mixer, player: player, logger: logger}, nil
}

// Close stops playback and releases the player
func (s *Speaker) Close() error {
	s.Mixer.Close()
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("failed to close player: %w", err)
	}
	return nil
}
