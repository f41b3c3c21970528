package speech

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain/repositories"
	"github.com/satriahrh/arunika/voice/internal/pcm"
)

const (
	toneSampleRate = 24000
	wordDuration   = 220 * time.Millisecond
	wordGap        = 60 * time.Millisecond
)

// ToneTextToSpeech synthesizes one soft tone per word so the playback path
// can run without a speech provider. Output is pcm_24000.
type ToneTextToSpeech struct {
	logger    *zap.Logger
	chunkSize int
}

var _ repositories.TextToSpeech = (*ToneTextToSpeech)(nil)

// NewToneTextToSpeech creates a new mock text-to-speech service
func NewToneTextToSpeech(logger *zap.Logger) *ToneTextToSpeech {
	return &ToneTextToSpeech{logger: logger, chunkSize: 4800}
}

// ConvertTextToSpeech implements repositories.TextToSpeech
func (t *ToneTextToSpeech) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, fmt.Errorf("text cannot be empty")
	}

	audio := pcm.Encode(pcm.FromFloat32(synthesize(words)))
	t.logger.Debug("Synthesized mock speech",
		zap.Int("words", len(words)),
		zap.Duration("duration", pcm.Duration(len(audio)/2, toneSampleRate)))

	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		for start := 0; start < len(audio); start += t.chunkSize {
			end := start + t.chunkSize
			if end > len(audio) {
				end = len(audio)
			}
			select {
			case out <- audio[start:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// synthesize renders each word as a short enveloped sine whose pitch depends on the word
func synthesize(words []string) []float32 {
	wordSamples := int(wordDuration * toneSampleRate / time.Second)
	gapSamples := int(wordGap * toneSampleRate / time.Second)

	samples := make([]float32, 0, len(words)*(wordSamples+gapSamples))
	for _, w := range words {
		freq := 180 + float64(len(w)%7)*25
		for i := 0; i < wordSamples; i++ {
			envelope := math.Sin(math.Pi * float64(i) / float64(wordSamples))
			v := 0.2 * envelope * math.Sin(2*math.Pi*freq*float64(i)/toneSampleRate)
			samples = append(samples, float32(v))
		}
		samples = append(samples, make([]float32, gapSamples)...)
	}
	return samples
}
