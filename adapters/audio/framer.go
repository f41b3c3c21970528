package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/satriahrh/arunika/voice/domain/entities"
)

// framer cuts interleaved little-endian float32 device buffers into
// fixed-size per-channel frames.
type framer struct {
	frameSize  int
	channels   int
	sampleRate int
	pending    [][]float32
}

func newFramer(frameSize, channels, sampleRate int) *framer {
	pending := make([][]float32, channels)
	for i := range pending {
		pending[i] = make([]float32, 0, frameSize)
	}
	return &framer{
		frameSize:  frameSize,
		channels:   channels,
		sampleRate: sampleRate,
		pending:    pending,
	}
}

// push consumes raw device bytes and returns every frame completed by them
func (f *framer) push(raw []byte) []entities.CaptureFrame {
	var frames []entities.CaptureFrame
	stride := 4 * f.channels
	for off := 0; off+stride <= len(raw); off += stride {
		for ch := 0; ch < f.channels; ch++ {
			bits := binary.LittleEndian.Uint32(raw[off+4*ch:])
			f.pending[ch] = append(f.pending[ch], math.Float32frombits(bits))
		}
		if len(f.pending[0]) == f.frameSize {
			frames = append(frames, f.flush())
		}
	}
	return frames
}

func (f *framer) flush() entities.CaptureFrame {
	channels := make([][]float32, f.channels)
	for ch := range channels {
		channels[ch] = f.pending[ch]
		f.pending[ch] = make([]float32, 0, f.frameSize)
	}
	return entities.CaptureFrame{
		Channels:   channels,
		SampleRate: f.sampleRate,
		CapturedAt: time.Now(),
	}
}
