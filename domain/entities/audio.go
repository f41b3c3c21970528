package entities

import "time"

const (
	// CaptureSampleRate is the rate microphone frames are captured and sent at.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate the remote agent synthesizes speech at.
	PlaybackSampleRate = 24000
	// CaptureFrameSize is the number of samples per capture frame.
	CaptureFrameSize = 4096
)

// CaptureFrame is one fixed-size block of normalized float samples as the
// input device produced it, one slice per channel.
type CaptureFrame struct {
	Channels   [][]float32
	SampleRate int
	CapturedAt time.Time
}

// Channel returns the samples of channel i, or nil if the frame has fewer channels.
func (f CaptureFrame) Channel(i int) []float32 {
	if i < 0 || i >= len(f.Channels) {
		return nil
	}
	return f.Channels[i]
}

// AudioFrame is a mono block of signed 16-bit samples. Immutable once produced.
type AudioFrame struct {
	Samples    []int16
	SampleRate int
}

// Duration returns how long the frame plays for at its sample rate.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// TransportChunk is the encoded form of an AudioFrame handed to the network boundary.
type TransportChunk struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}
