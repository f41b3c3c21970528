package repositories

import "context"

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// InitTranscribeStreaming initializes a streaming transcription session for one utterance
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

type SpeechToTextStreaming interface {
	Stream(data []byte) error
	// Done is closed once the recognizer has detected the end of the utterance
	Done() <-chan struct{}
	End() (string, error)
}
