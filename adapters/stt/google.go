package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a client using application default credentials
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// Close releases the underlying gRPC connection
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// InitTranscribeStreaming opens one single-utterance recognition stream
func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	// Convert encoding string to Google Speech API enum
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	// Send initial configuration
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults:  false, // We only want final results
				SingleUtterance: true,  // The recognizer ends the stream after one utterance
			},
		},
	}); err != nil {
		stream.CloseSend()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &GoogleSpeechToTextStream{
		stream: stream,
		ctx:    ctx,
		logger: g.logger,
		done:   make(chan struct{}),
		result: make(chan recognition, 1),
	}
	go s.receiveResults()
	return s, nil
}

type recognition struct {
	text string
	err  error
}

// GoogleSpeechToTextStream is one recognition stream
type GoogleSpeechToTextStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
	ctx    context.Context
	logger *zap.Logger

	mu            sync.Mutex
	audioReceived bool
	sendClosed    bool

	doneOnce sync.Once
	done     chan struct{}
	result   chan recognition
}

// Stream sends audio to the recognizer. Audio after the utterance ended is discarded.
func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendClosed {
		return nil
	}
	select {
	case <-g.done:
		return nil
	default:
	}

	g.audioReceived = true
	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Done is closed when the recognizer detects the end of the utterance
func (g *GoogleSpeechToTextStream) Done() <-chan struct{} {
	return g.done
}

// End closes the stream and returns the final transcription
func (g *GoogleSpeechToTextStream) End() (string, error) {
	g.mu.Lock()
	received := g.audioReceived
	if !g.sendClosed {
		g.sendClosed = true
		if err := g.stream.CloseSend(); err != nil {
			g.mu.Unlock()
			return "", fmt.Errorf("failed to close send stream: %w", err)
		}
	}
	g.mu.Unlock()

	if !received {
		return "", fmt.Errorf("no audio data received")
	}

	// Wait for final result or error
	select {
	case <-g.ctx.Done():
		return "", fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case r := <-g.result:
		if r.err != nil {
			return "", r.err
		}
		if r.text == "" {
			return "", fmt.Errorf("no speech detected in audio")
		}
		return r.text, nil
	}
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	defer g.markDone()

	var transcription string
	for {
		resp, err := g.stream.Recv()
		if errors.Is(err, io.EOF) {
			g.result <- recognition{text: transcription}
			return
		}
		if err != nil {
			g.result <- recognition{err: fmt.Errorf("failed to receive response: %w", err)}
			return
		}

		if resp.SpeechEventType == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
			g.logger.Debug("End of utterance detected")
			g.markDone()
		}

		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				// Take the best alternative
				transcription += result.Alternatives[0].Transcript
				g.markDone()
			}
		}
	}
}

func (g *GoogleSpeechToTextStream) markDone() {
	g.doneOnce.Do(func() { close(g.done) })
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16", "":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
