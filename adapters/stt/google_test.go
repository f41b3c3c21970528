package stt

import (
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
)

func TestGetAudioEncoding(t *testing.T) {
	tests := []struct {
		encoding string
		want     speechpb.RecognitionConfig_AudioEncoding
		wantErr  bool
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16, false},
		{"", speechpb.RecognitionConfig_LINEAR16, false},
		{"WAV", speechpb.RecognitionConfig_LINEAR16, false},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS, false},
		{"MP3", speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, true},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			got, err := getAudioEncoding(tt.encoding)
			if (err != nil) != tt.wantErr {
				t.Fatalf("getAudioEncoding(%q) error = %v", tt.encoding, err)
			}
			if got != tt.want {
				t.Errorf("getAudioEncoding(%q) = %v, want %v", tt.encoding, got, tt.want)
			}
		})
	}
}
