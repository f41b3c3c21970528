// Package pcm converts between float audio samples and the 16-bit little-endian
// PCM transport encoding, including the base64 text framing used on the wire.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/satriahrh/arunika/voice/domain"
	"github.com/satriahrh/arunika/voice/domain/entities"
)

const mimePrefix = "audio/pcm;rate="

// FloatToInt16 converts a normalized sample to int16 using round(f*32768),
// clamped so that +1.0 does not wrap.
func FloatToInt16(f float32) int16 {
	v := math.Round(float64(f) * 32768)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Int16ToFloat converts a sample back into the [-1, 1) float range.
func Int16ToFloat(s int16) float32 {
	return float32(s) / 32768
}

// FromFloat32 converts a block of normalized floats into int16 samples.
func FromFloat32(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, f := range samples {
		out[i] = FloatToInt16(f)
	}
	return out
}

// ToFloat32 converts wire samples into the output engine's float buffer representation.
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = Int16ToFloat(s)
	}
	return out
}

// Encode packs samples as 16-bit little-endian bytes.
func Encode(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Decode is the exact inverse of Encode.
func Decode(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: pcm payload has odd length %d", domain.ErrMalformedMessage, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// EncodeFrame turns a frame into a transport chunk tagged with its MIME type.
func EncodeFrame(frame entities.AudioFrame) entities.TransportChunk {
	return entities.TransportChunk{
		Data:     Encode(frame.Samples),
		MIMEType: MIMEType(frame.SampleRate),
	}
}

// MIMEType returns the declared type tag for PCM at the given rate.
func MIMEType(sampleRate int) string {
	return mimePrefix + strconv.Itoa(sampleRate)
}

// ParseMIMERate extracts the sample rate from an audio/pcm MIME tag.
func ParseMIMERate(mime string) (int, error) {
	mime = strings.ToLower(strings.ReplaceAll(mime, " ", ""))
	if !strings.HasPrefix(mime, mimePrefix) {
		return 0, fmt.Errorf("%w: unsupported mime type %q", domain.ErrMalformedMessage, mime)
	}
	rate, err := strconv.Atoi(strings.SplitN(mime[len(mimePrefix):], ";", 2)[0])
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("%w: invalid rate in mime type %q", domain.ErrMalformedMessage, mime)
	}
	return rate, nil
}

// EncodeBase64 frames raw bytes as text for transmission.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 reverses EncodeBase64.
func DecodeBase64(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return data, nil
}

// DecodePayload decodes a base64 framed PCM payload into samples.
func DecodePayload(payload string) ([]int16, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Duration returns the play time of n samples at rate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// Resample converts samples between rates with linear interpolation.
// Equal rates return the input unchanged.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}

// RMS returns the root-mean-square level of the samples, 0..1.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	v := math.Sqrt(sum / float64(len(samples)))
	if v > 1 {
		return 1
	}
	return v
}
