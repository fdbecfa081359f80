package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/zaf/g711"
)

// ErrUnsupportedEncoding is returned by [Decode] for an unknown [Encoding].
var ErrUnsupportedEncoding = errors.New("audio: unsupported encoding")

// Encoding names the wire format of an interleaved sample payload.
type Encoding string

const (
	// EncodingFloat32LE is little-endian IEEE-754 float32, nominal range [-1, 1].
	EncodingFloat32LE Encoding = "pcm_f32le"

	// EncodingS16LE is little-endian signed 16-bit PCM.
	EncodingS16LE Encoding = "pcm_s16le"

	// EncodingMulaw is ITU-T G.711 µ-law, one byte per sample.
	EncodingMulaw Encoding = "mulaw"

	// EncodingAlaw is ITU-T G.711 A-law, one byte per sample.
	EncodingAlaw Encoding = "alaw"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	return e.BytesPerSample() > 0
}

// BytesPerSample returns the size of one sample of one channel, or 0 for an
// unknown encoding.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingFloat32LE:
		return 4
	case EncodingS16LE:
		return 2
	case EncodingMulaw, EncodingAlaw:
		return 1
	}
	return 0
}

// s16Scale maps int16 PCM onto [-1, 1).
const s16Scale = 1.0 / 32768.0

// Decode converts an interleaved payload into planar float32 samples, one
// slice per channel. The payload must hold a whole number of frames.
func Decode(enc Encoding, payload []byte, channels int) ([][]float32, error) {
	if channels < 1 {
		return nil, fmt.Errorf("audio: decode: channel count %d must be positive", channels)
	}
	bps := enc.BytesPerSample()
	if bps == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
	frameBytes := bps * channels
	if len(payload)%frameBytes != 0 {
		return nil, fmt.Errorf("audio: decode: payload of %d bytes is not a whole number of %d-byte frames", len(payload), frameBytes)
	}

	frames := len(payload) / frameBytes
	out := NewPlanar(channels, frames)
	for i := range frames * channels {
		out[i%channels][i/channels] = decodeSample(enc, payload[i*bps:(i+1)*bps])
	}
	return out, nil
}

// decodeSample converts one encoded sample to float32.
func decodeSample(enc Encoding, b []byte) float32 {
	switch enc {
	case EncodingFloat32LE:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case EncodingS16LE:
		return float32(int16(binary.LittleEndian.Uint16(b))) * s16Scale
	case EncodingMulaw:
		return float32(g711.DecodeUlawFrame(b[0])) * s16Scale
	case EncodingAlaw:
		return float32(g711.DecodeAlawFrame(b[0])) * s16Scale
	}
	return 0
}

// Deinterleave splits interleaved samples into planar form. Trailing samples
// that do not complete a frame are dropped.
func Deinterleave(samples []float32, channels int) [][]float32 {
	if channels < 1 {
		return nil
	}
	frames := len(samples) / channels
	out := NewPlanar(channels, frames)
	for i := range frames * channels {
		out[i%channels][i/channels] = samples[i]
	}
	return out
}
