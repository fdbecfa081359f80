// Package audiotest provides signal generators and WAV fixtures for tests.
package audiotest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Tone returns frames samples that are zero before onset and a constant amp
// from onset on.
func Tone(frames, onset int, amp float32) []float32 {
	s := make([]float32, frames)
	for i := max(onset, 0); i < frames; i++ {
		s[i] = amp
	}
	return s
}

// Concat joins sample runs end to end.
func Concat(runs ...[]float32) []float32 {
	var n int
	for _, r := range runs {
		n += len(r)
	}
	out := make([]float32, 0, n)
	for _, r := range runs {
		out = append(out, r...)
	}
	return out
}

// WriteWAV encodes planar float samples in [-1, 1] as 16-bit PCM into a new
// file under t.TempDir() and returns its path.
func WriteWAV(tb testing.TB, rate int, planar ...[]float32) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("audiotest: create: %v", err)
	}
	channels := len(planar)
	frames := 0
	if channels > 0 {
		frames = len(planar[0])
	}
	data := make([]int, frames*channels)
	for ch, s := range planar {
		for i := range frames {
			v := math.Round(float64(s[i]) * 32767)
			data[i*channels+ch] = int(max(-32768, min(32767, v)))
		}
	}

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		tb.Fatalf("audiotest: encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		tb.Fatalf("audiotest: close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		tb.Fatalf("audiotest: close file: %v", err)
	}
	return path
}

// WAVBytes is like [WriteWAV] but returns the encoded file contents.
func WAVBytes(tb testing.TB, rate int, planar ...[]float32) []byte {
	tb.Helper()
	b, err := os.ReadFile(WriteWAV(tb, rate, planar...))
	if err != nil {
		tb.Fatalf("audiotest: read back: %v", err)
	}
	return b
}
