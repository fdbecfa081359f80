package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/hush/pkg/audio"
)

func TestFramesToDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		frames int64
		rate   int
		want   time.Duration
	}{
		{0, 44100, 0},
		{44100, 44100, time.Second},
		{768, 48000, 16 * time.Millisecond},
		{-768, 48000, -16 * time.Millisecond},
		{1, 3, 333333333 * time.Nanosecond},
		{-1, 3, -333333333 * time.Nanosecond},
		{48000*90 + 24000, 48000, 90*time.Second + 500*time.Millisecond},
		{100, 0, 0},
	}
	for _, tc := range tests {
		if got := audio.FramesToDuration(tc.frames, tc.rate); got != tc.want {
			t.Errorf("FramesToDuration(%d, %d) = %v, want %v", tc.frames, tc.rate, got, tc.want)
		}
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tc := range tests {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestNewPlanar(t *testing.T) {
	t.Parallel()
	p := audio.NewPlanar(3, 5)
	if len(p) != 3 {
		t.Fatalf("channels = %d, want 3", len(p))
	}
	for ch := range p {
		if len(p[ch]) != 5 || cap(p[ch]) != 5 {
			t.Errorf("channel %d len/cap = %d/%d, want 5/5", ch, len(p[ch]), cap(p[ch]))
		}
	}
	// Appending to one channel must not clobber the next.
	p[0] = append(p[0], 9)
	if p[1][0] != 0 {
		t.Errorf("append to channel 0 overwrote channel 1: %v", p[1][0])
	}
}
