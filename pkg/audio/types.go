// Package audio holds the sample-level plumbing shared by the silence
// detector and its hosts: timeline arithmetic, decoding of interleaved wire
// payloads into planar float32 blocks, WAV input, and assembly of arbitrary
// chunks into fixed-size analysis blocks.
//
// Planar audio is represented as [][]float32 with one slice per channel; all
// channel slices of one block have the same length. Samples are nominally in
// the range [-1, 1].
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FramesToDuration converts a signed frame count at rate Hz into a duration.
// The sub-second part is truncated toward zero and the conversion is
// symmetric in sign, so -n frames is always the negation of n frames.
// A non-positive rate yields zero.
func FramesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	neg := frames < 0
	if neg {
		frames = -frames
	}
	r := int64(rate)
	d := time.Duration(frames/r)*time.Second + time.Duration((frames%r)*int64(time.Second)/r)
	if neg {
		return -d
	}
	return d
}

// NewPlanar allocates a zeroed planar buffer of channels × frames samples
// backed by a single contiguous allocation.
func NewPlanar(channels, frames int) [][]float32 {
	backing := make([]float32, channels*frames)
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = backing[ch*frames : (ch+1)*frames : (ch+1)*frames]
	}
	return out
}
