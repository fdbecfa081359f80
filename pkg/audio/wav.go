package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned by [NewWAVReader] when the input is not a
// readable integer PCM WAV stream.
var ErrInvalidWAV = errors.New("audio: invalid wav stream")

// WAV format tags accepted by [NewWAVReader].
const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAVReader reads a WAV stream as a sequence of fixed-size planar blocks.
// It is not safe for concurrent use.
type WAVReader struct {
	dec      *wav.Decoder
	format   Format
	bitDepth int

	ibuf  *goaudio.IntBuffer
	block [][]float32
}

// NewWAVReader validates the WAV header of r and prepares it for block reads.
func NewWAVReader(r io.ReadSeeker) (*WAVReader, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return nil, ErrInvalidWAV
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("%w: unsupported format tag %#x (only integer PCM)", ErrInvalidWAV, dec.WavAudioFormat)
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, dec.BitDepth)
	}
	return &WAVReader{
		dec: dec,
		format: Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
		},
		bitDepth: int(dec.BitDepth),
	}, nil
}

// Format returns the sample rate and channel count of the stream.
func (w *WAVReader) Format() Format { return w.format }

// BitDepth returns the source sample width in bits.
func (w *WAVReader) BitDepth() int { return w.bitDepth }

// Duration returns the playing time declared by the WAV header.
func (w *WAVReader) Duration() (time.Duration, error) {
	return w.dec.Duration()
}

// ReadBlock reads up to step frames and returns them as a planar block of
// exactly step frames, zero-padding a short final block. frames reports how
// many frames came from the stream. When no frames remain it returns io.EOF.
//
// The returned block is reused by the next call.
func (w *WAVReader) ReadBlock(step int) (block [][]float32, frames int, err error) {
	if step < 1 {
		return nil, 0, fmt.Errorf("audio: wav: block size %d must be positive", step)
	}
	channels := w.format.Channels
	if w.ibuf == nil || len(w.ibuf.Data) != step*channels {
		w.ibuf = &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: channels, SampleRate: w.format.SampleRate},
			Data:   make([]int, step*channels),
		}
		w.block = NewPlanar(channels, step)
	}

	n, err := w.dec.PCMBuffer(w.ibuf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, 0, fmt.Errorf("audio: wav: read pcm: %w", err)
	}
	frames = n / channels
	if frames == 0 {
		return nil, 0, io.EOF
	}

	scale := 1.0 / float32(int64(1)<<(w.bitDepth-1))
	for i := range frames * channels {
		v := w.ibuf.Data[i]
		if w.bitDepth == 8 {
			// 8-bit WAV is unsigned.
			v -= 128
		}
		w.block[i%channels][i/channels] = float32(v) * scale
	}
	for ch := range w.block {
		clear(w.block[ch][frames:])
	}
	return w.block, frames, nil
}
