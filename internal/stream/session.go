package stream

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hush/internal/config"
	"github.com/MrWong99/hush/pkg/audio"
	"github.com/MrWong99/hush/pkg/provider/level"
	"github.com/MrWong99/hush/pkg/silence"
)

// Params are the effective settings of one session.
type Params struct {
	Encoding audio.Encoding
	Format   audio.Format
	Detector config.DetectorConfig
}

// Session turns a stream of encoded audio payloads into transitions. It
// knows nothing about the transport and is not safe for concurrent use.
type Session struct {
	id       string
	params   Params
	det      *silence.Detector
	asm      *audio.BlockAssembler
	frames   int64
	blocks   int
	received []silence.Transition
}

// NewSession validates p and builds a session around a fresh detector using
// classifier c. opts are passed to the detector after the classifier.
func NewSession(p Params, c level.Classifier, opts ...silence.Option) (*Session, error) {
	if !p.Encoding.IsValid() {
		return nil, fmt.Errorf("stream: %w: %q", audio.ErrUnsupportedEncoding, p.Encoding)
	}
	if p.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("stream: sample rate %d must be positive", p.Format.SampleRate)
	}
	detOpts := append([]silence.Option{silence.WithClassifier(c)}, opts...)
	if p.Detector.RefineFirstBlock {
		detOpts = append(detOpts, silence.WithFirstBlockRefinement())
	}
	det, err := silence.New(p.Detector.Silence(float64(p.Format.SampleRate), p.Format.Channels), detOpts...)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	return &Session{
		id:     uuid.NewString(),
		params: p,
		det:    det,
		asm:    audio.NewBlockAssembler(p.Format.Channels, p.Detector.StepSize),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Params returns the settings the session was started with.
func (s *Session) Params() Params { return s.params }

// Increment returns the refinement resolution in samples.
func (s *Session) Increment() int { return s.det.Increment() }

// Threshold returns the current threshold in dB.
func (s *Session) Threshold() float64 { return s.det.Threshold() }

// SetThreshold changes the threshold for subsequent blocks.
func (s *Session) SetThreshold(db float64) error { return s.det.SetThreshold(db) }

// Blocks returns the number of blocks analysed since start or reset.
func (s *Session) Blocks() int { return s.blocks }

// Duration returns the audio time received since start or reset.
func (s *Session) Duration() time.Duration {
	return audio.FramesToDuration(s.frames, s.params.Format.SampleRate)
}

// Feed decodes payload, analyses every block it completes and returns the
// transitions they reported. The payload must hold whole frames.
func (s *Session) Feed(payload []byte) ([]silence.Transition, error) {
	chunk, err := audio.Decode(s.params.Encoding, payload, s.params.Format.Channels)
	if err != nil {
		return nil, err
	}
	s.frames += int64(len(chunk[0]))
	s.received = nil
	if err := s.asm.Push(chunk, s.step); err != nil {
		return nil, err
	}
	return s.received, nil
}

// Flush analyses buffered audio as a final zero-padded block.
func (s *Session) Flush() []silence.Transition {
	s.received = nil
	_ = s.asm.Flush(s.step)
	return s.received
}

// Reset restarts the timeline at zero and makes the next block the first.
// Buffered audio is dropped.
func (s *Session) Reset() {
	s.det.Reset()
	s.asm.Reset()
	s.frames = 0
	s.blocks = 0
}

func (s *Session) step(block [][]float32, start int64) error {
	s.blocks++
	if tr, ok := s.det.Step(block, audio.FramesToDuration(start, s.params.Format.SampleRate)); ok {
		s.received = append(s.received, tr)
	}
	return nil
}
