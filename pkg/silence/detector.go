// Package silence detects transitions between silent and non-silent regions
// of a block-based audio stream and reports each one at sample resolution.
//
// A [Detector] classifies every incoming block as a whole. When the verdict
// flips relative to the previous block, a [Refiner] reclassifies short probe
// windows to find where inside the block, or inside the previous block kept
// by a [History], the edge actually lies. Every transition is emitted on
// three outputs: a start or end instant and a 0/1 level step, all at the
// same timestamp.
//
// A Detector serves one stream and must not be used from more than one
// goroutine at a time.
package silence

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/hush/pkg/audio"
	"github.com/MrWong99/hush/pkg/provider/level"
	"github.com/MrWong99/hush/pkg/provider/level/energy"
)

const (
	// ThresholdParameter is the identifier of the threshold parameter.
	ThresholdParameter = "silencethreshold"

	// DefaultThresholdDB is the default silence threshold.
	DefaultThresholdDB = -70.0

	// MinThresholdDB and MaxThresholdDB bound the silence threshold.
	MinThresholdDB = -120.0
	MaxThresholdDB = 0.0

	// PreferredStepSize and PreferredBlockSize are the sizes hosts should
	// use when they have no reason to choose otherwise.
	PreferredStepSize  = 1024
	PreferredBlockSize = 1024

	// MaxChannels is the largest channel count accepted.
	MaxChannels = 64
)

// ErrThresholdOutOfRange is returned for a threshold outside
// [MinThresholdDB, MaxThresholdDB].
var ErrThresholdOutOfRange = errors.New("silence: threshold out of range")

// ErrTooManyChannels is returned for a channel count above [MaxChannels].
var ErrTooManyChannels = errors.New("silence: too many channels")

// Config is the host setup contract for one analysis instance.
type Config struct {
	// SampleRate of the input in Hz. Offsets are converted to time at this
	// rate rounded to the nearest integer, which must be at least 1.
	SampleRate float64

	// Channels is the number of planar channels per block, at most
	// [MaxChannels].
	Channels int

	// StepSize is the number of frames per block, in
	// [MinStepSize, MaxStepSize].
	StepSize int

	// BlockSize is the host's analysis window. It is accepted for
	// compatibility and defaults to StepSize; only StepSize frames of each
	// block are examined.
	BlockSize int

	// ThresholdDB is the silence threshold in dB.
	ThresholdDB float64
}

// DefaultConfig returns a config with the preferred step and block sizes and
// the default threshold.
func DefaultConfig(sampleRate float64, channels int) Config {
	return Config{
		SampleRate:  sampleRate,
		Channels:    channels,
		StepSize:    PreferredStepSize,
		BlockSize:   PreferredBlockSize,
		ThresholdDB: DefaultThresholdDB,
	}
}

// Validate checks that c describes a usable instance. It returns a joined
// error listing every violation.
func (c Config) Validate() error {
	var errs []error
	switch {
	case math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) || c.SampleRate <= 0:
		errs = append(errs, fmt.Errorf("silence: sample rate %v must be a positive finite number", c.SampleRate))
	case math.Round(c.SampleRate) < 1:
		errs = append(errs, fmt.Errorf("silence: sample rate %v rounds to 0 Hz", c.SampleRate))
	case c.SampleRate > math.MaxInt32:
		errs = append(errs, fmt.Errorf("silence: sample rate %v exceeds %d Hz", c.SampleRate, math.MaxInt32))
	}
	switch {
	case c.Channels < 1:
		errs = append(errs, fmt.Errorf("silence: channel count %d must be positive", c.Channels))
	case c.Channels > MaxChannels:
		errs = append(errs, fmt.Errorf("%w: %d > %d", ErrTooManyChannels, c.Channels, MaxChannels))
	}
	switch {
	case c.StepSize < MinStepSize:
		errs = append(errs, fmt.Errorf("%w: %d < %d", ErrStepTooSmall, c.StepSize, MinStepSize))
	case c.StepSize > MaxStepSize:
		errs = append(errs, fmt.Errorf("%w: %d > %d", ErrStepTooLarge, c.StepSize, MaxStepSize))
	}
	if c.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("silence: block size %d must not be negative", c.BlockSize))
	}
	if err := checkThreshold(c.ThresholdDB); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func checkThreshold(db float64) error {
	if math.IsNaN(db) || db < MinThresholdDB || db > MaxThresholdDB {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrThresholdOutOfRange, db, MinThresholdDB, MaxThresholdDB)
	}
	return nil
}

// Observer receives per-block notifications from a Detector. Implementations
// must be cheap; they run on the processing path.
type Observer interface {
	BlockProcessed(silent bool)
	TransitionDetected(tr Transition, probes int)
}

// Option configures a [Detector].
type Option func(*Detector)

// WithClassifier sets the silence classifier. The default is the energy gate.
func WithClassifier(c level.Classifier) Option {
	return func(d *Detector) {
		if c != nil {
			d.classifier = c
		}
	}
}

// WithLogger sets the logger for refinement diagnostics. The default is
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithObserver registers an observer for block and transition events.
func WithObserver(o Observer) Option {
	return func(d *Detector) { d.observer = o }
}

// WithFirstBlockRefinement makes a non-silent first block run the forward
// search instead of reporting offset 0, so a stream that opens with a short
// lead-in of silence reports where the signal actually starts. A silent
// first block is still reported at offset 0.
func WithFirstBlockRefinement() Option {
	return func(d *Detector) { d.refineFirst = true }
}

// Detector is one silence analysis instance.
type Detector struct {
	cfg         Config
	rate        int
	threshold   float64
	classifier  level.Classifier
	logger      *slog.Logger
	observer    Observer
	refineFirst bool

	history *History
	tracker *Tracker
	refiner *Refiner
}

// New validates cfg and returns a ready detector. Storage for two blocks is
// allocated up front; Process does not allocate apart from emitted features.
func New(cfg Config, opts ...Option) (*Detector, error) {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = cfg.StepSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		cfg:        cfg,
		rate:       int(math.Round(cfg.SampleRate)),
		threshold:  cfg.ThresholdDB,
		classifier: energy.New(),
		logger:     slog.Default(),
		history:    NewHistory(cfg.Channels, cfg.StepSize),
		tracker:    NewTracker(),
	}
	for _, opt := range opts {
		opt(d)
	}
	r, err := NewRefiner(d.classifier, cfg.Channels, cfg.StepSize)
	if err != nil {
		return nil, err
	}
	d.refiner = r
	return d, nil
}

// Config returns the configuration the detector was built with. ThresholdDB
// reflects the current threshold.
func (d *Detector) Config() Config {
	c := d.cfg
	c.ThresholdDB = d.threshold
	return c
}

// Increment returns the refinement resolution in samples.
func (d *Detector) Increment() int { return d.refiner.Increment() }

// Threshold returns the current silence threshold in dB.
func (d *Detector) Threshold() float64 { return d.threshold }

// SetThreshold changes the silence threshold for subsequent blocks.
func (d *Detector) SetThreshold(db float64) error {
	if err := checkThreshold(db); err != nil {
		return err
	}
	d.threshold = db
	return nil
}

// Reset makes the next block the first again. Buffered history is kept but
// is never consulted for the first block.
func (d *Detector) Reset() {
	d.tracker.Reset()
}

// Process analyses one block starting at timestamp ts and returns the
// features it produces, which is empty when no transition occurred.
func (d *Detector) Process(block [][]float32, ts time.Duration) FeatureSet {
	tr, ok := d.Step(block, ts)
	if !ok {
		return FeatureSet{}
	}
	return Emit(tr)
}

// Remaining returns features still pending at end of stream. Every
// transition is reported by the block that caused it, so this is always
// empty.
func (d *Detector) Remaining() FeatureSet {
	return FeatureSet{}
}

// Step analyses one block starting at timestamp ts and returns the
// transition it reports, if any.
func (d *Detector) Step(block [][]float32, ts time.Duration) (Transition, bool) {
	d.history.Store(block)
	defer d.history.Rotate()

	cur := d.history.Current()
	silent := d.classifier.Silent(cur, d.threshold)
	decision := d.tracker.Observe(silent)
	if d.observer != nil {
		d.observer.BlockProcessed(silent)
	}
	if decision == Hold {
		return Transition{}, false
	}

	tr := Transition{
		Kind:      kindFor(silent),
		Timestamp: ts,
		Initial:   decision == Initial,
	}
	var probes int
	if decision == Flip || (d.refineFirst && !silent) {
		ref := d.refiner.Refine(silent, cur, d.history.Previous(), d.threshold)
		tr.Offset = ref.Offset
		tr.Direction = ref.Direction
		tr.Fallback = ref.Fallback
		tr.Timestamp = ts + audio.FramesToDuration(int64(ref.Offset), d.rate)
		probes = ref.Probes

		d.logger.Debug("silence refined",
			"kind", tr.Kind.String(),
			"block_ts", ts,
			"offset", ref.Offset,
			"direction", ref.Direction.String(),
			"probes", ref.Probes,
			"fallback", ref.Fallback,
		)
	}
	if d.observer != nil {
		d.observer.TransitionDetected(tr, probes)
	}
	return tr, true
}
