package silence

import (
	"errors"
	"fmt"

	"github.com/MrWong99/hush/pkg/provider/level"
)

// ErrStepTooSmall is returned when a step size cannot hold the minimum of
// eight refinement increments.
var ErrStepTooSmall = errors.New("silence: step size too small")

// ErrStepTooLarge is returned for a step size above [MaxStepSize].
var ErrStepTooLarge = errors.New("silence: step size too large")

const (
	// maxIncrement is the refinement resolution in samples for large steps.
	maxIncrement = 16

	// minIncrements is the number of increments that must fit in one step.
	minIncrements = 8

	// windowIncrements is the length of a probe window in increments.
	windowIncrements = 4

	// MinStepSize is the smallest step size the refiner accepts.
	MinStepSize = minIncrements

	// MaxStepSize is the largest step size accepted. Two blocks of this size
	// are kept per channel.
	MaxStepSize = 1 << 16
)

// Increment returns the refinement resolution for a step size: 16 samples,
// capped at step/8.
func Increment(step int) int {
	return min(maxIncrement, step/minIncrements)
}

// Direction names where in the timeline a refinement found its edge.
type Direction int

const (
	// DirectionNone means no search located the edge.
	DirectionNone Direction = iota

	// DirectionForward means the edge lies inside the current block.
	DirectionForward

	// DirectionBackward means the edge lies inside the previous block.
	DirectionBackward
)

// String returns the human-readable name of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	default:
		return "none"
	}
}

// Refinement is the outcome of one boundary search.
type Refinement struct {
	// Offset is the edge position in samples relative to the start of the
	// current block. Negative offsets point into the previous block.
	Offset int

	// Direction tells which search produced Offset.
	Direction Direction

	// Probes is the number of sub-windows classified.
	Probes int

	// Fallback is set when no search located the edge and Offset is the
	// block start by default.
	Fallback bool
}

// Refiner narrows a block-level verdict flip down to increment resolution by
// reclassifying short probe windows of 4·incr samples.
//
// A Refiner keeps a scratch slice of channel views and is not safe for
// concurrent use.
type Refiner struct {
	classifier level.Classifier
	step       int
	incr       int
	scratch    [][]float32
}

// NewRefiner returns a refiner for blocks of step samples per channel.
func NewRefiner(c level.Classifier, channels, step int) (*Refiner, error) {
	if step < MinStepSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrStepTooSmall, step, MinStepSize)
	}
	if step > MaxStepSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrStepTooLarge, step, MaxStepSize)
	}
	if channels < 1 {
		return nil, fmt.Errorf("silence: refiner channel count %d must be positive", channels)
	}
	return &Refiner{
		classifier: c,
		step:       step,
		incr:       Increment(step),
		scratch:    make([][]float32, channels),
	}, nil
}

// Increment returns the search resolution in samples.
func (r *Refiner) Increment() int { return r.incr }

// Refine locates the edge of a transition into verdict silent. cur is the
// block that produced the verdict and prev the block before it.
//
// The forward search scans cur for the earliest probe window whose verdict
// already equals silent. When entering silence and that window is at the
// block start (or none matched), the edge must lie earlier, so the backward
// search walks prev from its end for the latest window that is still
// non-silent.
func (r *Refiner) Refine(silent bool, cur, prev [][]float32, thresholdDB float64) Refinement {
	var res Refinement

	off, found := r.forward(silent, cur, thresholdDB, &res.Probes)
	if found {
		res.Offset = off
		res.Direction = DirectionForward
	}
	if !silent || off != 0 {
		res.Fallback = !found
		return res
	}

	if back, ok := r.backward(prev, thresholdDB, &res.Probes); ok {
		res.Offset = -back
		res.Direction = DirectionBackward
		return res
	}
	res.Offset = 0
	res.Direction = DirectionNone
	res.Fallback = true
	return res
}

// forward returns the first offset i in cur whose probe window verdict
// equals silent.
func (r *Refiner) forward(silent bool, cur [][]float32, thresholdDB float64, probes *int) (int, bool) {
	span := windowIncrements * r.incr
	for i := 0; i < r.step-span; i += r.incr {
		*probes++
		if r.classifier.Silent(r.window(cur, i, i+span), thresholdDB) == silent {
			return i, true
		}
	}
	return 0, false
}

// backward returns the distance i from the end of prev of the first probe
// window, starting at step-i-incr, that classifies as non-silent. Windows
// are clamped to the end of prev.
func (r *Refiner) backward(prev [][]float32, thresholdDB float64, probes *int) (int, bool) {
	span := windowIncrements * r.incr
	for i := 0; i < r.step-r.incr; i += r.incr {
		start := r.step - i - r.incr
		*probes++
		if !r.classifier.Silent(r.window(prev, start, min(start+span, r.step)), thresholdDB) {
			return i, true
		}
	}
	return 0, false
}

// window points the scratch views at src[ch][start:end] and returns them.
func (r *Refiner) window(src [][]float32, start, end int) [][]float32 {
	for ch := range r.scratch {
		r.scratch[ch] = src[ch][start:end]
	}
	return r.scratch
}
