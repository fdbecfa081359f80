// Package energy provides the default [level.Classifier]: a mean-energy
// decibel gate.
//
// The level of a window is 10·log10(E / N) where E is the sum of squared
// samples over every channel and N is the window's frame count. Energy is
// summed across channels but divided by the frame count only, so a stereo
// window of identical channels reads 3 dB hotter than its mono equivalent.
// An all-zero or empty window has a level of −Inf and is always silent.
package energy

import (
	"math"

	"github.com/MrWong99/hush/pkg/provider/level"
)

// Name is the registry name of this classifier.
const Name = "energy"

// Classifier is the mean-energy silence gate. The zero value is ready to use.
type Classifier struct{}

// New returns an energy classifier.
func New() *Classifier { return &Classifier{} }

// Silent reports whether Level(window) is at or below thresholdDB.
func (*Classifier) Silent(window [][]float32, thresholdDB float64) bool {
	return Level(window) <= thresholdDB
}

// Level returns the mean energy of window in decibels.
func Level(window [][]float32) float64 {
	n := level.Frames(window)
	if n == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, ch := range window {
		for _, s := range ch {
			sum += float64(s) * float64(s)
		}
	}
	return 10 * math.Log10(sum/float64(n))
}

var _ level.Classifier = (*Classifier)(nil)
