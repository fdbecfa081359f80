// Package peak provides a sample-peak [level.Classifier]. A window is silent
// when its largest absolute sample, in dBFS, is at or below the threshold.
// Unlike the energy gate it reacts to a single loud sample, which makes it
// suitable for material where short clicks must count as non-silence.
package peak

import (
	"math"

	"github.com/MrWong99/hush/pkg/provider/level"
)

// Name is the registry name of this classifier.
const Name = "peak"

// Classifier is the sample-peak silence gate.
type Classifier struct{}

// New returns a peak classifier.
func New() *Classifier { return &Classifier{} }

// Silent reports whether Level(window) is at or below thresholdDB.
func (*Classifier) Silent(window [][]float32, thresholdDB float64) bool {
	return Level(window) <= thresholdDB
}

// Level returns the peak absolute sample of window in dBFS.
func Level(window [][]float32) float64 {
	var peak float64
	for _, ch := range window {
		for _, s := range ch {
			peak = max(peak, math.Abs(float64(s)))
		}
	}
	if peak == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(peak)
}

var _ level.Classifier = (*Classifier)(nil)
