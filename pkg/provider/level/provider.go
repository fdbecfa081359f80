// Package level defines the Classifier interface for silence classification
// backends.
//
// A classifier looks at a window of planar audio (one slice per channel, all
// of equal length) and decides whether its signal level is at or below a
// threshold expressed in decibels. The window may be a full analysis block or
// a short sub-window of a few dozen samples; implementations must behave
// consistently across both shapes.
//
// Classifiers are pure: the verdict depends only on the window and the
// threshold. They hold no per-stream state, so a single instance may be
// shared between detectors and goroutines.
package level

// Classifier decides whether a window of audio is silent.
type Classifier interface {
	// Silent reports whether the level of window is at or below thresholdDB.
	// window must not be retained or modified.
	Silent(window [][]float32, thresholdDB float64) bool
}

// Func adapts an ordinary function to the [Classifier] interface.
type Func func(window [][]float32, thresholdDB float64) bool

// Silent calls f(window, thresholdDB).
func (f Func) Silent(window [][]float32, thresholdDB float64) bool {
	return f(window, thresholdDB)
}

// Frames returns the frame count of window, taken from its first channel.
// An empty window has zero frames.
func Frames(window [][]float32) int {
	if len(window) == 0 {
		return 0
	}
	return len(window[0])
}
