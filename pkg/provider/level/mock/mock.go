// Package mock provides a test double for the level.Classifier interface.
//
// Use Classifier to drive a detector with a deterministic verdict and to
// inspect which windows were classified:
//
//	c := &mock.Classifier{
//	    Verdict: func(w [][]float32) bool { return w[0][0] == 0 },
//	}
//	d, _ := silence.New(cfg, silence.WithClassifier(c))
package mock

import (
	"sync"

	"github.com/MrWong99/hush/pkg/provider/level"
)

// Call records a single invocation of Classifier.Silent.
type Call struct {
	// Frames is the frame count of the classified window.
	Frames int

	// Channels is the channel count of the classified window.
	Channels int

	// ThresholdDB is the threshold passed to Silent.
	ThresholdDB float64

	// Verdict is the value that was returned.
	Verdict bool
}

// Classifier is a mock implementation of level.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Verdict computes the result of Silent. When nil, Result is returned.
	Verdict func(window [][]float32) bool

	// Result is returned by Silent when Verdict is nil.
	Result bool

	// Calls records every call to Silent in order.
	Calls []Call
}

// Silent records the call and returns Verdict(window), or Result.
func (c *Classifier) Silent(window [][]float32, thresholdDB float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.Result
	if c.Verdict != nil {
		v = c.Verdict(window)
	}
	c.Calls = append(c.Calls, Call{
		Frames:      level.Frames(window),
		Channels:    len(window),
		ThresholdDB: thresholdDB,
		Verdict:     v,
	})
	return v
}

// CallCount returns the number of recorded calls. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// ResetCalls clears all recorded call history. Thread-safe.
func (c *Classifier) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

// BelowAmplitude returns a verdict function that treats a window as silent
// when every sample's magnitude is strictly below limit.
func BelowAmplitude(limit float32) func([][]float32) bool {
	return func(w [][]float32) bool {
		for _, ch := range w {
			for _, s := range ch {
				if s >= limit || s <= -limit {
					return false
				}
			}
		}
		return true
	}
}

// Ensure Classifier implements level.Classifier at compile time.
var _ level.Classifier = (*Classifier)(nil)
