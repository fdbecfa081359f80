package analyze

import (
	"strconv"
	"time"

	"github.com/MrWong99/hush/pkg/silence"
)

// Seconds is a duration that marshals to JSON as fractional seconds.
type Seconds time.Duration

// Duration returns s as a [time.Duration].
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// MarshalJSON implements [json.Marshaler].
func (s Seconds) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, time.Duration(s).Seconds(), 'f', -1, 64), nil
}

// UnmarshalJSON implements [json.Unmarshaler].
func (s *Seconds) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*s = Seconds(time.Duration(f * float64(time.Second)))
	return nil
}

// Event is one transition as reported in a [Result].
type Event struct {
	Kind      string  `json:"kind"`
	Time      Seconds `json:"time"`
	Offset    int     `json:"offset"`
	Level     float32 `json:"level"`
	Direction string  `json:"direction"`
	Initial   bool    `json:"initial,omitempty"`
	Fallback  bool    `json:"fallback,omitempty"`
}

// NewEvent converts a detector transition.
func NewEvent(tr silence.Transition) Event {
	return Event{
		Kind:      tr.Kind.String(),
		Time:      Seconds(tr.Timestamp),
		Offset:    tr.Offset,
		Level:     tr.Kind.Level(),
		Direction: tr.Direction.String(),
		Initial:   tr.Initial,
		Fallback:  tr.Fallback,
	}
}

// Region is a silent span [Start, End).
type Region struct {
	Start Seconds `json:"start"`
	End   Seconds `json:"end"`
}

// Result is the outcome of analysing one input.
type Result struct {
	Source      string   `json:"source"`
	SampleRate  int      `json:"sample_rate"`
	Channels    int      `json:"channels"`
	Duration    Seconds  `json:"duration"`
	Blocks      int      `json:"blocks"`
	Transitions []Event  `json:"transitions"`
	Regions     []Region `json:"regions"`
}

// SilentTime returns the summed length of all silent regions.
func (r *Result) SilentTime() time.Duration {
	var d time.Duration
	for _, reg := range r.Regions {
		d += reg.End.Duration() - reg.Start.Duration()
	}
	return d
}

// Regions pairs enter and exit transitions into silent spans. A region still
// open at the end of the stream closes at end. Spans are clamped to
// [0, end] and never have negative length.
func Regions(trs []silence.Transition, end time.Duration) []Region {
	regions := []Region{}
	var (
		open  bool
		start time.Duration
	)
	for _, tr := range trs {
		switch tr.Kind {
		case silence.KindEnterSilence:
			if !open {
				open = true
				start = max(tr.Timestamp, 0)
			}
		case silence.KindExitSilence:
			if open {
				open = false
				stop := min(max(tr.Timestamp, start), end)
				regions = append(regions, Region{Start: Seconds(min(start, stop)), End: Seconds(stop)})
			}
		}
	}
	if open {
		regions = append(regions, Region{Start: Seconds(min(start, end)), End: Seconds(end)})
	}
	return regions
}
