package silence

import "time"

// Kind classifies a transition.
type Kind int

const (
	// KindEnterSilence is a transition from signal into silence.
	KindEnterSilence Kind = iota

	// KindExitSilence is a transition from silence into signal.
	KindExitSilence
)

// kindFor returns the transition kind into verdict silent.
func kindFor(silent bool) Kind {
	if silent {
		return KindEnterSilence
	}
	return KindExitSilence
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindEnterSilence:
		return "enter_silence"
	case KindExitSilence:
		return "exit_silence"
	default:
		return "unknown"
	}
}

// Level returns the silence level value after the transition: 0 inside
// silence, 1 outside it.
func (k Kind) Level() float32 {
	if k == KindEnterSilence {
		return 0
	}
	return 1
}

// Transition is one reported change between silent and non-silent regions.
type Transition struct {
	// Kind tells which way the verdict changed.
	Kind Kind

	// Offset is the refined edge in samples relative to the start of the
	// block that reported it. Negative offsets lie in the previous block.
	Offset int

	// Timestamp is the block timestamp shifted by Offset.
	Timestamp time.Duration

	// Initial marks the first block after construction or Reset.
	Initial bool

	// Direction tells which refinement search located the edge.
	Direction Direction

	// Fallback marks a refinement that found no edge and reported the
	// block start instead.
	Fallback bool
}

// Output identifies one of the detector's three feature streams.
type Output int

const (
	// OutputSilenceStart carries an instant where each silent region begins.
	OutputSilenceStart Output = iota

	// OutputSilenceEnd carries an instant where each silent region ends.
	OutputSilenceEnd

	// OutputSilenceLevel is a step function switching to 0 when silence
	// falls and back to 1 when it ends.
	OutputSilenceLevel
)

// Identifier returns the stable output identifier.
func (o Output) Identifier() string {
	switch o {
	case OutputSilenceStart:
		return "silencestart"
	case OutputSilenceEnd:
		return "silenceend"
	case OutputSilenceLevel:
		return "silencelevel"
	default:
		return "unknown"
	}
}

// String returns the output identifier.
func (o Output) String() string { return o.Identifier() }

// Feature is a single timestamped event on an output stream. Instant
// markers carry no values; the level stream carries one.
type Feature struct {
	Timestamp time.Duration
	Values    []float32
}

// FeatureSet groups features by output stream.
type FeatureSet map[Output][]Feature

// Len returns the total number of features across all outputs.
func (fs FeatureSet) Len() int {
	n := 0
	for _, f := range fs {
		n += len(f)
	}
	return n
}

// Emit converts a transition into its features: one level feature and one
// start or end marker, both at tr.Timestamp.
func Emit(tr Transition) FeatureSet {
	marker := OutputSilenceEnd
	if tr.Kind == KindEnterSilence {
		marker = OutputSilenceStart
	}
	return FeatureSet{
		OutputSilenceLevel: {{Timestamp: tr.Timestamp, Values: []float32{tr.Kind.Level()}}},
		marker:             {{Timestamp: tr.Timestamp}},
	}
}

// OutputDescriptor describes one output stream to a host.
type OutputDescriptor struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// BinCount is the number of values per feature.
	BinCount int `json:"bin_count"`

	HasKnownExtents bool    `json:"has_known_extents,omitempty"`
	MinValue        float32 `json:"min_value,omitempty"`
	MaxValue        float32 `json:"max_value,omitempty"`
	IsQuantized     bool    `json:"is_quantized,omitempty"`
	QuantizeStep    float32 `json:"quantize_step,omitempty"`

	// VariableSampleRate means features carry their own timestamps rather
	// than sitting on the block grid.
	VariableSampleRate bool `json:"variable_sample_rate"`
}

// Outputs returns the descriptors of the three outputs, indexed by [Output].
func Outputs() []OutputDescriptor {
	return []OutputDescriptor{
		OutputSilenceStart: {
			Identifier:         OutputSilenceStart.Identifier(),
			Name:               "Starts of Silent Regions",
			Description:        "Return a single instant at the point where each silent region begins",
			VariableSampleRate: true,
		},
		OutputSilenceEnd: {
			Identifier:         OutputSilenceEnd.Identifier(),
			Name:               "Ends of Silent Regions",
			Description:        "Return a single instant at the point where each silent region ends",
			VariableSampleRate: true,
		},
		OutputSilenceLevel: {
			Identifier:         OutputSilenceLevel.Identifier(),
			Name:               "Silence Test",
			Description:        "Return a function that switches from 1 to 0 when silence falls, and back again when it ends",
			BinCount:           1,
			HasKnownExtents:    true,
			MinValue:           0,
			MaxValue:           1,
			IsQuantized:        true,
			QuantizeStep:       1,
			VariableSampleRate: true,
		},
	}
}

// ParameterDescriptor describes one tunable parameter to a host.
type ParameterDescriptor struct {
	Identifier   string  `json:"identifier"`
	Name         string  `json:"name"`
	Unit         string  `json:"unit"`
	MinValue     float64 `json:"min_value"`
	MaxValue     float64 `json:"max_value"`
	DefaultValue float64 `json:"default_value"`
	IsQuantized  bool    `json:"is_quantized"`
}

// Parameters returns the descriptors of the detector's parameters.
func Parameters() []ParameterDescriptor {
	return []ParameterDescriptor{{
		Identifier:   ThresholdParameter,
		Name:         "Silence Threshold",
		Unit:         "dB",
		MinValue:     MinThresholdDB,
		MaxValue:     MaxThresholdDB,
		DefaultValue: DefaultThresholdDB,
	}}
}
