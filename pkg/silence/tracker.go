package silence

// Decision is the Tracker's verdict for one block.
type Decision int

const (
	// Hold means the block matches the previous verdict; nothing to report.
	Hold Decision = iota

	// Initial means this is the first block since construction or Reset.
	Initial

	// Flip means the verdict changed relative to the previous block.
	Flip
)

// String returns the human-readable name of the decision.
func (d Decision) String() string {
	switch d {
	case Hold:
		return "hold"
	case Initial:
		return "initial"
	case Flip:
		return "flip"
	default:
		return "unknown"
	}
}

// Tracker is the region state machine. It remembers the last block verdict
// and whether any block has been seen, and decides per block whether a
// transition must be reported. It decides whether to refine, never where.
type Tracker struct {
	last  bool
	first bool
}

// NewTracker returns a tracker that treats the next block as the first.
func NewTracker() *Tracker {
	return &Tracker{first: true}
}

// Observe records the verdict of the next block and returns the decision.
func (t *Tracker) Observe(silent bool) Decision {
	switch {
	case t.first:
		t.first = false
		t.last = silent
		return Initial
	case silent != t.last:
		t.last = silent
		return Flip
	}
	return Hold
}

// State returns the last recorded verdict. ok is false until the first
// block after construction or Reset.
func (t *Tracker) State() (silent, ok bool) {
	return t.last, !t.first
}

// Reset makes the next block the first again.
func (t *Tracker) Reset() {
	t.first = true
	t.last = false
}
