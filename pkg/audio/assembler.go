package audio

// BlockAssembler collects planar chunks of arbitrary length and hands out
// fixed-size blocks in arrival order. Create one per stream; it is not safe
// for concurrent use.
type BlockAssembler struct {
	step    int
	pending [][]float32
	filled  int

	// next is the stream frame index at which the next emitted block starts.
	next int64
}

// NewBlockAssembler returns an assembler producing blocks of step frames
// with the given channel count.
func NewBlockAssembler(channels, step int) *BlockAssembler {
	return &BlockAssembler{
		step:    step,
		pending: NewPlanar(channels, step),
	}
}

// Push appends chunk and calls emit once for every block it completes. The
// block passed to emit is only valid for the duration of the call. Channels
// beyond the assembler's count are ignored; missing channels read as zero.
// An error from emit stops processing and is returned unchanged.
func (a *BlockAssembler) Push(chunk [][]float32, emit func(block [][]float32, startFrame int64) error) error {
	if len(chunk) == 0 {
		return nil
	}
	n := len(chunk[0])
	for off := 0; off < n; {
		take := min(a.step-a.filled, n-off)
		for ch := range a.pending {
			dst := a.pending[ch][a.filled : a.filled+take]
			if ch < len(chunk) {
				copy(dst, chunk[ch][off:off+take])
			} else {
				clear(dst)
			}
		}
		a.filled += take
		off += take

		if a.filled == a.step {
			start := a.next
			a.filled = 0
			a.next += int64(a.step)
			if err := emit(a.pending, start); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush zero-pads a partially filled block and emits it. It does nothing
// when no frames are pending.
func (a *BlockAssembler) Flush(emit func(block [][]float32, startFrame int64) error) error {
	if a.filled == 0 {
		return nil
	}
	for ch := range a.pending {
		clear(a.pending[ch][a.filled:])
	}
	start := a.next
	a.filled = 0
	a.next += int64(a.step)
	return emit(a.pending, start)
}

// Pending returns the number of frames buffered towards the next block.
func (a *BlockAssembler) Pending() int { return a.filled }

// NextFrame returns the stream frame index at which the next block starts.
func (a *BlockAssembler) NextFrame() int64 { return a.next }

// Reset drops buffered frames and restarts the frame timeline at zero.
func (a *BlockAssembler) Reset() {
	a.filled = 0
	a.next = 0
}
