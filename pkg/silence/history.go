package silence

import "github.com/MrWong99/hush/pkg/audio"

// History is the two-slot block store that keeps the previous block
// available for backward refinement. One slot is designated current and
// receives each incoming block; [History.Rotate] flips the designation so
// the block just processed becomes previous without copying any samples.
//
// Before the first rotation the previous slot holds zeros.
type History struct {
	slots [2][][]float32
	cur   int
}

// NewHistory allocates both slots for channels × step samples.
func NewHistory(channels, step int) *History {
	return &History{
		slots: [2][][]float32{
			audio.NewPlanar(channels, step),
			audio.NewPlanar(channels, step),
		},
	}
}

// Store copies block into the current slot. Channels shorter than the slot
// are zero-padded and surplus channels or samples are ignored.
func (h *History) Store(block [][]float32) {
	dst := h.slots[h.cur]
	for ch := range dst {
		n := 0
		if ch < len(block) {
			n = copy(dst[ch], block[ch])
		}
		clear(dst[ch][n:])
	}
}

// Current returns the slot holding the block being processed.
func (h *History) Current() [][]float32 { return h.slots[h.cur] }

// Previous returns the slot holding the block processed before it.
func (h *History) Previous() [][]float32 { return h.slots[1-h.cur] }

// Rotate makes the current slot previous. The old previous slot becomes
// current and is overwritten by the next Store.
func (h *History) Rotate() { h.cur = 1 - h.cur }
