package audio_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/hush/pkg/audio"
)

type emitted struct {
	start int64
	block [][]float32
}

// collector returns an emit callback that copies every block it receives.
func collector(out *[]emitted) func([][]float32, int64) error {
	return func(block [][]float32, start int64) error {
		cp := make([][]float32, len(block))
		for ch := range block {
			cp[ch] = append([]float32(nil), block[ch]...)
		}
		*out = append(*out, emitted{start: start, block: cp})
		return nil
	}
}

func ramp(from, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(from + i)
	}
	return s
}

func TestBlockAssembler_SplitsAndJoinsChunks(t *testing.T) {
	t.Parallel()
	a := audio.NewBlockAssembler(1, 4)
	var got []emitted
	emit := collector(&got)

	// 3 + 6 + 2 frames = 11 → two full blocks, 3 pending.
	for _, chunk := range [][]float32{ramp(0, 3), ramp(3, 6), ramp(9, 2)} {
		if err := a.Push([][]float32{chunk}, emit); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if len(got) != 2 {
		t.Fatalf("blocks = %d, want 2", len(got))
	}
	assertPlanar(t, got[0].block, [][]float32{{0, 1, 2, 3}}, 0)
	assertPlanar(t, got[1].block, [][]float32{{4, 5, 6, 7}}, 0)
	if got[0].start != 0 || got[1].start != 4 {
		t.Errorf("starts = %d,%d, want 0,4", got[0].start, got[1].start)
	}
	if a.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", a.Pending())
	}

	if err := a.Flush(emit); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("blocks after flush = %d, want 3", len(got))
	}
	assertPlanar(t, got[2].block, [][]float32{{8, 9, 10, 0}}, 0)
	if got[2].start != 8 {
		t.Errorf("flushed start = %d, want 8", got[2].start)
	}
	if a.NextFrame() != 12 {
		t.Errorf("NextFrame() = %d, want 12", a.NextFrame())
	}
}

func TestBlockAssembler_Stereo(t *testing.T) {
	t.Parallel()
	a := audio.NewBlockAssembler(2, 2)
	var got []emitted
	if err := a.Push([][]float32{{1, 2, 3}, {-1, -2, -3}}, collector(&got)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("blocks = %d, want 1", len(got))
	}
	assertPlanar(t, got[0].block, [][]float32{{1, 2}, {-1, -2}}, 0)
}

func TestBlockAssembler_FlushEmptyIsNoop(t *testing.T) {
	t.Parallel()
	a := audio.NewBlockAssembler(1, 8)
	called := false
	err := a.Flush(func([][]float32, int64) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Errorf("Flush on empty assembler: err=%v called=%v", err, called)
	}
}

func TestBlockAssembler_EmitErrorStops(t *testing.T) {
	t.Parallel()
	a := audio.NewBlockAssembler(1, 2)
	boom := errors.New("boom")
	calls := 0
	err := a.Push([][]float32{ramp(0, 6)}, func([][]float32, int64) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("emit calls = %d, want 1", calls)
	}
}

func TestBlockAssembler_Reset(t *testing.T) {
	t.Parallel()
	a := audio.NewBlockAssembler(1, 4)
	var got []emitted
	_ = a.Push([][]float32{ramp(0, 6)}, collector(&got))
	a.Reset()
	if a.Pending() != 0 || a.NextFrame() != 0 {
		t.Fatalf("after Reset: pending=%d next=%d, want 0,0", a.Pending(), a.NextFrame())
	}
	_ = a.Push([][]float32{ramp(100, 4)}, collector(&got))
	last := got[len(got)-1]
	if last.start != 0 {
		t.Errorf("start after reset = %d, want 0", last.start)
	}
	assertPlanar(t, last.block, [][]float32{{100, 101, 102, 103}}, 0)
}
