package session

import (
	"slices"
	"testing"
)

func TestOverlapPolicyNeverGrows(t *testing.T) {
	cfg := testSessionConfig()
	p := OverlapPolicy{First: cfg.FirstOverlap, Subsequent: cfg.SubsequentOverlap, Skipped: cfg.SkippedOverlap}
	if p.For(0, false) < p.For(1, false) {
		t.Fatalf("first overlap %v smaller than subsequent %v", p.For(0, false), p.For(1, false))
	}
	if p.For(1, false) != p.For(7, false) {
		t.Fatal("subsequent overlap must be constant")
	}
	if p.For(3, true) < p.For(0, false) {
		t.Fatal("skipped overlap must be the largest")
	}
}

func TestWindowAdvanceRetainsOverlap(t *testing.T) {
	w := NewWindow(48000)
	for _, tc := range []struct {
		overlap float64
		removed int
	}{
		{1.0 / 16, 45000},
		{1.0 / 32, 46500},
		{1.0 / 4, 36000},
	} {
		w.Reset()
		w.Append(ramp(0, 100000))
		if got := w.Advance(tc.overlap); got != tc.removed {
			t.Fatalf("overlap %v: removed %d, want %d", tc.overlap, got, tc.removed)
		}
		if w.Len() != 100000-tc.removed {
			t.Fatalf("overlap %v: len %d", tc.overlap, w.Len())
		}
	}
}

func TestWindowReconstructsTemporalOrder(t *testing.T) {
	const total = 200000
	src := ramp(0, total)
	w := NewWindow(48000)
	p := OverlapPolicy{First: 1.0 / 16, Subsequent: 1.0 / 32, Skipped: 1.0 / 4}

	pos := 0
	fed := 0
	var prev []int16
	var prevRetain int
	for idx := 0; ; idx++ {
		for !w.Ready() && fed < total {
			n := min(1024, total-fed)
			w.Append(src[fed : fed+n])
			fed += n
		}
		if !w.Ready() {
			break
		}
		chunk := w.Peek()
		if !slices.Equal(chunk, src[pos:pos+48000]) {
			t.Fatalf("chunk %d does not match source at %d", idx, pos)
		}
		if prev != nil && !slices.Equal(chunk[:prevRetain], prev[len(prev)-prevRetain:]) {
			t.Fatalf("chunk %d does not start with the previous overlap", idx)
		}
		skipped := idx == 2
		overlap := p.For(idx, skipped)
		removed := w.Advance(overlap)
		prev, prevRetain = chunk, 48000-removed
		pos += removed
	}
	rest := w.Drain()
	if !slices.Equal(rest, src[pos:]) {
		t.Fatalf("drained tail does not continue the source at %d", pos)
	}
	if w.Len() != 0 {
		t.Fatal("drain must empty the window")
	}
}

func TestWindowPeekNotReady(t *testing.T) {
	w := NewWindow(10)
	w.Append(loud(9))
	if w.Peek() != nil || w.Advance(0) != 0 {
		t.Fatal("expected no chunk before chunk size is reached")
	}
}
