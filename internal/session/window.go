package session

// OverlapPolicy holds the fraction of a chunk retained for the next
// extraction. Subsequent must not exceed First so overlap never grows within
// a cycle; Skipped is the largest so speech starting at the end of a rejected
// chunk is not lost.
type OverlapPolicy struct {
	First      float64
	Subsequent float64
	Skipped    float64
}

// For returns the retained fraction for the chunk at chunkIndex.
func (p OverlapPolicy) For(chunkIndex int, skipped bool) float64 {
	switch {
	case skipped:
		return p.Skipped
	case chunkIndex == 0:
		return p.First
	default:
		return p.Subsequent
	}
}

// Window is the per-cycle audio buffer chunks are cut from. Samples only
// leave from the front.
type Window struct {
	buf   []int16
	chunk int
}

func NewWindow(chunkSamples int) *Window {
	return &Window{chunk: chunkSamples, buf: make([]int16, 0, chunkSamples*2)}
}

func (w *Window) Append(samples []int16) {
	w.buf = append(w.buf, samples...)
}

func (w *Window) Ready() bool {
	return len(w.buf) >= w.chunk
}

// Peek returns a copy of the next chunk, or nil when not enough audio is
// buffered.
func (w *Window) Peek() []int16 {
	if !w.Ready() {
		return nil
	}
	return append([]int16(nil), w.buf[:w.chunk]...)
}

// Advance consumes one chunk, keeping its trailing overlap fraction at the
// front of the buffer. It returns the number of samples removed.
func (w *Window) Advance(overlap float64) int {
	if !w.Ready() {
		return 0
	}
	retain := int(float64(w.chunk) * overlap)
	if retain < 0 {
		retain = 0
	}
	if retain > w.chunk {
		retain = w.chunk
	}
	removed := w.chunk - retain
	n := copy(w.buf, w.buf[removed:])
	w.buf = w.buf[:n]
	return removed
}

// Drain returns everything buffered and empties the window.
func (w *Window) Drain() []int16 {
	out := append([]int16(nil), w.buf...)
	w.buf = w.buf[:0]
	return out
}

func (w *Window) Len() int {
	return len(w.buf)
}

func (w *Window) Reset() {
	w.buf = w.buf[:0]
}
