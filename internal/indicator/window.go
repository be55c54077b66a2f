package indicator

// window is a fixed-capacity FIFO of float64 used by the streaming
// calculators. Sums are taken oldest-first so that every calculator
// produces bit-identical results regardless of how it is driven.
type window struct {
	buf   []float64
	idx   int // next write position
	count int
}

func newWindow(size int) window {
	if size < 1 {
		size = 1
	}
	return window{buf: make([]float64, size)}
}

func (w *window) push(v float64) {
	w.buf[w.idx] = v
	w.idx = (w.idx + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

func (w *window) len() int   { return w.count }
func (w *window) full() bool { return w.count == len(w.buf) }

// at returns the logical element i (0 = oldest).
func (w *window) at(i int) float64 {
	if w.full() {
		return w.buf[(w.idx+i)%len(w.buf)]
	}
	return w.buf[i]
}

// sumFrom sums logical elements [from, len) oldest-first.
func (w *window) sumFrom(from int) float64 {
	var s float64
	for i := from; i < w.count; i++ {
		s += w.at(i)
	}
	return s
}

func (w *window) reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.idx = 0
	w.count = 0
}

// clampPeriod keeps unvalidated callers from dividing by zero.
func clampPeriod(p int) int {
	if p < 1 {
		return 1
	}
	return p
}
