package indicator

import "strconv"

// SMA calculates Simple Moving Average over a rolling window.
// Until a full window is available the value is the raw input, not a
// partial average.
type SMA struct {
	period int
	win    window
	last   float64
	seen   int
}

// NewSMA creates a new SMA calculator with the given period.
func NewSMA(period int) *SMA {
	period = clampPeriod(period)
	return &SMA{period: period, win: newWindow(period)}
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.period) }

func (s *SMA) Update(v float64) {
	s.win.push(v)
	s.last = v
	s.seen++
}

func (s *SMA) Value() float64 {
	if !s.win.full() {
		return s.last
	}
	return s.win.sumFrom(0) / float64(s.period)
}

func (s *SMA) Ready() bool { return s.seen >= s.period }

// Peek computes what Value() would be with v appended, without mutating state.
func (s *SMA) Peek(v float64) float64 {
	if s.seen+1 < s.period {
		return v
	}
	// drop the oldest element only when the window is already full
	from := 0
	if s.win.full() {
		from = 1
	}
	return (s.win.sumFrom(from) + v) / float64(s.period)
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.win.reset()
	s.last = 0
	s.seen = 0
}

// SMASeries returns SMA(period) aligned with values.
func SMASeries(values []float64, period int) []float64 {
	return run(NewSMA(period), values)
}
