package indicator

import "math"

// Bollinger computes Bollinger Bands around an SMA middle line.
//
// The band width is the population standard deviation of the trailing
// window. While fewer than period values exist, the window is whatever is
// available; the middle line follows the SMA warm-up convention.
type Bollinger struct {
	mult float64
	sma  *SMA
	win  window
}

// NewBollinger creates a Bollinger(period, multiplier) calculator.
func NewBollinger(period int, multiplier float64) *Bollinger {
	period = clampPeriod(period)
	return &Bollinger{
		mult: multiplier,
		sma:  NewSMA(period),
		win:  newWindow(period),
	}
}

// Update feeds the next source value.
func (b *Bollinger) Update(v float64) {
	b.sma.Update(v)
	b.win.push(v)
}

// Values returns the upper, middle and lower bands.
func (b *Bollinger) Values() (upper, middle, lower float64) {
	middle = b.sma.Value()
	sd := b.stddev()
	return middle + b.mult*sd, middle, middle - b.mult*sd
}

// Ready reports whether a full window has been accumulated.
func (b *Bollinger) Ready() bool { return b.sma.Ready() }

func (b *Bollinger) stddev() float64 {
	n := b.win.len()
	if n == 0 {
		return 0
	}
	mean := b.win.sumFrom(0) / float64(n)
	var ss float64
	for i := 0; i < n; i++ {
		d := b.win.at(i) - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}

// BollingerSeries returns the upper, middle and lower bands aligned with values.
func BollingerSeries(values []float64, period int, multiplier float64) (upper, middle, lower []float64) {
	b := NewBollinger(period, multiplier)
	upper = make([]float64, len(values))
	middle = make([]float64, len(values))
	lower = make([]float64, len(values))
	for i, v := range values {
		b.Update(v)
		upper[i], middle[i], lower[i] = b.Values()
	}
	return upper, middle, lower
}
