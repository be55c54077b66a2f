package indicator

import "strconv"

// EMA calculates Exponential Moving Average.
// The first full window seeds the average with its SMA; inputs before that
// pass through unchanged. O(1) per update.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA calculator with the given period.
func NewEMA(period int) *EMA {
	period = clampPeriod(period)
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMA) Update(v float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		} else {
			e.current = v
		}
		return
	}

	// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// Peek computes what Value() would be with v appended, without mutating state.
func (e *EMA) Peek(v float64) float64 {
	switch n := e.count + 1; {
	case n < e.period:
		return v
	case n == e.period:
		return (e.sum + v) / float64(e.period)
	}
	return (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}

// EMASeries returns EMA(period) aligned with values.
func EMASeries(values []float64, period int) []float64 {
	return run(NewEMA(period), values)
}
