package indicator

import "strconv"

// RSINeutral is emitted during warm-up and for a perfectly flat window.
const RSINeutral = 50.0

// RSI calculates the Relative Strength Index as a simple average of the
// trailing period gains and losses (not Wilder smoothing).
//
// Bar 0 has no delta. For indices below period the value is RSINeutral.
// A window with losses but no gains yields 0, gains but no losses yields
// 100, and no movement at all yields RSINeutral.
type RSI struct {
	period int
	count  int
	prev   float64
	gains  window
	losses window
}

// NewRSI creates a new RSI calculator with the given period (typically 14).
func NewRSI(period int) *RSI {
	period = clampPeriod(period)
	return &RSI{
		period: period,
		gains:  newWindow(period),
		losses: newWindow(period),
	}
}

func (r *RSI) Name() string { return "RSI_" + strconv.Itoa(r.period) }

func (r *RSI) Update(v float64) {
	r.count++
	if r.count > 1 {
		g, l := split(v - r.prev)
		r.gains.push(g)
		r.losses.push(l)
	}
	r.prev = v
}

func (r *RSI) Value() float64 {
	// index of the latest bar is count-1; need index >= period
	if r.count == 0 || r.count-1 < r.period {
		return RSINeutral
	}
	return rsiFrom(r.gains.sumFrom(0), r.losses.sumFrom(0), r.period)
}

func (r *RSI) Ready() bool { return r.count > r.period }

// Peek computes what RSI would be with v appended, without mutating state.
func (r *RSI) Peek(v float64) float64 {
	if r.count < r.period {
		return RSINeutral
	}
	g, l := split(v - r.prev)
	from := 0
	if r.gains.full() {
		from = 1
	}
	return rsiFrom(r.gains.sumFrom(from)+g, r.losses.sumFrom(from)+l, r.period)
}

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.count = 0
	r.prev = 0
	r.gains.reset()
	r.losses.reset()
}

// RSISeries returns RSI(period) aligned with values.
func RSISeries(values []float64, period int) []float64 {
	return run(NewRSI(period), values)
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFrom(sumGain, sumLoss float64, period int) float64 {
	avgGain := sumGain / float64(period)
	avgLoss := sumLoss / float64(period)
	if avgLoss == 0 {
		if avgGain == 0 {
			return RSINeutral
		}
		// RS = +Inf
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
