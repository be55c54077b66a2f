// Package indicator computes technical indicators over a bar series.
//
// Every indicator has a streaming Calculator (Update/Value/Ready/Peek) and a
// batch function built on top of it, so the full-recompute output and the
// streaming output agree bar-for-bar. Outputs are aligned 1:1 with the input
// and never contain gaps: the warm-up portion of a series carries a defined
// fallback (the raw source value for moving averages, 50 for RSI).
package indicator

// Calculator is the streaming form of a single-line indicator.
type Calculator interface {
	// Name returns the indicator name (e.g., "SMA_20", "RSI_14").
	Name() string

	// Update feeds the next source value and recalculates.
	Update(v float64)

	// Value returns the value for the most recent input, warm-up included.
	// Returns 0 before the first Update.
	Value() float64

	// Ready returns true once a full period has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if v were fed next,
	// WITHOUT mutating internal state.
	Peek(v float64) float64

	// Reset clears the state for reuse.
	Reset()
}

// Point is one aligned output sample.
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Output line names.
const (
	LineValue     = "value"
	LineMACD      = "macd"
	LineSignal    = "signal"
	LineHistogram = "histogram"
	LineUpper     = "upper"
	LineMiddle    = "middle"
	LineLower     = "lower"
)

// Output is the computed series for one indicator spec, aligned by index
// with the input bars. Single-line kinds use LineValue; MACD and Bollinger
// carry three lines.
type Output struct {
	ID    string               `json:"id"`
	Kind  Kind                 `json:"kind"`
	Times []int64              `json:"times"`
	Lines map[string][]float64 `json:"lines"`
}

// Len returns the number of aligned samples.
func (o Output) Len() int { return len(o.Times) }

// Line returns the named line as points, or nil if absent.
func (o Output) Line(name string) []Point {
	vals, ok := o.Lines[name]
	if !ok {
		return nil
	}
	pts := make([]Point, len(vals))
	for i, v := range vals {
		pts[i] = Point{Time: o.Times[i], Value: v}
	}
	return pts
}

// At returns the value of line at index i.
func (o Output) At(line string, i int) (float64, bool) {
	vals, ok := o.Lines[line]
	if !ok || i < 0 || i >= len(vals) {
		return 0, false
	}
	return vals[i], true
}

// run feeds values through c and collects Value() after each update.
func run(c Calculator, values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		c.Update(v)
		out[i] = c.Value()
	}
	return out
}
