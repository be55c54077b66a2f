package indicator

// MACD holds the three streaming EMAs behind a MACD indicator.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
}

// NewMACD creates a MACD(fast, slow, signal) calculator.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

// Update feeds the next source value.
func (m *MACD) Update(v float64) {
	m.fast.Update(v)
	m.slow.Update(v)
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Update(m.line)
}

// Values returns the macd line, signal line and histogram.
func (m *MACD) Values() (macd, signal, hist float64) {
	s := m.signal.Value()
	return m.line, s, m.line - s
}

// Ready reports whether the signal line has a full window over a fully
// seeded macd line.
func (m *MACD) Ready() bool {
	return m.slow.Ready() && m.fast.Ready() && m.signal.Ready()
}

// MACDSeries returns the macd, signal and histogram lines aligned with values.
func MACDSeries(values []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	m := NewMACD(fast, slow, signal)
	macd = make([]float64, len(values))
	sig = make([]float64, len(values))
	hist = make([]float64, len(values))
	for i, v := range values {
		m.Update(v)
		macd[i], sig[i], hist[i] = m.Values()
	}
	return macd, sig, hist
}
