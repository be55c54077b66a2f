package indicator

import (
	"fmt"

	"chartsignal/internal/model"
)

// Source selects which bar field feeds an indicator.
type Source string

const (
	SourceClose Source = "close"
	SourceOpen  Source = "open"
	SourceHigh  Source = "high"
	SourceLow   Source = "low"
	SourceHL2   Source = "hl2"   // (high+low)/2
	SourceHLC3  Source = "hlc3"  // (high+low+close)/3
	SourceOHLC4 Source = "ohlc4" // (open+high+low+close)/4
)

// Valid reports whether s is a known source. Empty means close.
func (s Source) Valid() bool {
	switch s {
	case "", SourceClose, SourceOpen, SourceHigh, SourceLow, SourceHL2, SourceHLC3, SourceOHLC4:
		return true
	}
	return false
}

// Value extracts the source value from a bar.
func (s Source) Value(b model.Bar) float64 {
	switch s {
	case SourceOpen:
		return b.Open
	case SourceHigh:
		return b.High
	case SourceLow:
		return b.Low
	case SourceHL2:
		return (b.High + b.Low) / 2
	case SourceHLC3:
		return (b.High + b.Low + b.Close) / 3
	case SourceOHLC4:
		return (b.Open + b.High + b.Low + b.Close) / 4
	default:
		return b.Close
	}
}

// Extract maps bars to source values.
func (s Source) Extract(bars []model.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = s.Value(b)
	}
	return out
}

// ParseSource validates a source string.
func ParseSource(v string) (Source, error) {
	s := Source(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown source %q", v)
	}
	if s == "" {
		s = SourceClose
	}
	return s, nil
}
