package model

import (
	"encoding/json"
	"fmt"
)

// Bar is one OHLCV observation for a fixed interval.
// Time is the bucket open time in epoch seconds.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// ValidateBars checks that bars are strictly ascending by Time.
func ValidateBars(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].Time <= bars[i-1].Time {
			return fmt.Errorf("bar %d: time %d not after %d", i, bars[i].Time, bars[i-1].Time)
		}
	}
	return nil
}

// Closes extracts the close prices of bars.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
