package gateway

import (
	"math"
	"sort"

	"chartsignal/internal/ringbuf"
)

// LatencyTracker keeps the newest cycle duration samples (ms) and reports
// percentiles. Safe for concurrent use.
type LatencyTracker struct {
	samples *ringbuf.Ring[float64]
}

// NewLatencyTracker creates a tracker that holds the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{samples: ringbuf.New[float64](capacity)}
}

// Record adds a sample in milliseconds. Negative samples are ignored.
func (lt *LatencyTracker) Record(ms float64) {
	if ms < 0 || math.IsNaN(ms) {
		return
	}
	lt.samples.Push(ms)
}

// Percentiles returns p50, p95, p99 in milliseconds, or zeros when empty.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	sorted := lt.samples.Items()
	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(sorted)
	return percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// Count returns the number of samples held.
func (lt *LatencyTracker) Count() int { return lt.samples.Len() }

// percentile interpolates the p-th percentile (0.0–1.0) of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
