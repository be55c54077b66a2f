// Package replay feeds historical bars into an engine one at a time, at a
// configurable speed, for backtesting strategy definitions.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"chartsignal/internal/engine"
	"chartsignal/internal/model"
)

// MaxGap caps the sleep between two replayed bars.
const MaxGap = 5 * time.Second

// Target receives replayed bars. *engine.Engine satisfies it.
type Target interface {
	OnBar(ctx context.Context, bar model.Bar) (*engine.CycleReport, error)
}

// Summary totals a finished replay.
type Summary struct {
	Bars    int
	Signals int
	Trades  int
	Events  int
	Panics  int
	Balance float64
}

// Replayer replays a fixed bar series.
type Replayer struct {
	bars []model.Bar

	// OnReport is called after every cycle. Optional.
	OnReport func(r *engine.CycleReport)
}

// New creates a Replayer over a copy of bars sorted by time.
func New(bars []model.Bar) *Replayer {
	cp := append([]model.Bar(nil), bars...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Time < cp[j].Time })
	return &Replayer{bars: cp}
}

// Len returns the number of bars to replay.
func (r *Replayer) Len() int { return len(r.bars) }

// Run replays every bar into target. speed controls the playback rate:
// 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible. Bar times are Unix
// milliseconds.
func (r *Replayer) Run(ctx context.Context, target Target, speed float64) (Summary, error) {
	var sum Summary
	if len(r.bars) == 0 {
		log.Println("[replay] no bars to replay")
		return sum, nil
	}
	log.Printf("[replay] replaying %d bars, speed=%.1fx", len(r.bars), speed)

	var prev int64
	for i, b := range r.bars {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", sum.Bars)
			return sum, ctx.Err()
		default:
		}

		if wait := scaledGap(prev, b.Time, speed); i > 0 && wait > 0 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(wait):
			}
		}
		prev = b.Time

		rep, err := target.OnBar(ctx, b)
		if err != nil {
			return sum, fmt.Errorf("replay bar %d: %w", i, err)
		}
		sum.Bars++
		for _, s := range rep.Signals {
			if s.Buy {
				sum.Signals++
			}
			if s.Sell {
				sum.Signals++
			}
		}
		sum.Trades += len(rep.Trades)
		sum.Events += len(rep.Events)
		sum.Panics += rep.Panics
		sum.Balance = rep.Balance
		if r.OnReport != nil {
			r.OnReport(rep)
		}
	}

	log.Printf("[replay] completed: %d bars replayed", sum.Bars)
	return sum, nil
}

func scaledGap(prev, cur int64, speed float64) time.Duration {
	if speed <= 0 || cur <= prev {
		return 0
	}
	gap := time.Duration(float64(time.Duration(cur-prev)*time.Millisecond) / speed)
	if gap > MaxGap {
		gap = MaxGap
	}
	return gap
}

// ReadBarsFile loads a JSON array of bars.
func ReadBarsFile(path string) ([]model.Bar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bars: %w", err)
	}
	var bars []model.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("decode bars %s: %w", path, err)
	}
	return bars, nil
}
