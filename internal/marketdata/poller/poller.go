// Package poller drives an engine from a bar feed on a fixed interval.
//
// Each fetch result is the authoritative full window. Switching the
// instrument or timeframe cancels the in-flight fetch and bumps the
// engine's generation, so a late result for the old context is dropped.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chartsignal/internal/engine"
	"chartsignal/internal/errs"
	"chartsignal/internal/model"
)

// DefaultInterval is the polling period.
const DefaultInterval = 10 * time.Second

// Target is the engine surface the poller needs.
type Target interface {
	Context() model.Context
	Generation() uint64
	Switch(ctx model.Context) uint64
	OnBars(ctx context.Context, gen uint64, bars []model.Bar) (*engine.CycleReport, error)
}

// Config holds poller settings.
type Config struct {
	// Interval defaults to 10 seconds.
	Interval time.Duration
	// Limit is the number of bars requested per fetch.
	Limit int
}

// Poller fetches bars for its target's context and feeds them in.
type Poller struct {
	cfg     Config
	fetcher model.BarFetcher
	target  Target

	mu       sync.Mutex
	inflight context.CancelFunc

	kick chan struct{}

	// Optional hooks, set before Run.
	OnSwitch func(from, to model.Context)
	OnReport func(r *engine.CycleReport)
	OnError  func(err error)
	OnStale  func()
}

// New creates a poller.
func New(fetcher model.BarFetcher, target Target, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		target:  target,
		kick:    make(chan struct{}, 1),
	}
}

// Run polls immediately and then every interval until ctx is cancelled.
// A Switch triggers an immediate poll. Blocks.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[poller] polling %s every %s", p.target.Context().Key(), p.cfg.Interval)
	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.kick:
			ticker.Reset(p.cfg.Interval)
		}
		p.poll(ctx)
	}
}

func (p *Poller) poll(ctx context.Context) {
	r, err := p.PollOnce(ctx)
	switch {
	case err == nil:
		if p.OnReport != nil && r.Changed {
			p.OnReport(r)
		}
	case errors.Is(err, errs.ErrStaleGeneration):
		log.Printf("[poller] dropped stale result: %v", err)
		if p.OnStale != nil {
			p.OnStale()
		}
	case ctx.Err() != nil:
	default:
		// feed failure means no new bar this cycle
		log.Printf("[poller] fetch %s failed: %v", p.target.Context().Key(), err)
		if p.OnError != nil {
			p.OnError(err)
		}
	}
}

// PollOnce fetches the current window and hands it to the target. The
// fetch is cancelled by a concurrent Switch.
func (p *Poller) PollOnce(ctx context.Context) (*engine.CycleReport, error) {
	gen := p.target.Generation()
	c := p.target.Context()

	fctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.inflight = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inflight = nil
		p.mu.Unlock()
		cancel()
	}()

	bars, err := p.fetcher.FetchBars(fctx, c.Instrument, c.Timeframe, p.cfg.Limit)
	if cur := p.target.Generation(); cur != gen {
		return nil, fmt.Errorf("poller %s: gen %d, current %d: %w", c.Key(), gen, cur, errs.ErrStaleGeneration)
	}
	if err != nil {
		return nil, err
	}
	return p.target.OnBars(ctx, gen, bars)
}

// Context returns the context currently being polled.
func (p *Poller) Context() model.Context { return p.target.Context() }

// Switch cancels any in-flight fetch, moves the target to ctx and schedules
// an immediate poll. Returns the new generation.
func (p *Poller) Switch(c model.Context) uint64 {
	from := p.target.Context()
	gen := p.target.Switch(c)

	// the generation moves first so the cancelled fetch reads as stale
	p.mu.Lock()
	if p.inflight != nil {
		p.inflight()
	}
	p.mu.Unlock()

	if p.OnSwitch != nil {
		p.OnSwitch(from, c)
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
	return gen
}
