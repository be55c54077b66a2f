// Package engine runs the per-bar evaluation cycle for one instrument and
// timeframe: indicator recompute, exit checks, rule evaluation, dispatch.
//
// A cycle is one atomic unit of work under the engine's mutex. Strategies
// are evaluated in slice order so balance changes and event ordering are
// reproducible.
package engine

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"chartsignal/internal/errs"
	"chartsignal/internal/execution"
	"chartsignal/internal/indicator"
	"chartsignal/internal/logger"
	"chartsignal/internal/model"
	"chartsignal/internal/notification"
	"chartsignal/internal/series"
	"chartsignal/internal/strategy"
)

// CycleReport is everything one cycle produced.
type CycleReport struct {
	CycleID    string                  `json:"cycle_id"`
	Seq        uint64                  `json:"seq"`
	Context    model.Context           `json:"context"`
	Generation uint64                  `json:"generation"`
	Changed    bool                    `json:"changed"`
	Index      int                     `json:"index"`
	Bar        model.Bar               `json:"bar"`
	Indicators []indicator.Output      `json:"indicators,omitempty"`
	Signals    []strategy.Result       `json:"signals,omitempty"`
	Events     []notification.Event    `json:"events,omitempty"`
	Trades     []execution.TradeRecord `json:"trades,omitempty"`
	Panics     int                     `json:"panics,omitempty"`
	Balance    float64                 `json:"balance"`
	Duration   time.Duration           `json:"duration_ns"`
}

// Sink receives every report that ran a cycle. Publish must not block for
// long; it runs inside the cycle.
type Sink interface {
	Publish(ctx context.Context, r *CycleReport)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r *CycleReport)

func (f SinkFunc) Publish(ctx context.Context, r *CycleReport) { f(ctx, r) }

// Config holds engine dependencies. Registry and Dispatcher may be shared
// between engines; both are safe for concurrent use.
type Config struct {
	Context    model.Context
	MaxBars    int
	Registry   *indicator.Registry
	Dispatcher *execution.Dispatcher
	Sinks      []Sink
}

// Engine owns the series of one context and serializes its cycles.
type Engine struct {
	mu sync.Mutex

	store      *series.Store
	registry   *indicator.Registry
	dispatcher *execution.Dispatcher
	sinks      []Sink

	strategies []strategy.Strategy
	last       map[string]strategy.Result
	fired      map[string]firedAt
	outputs    []indicator.Output
	seq        uint64
}

// firedAt remembers which sides already dispatched for a bar, so a forming
// bar that is re-polled does not repeat its events and trades.
type firedAt struct {
	time      int64
	buy, sell bool
}

// New creates an engine for cfg.Context.
func New(cfg Config) *Engine {
	e := &Engine{
		store:      series.NewStore(cfg.MaxBars),
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		sinks:      cfg.Sinks,
		last:       make(map[string]strategy.Result),
		fired:      make(map[string]firedAt),
	}
	e.store.Switch(cfg.Context)
	return e
}

// Context returns the current instrument and timeframe.
func (e *Engine) Context() model.Context { return e.store.Context() }

// Generation returns the current context generation.
func (e *Engine) Generation() uint64 { return e.store.Generation() }

// Registry returns the indicator registry.
func (e *Engine) Registry() *indicator.Registry { return e.registry }

// Dispatcher returns the signal dispatcher.
func (e *Engine) Dispatcher() *execution.Dispatcher { return e.dispatcher }

// AddSink registers another report consumer.
func (e *Engine) AddSink(s Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

// Switch moves the engine to a new context. History and last signals are
// discarded and the returned generation invalidates in-flight fetches.
func (e *Engine) Switch(ctx model.Context) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = make(map[string]strategy.Result)
	e.fired = make(map[string]firedAt)
	e.outputs = nil
	gen := e.store.Switch(ctx)
	log.Printf("[engine] switched to %s (gen=%d)", ctx.Key(), gen)
	return gen
}

// SetStrategies replaces the strategy definitions. Inactive strategies are
// kept but not evaluated. Invalid ones are rejected as a whole.
func (e *Engine) SetStrategies(ss []strategy.Strategy) error {
	for _, s := range ss {
		if err := strategy.Validate(s); err != nil {
			return err
		}
	}
	cp := make([]strategy.Strategy, len(ss))
	copy(cp, ss)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = cp
	for id := range e.last {
		if !hasStrategy(cp, id) {
			delete(e.last, id)
			delete(e.fired, id)
		}
	}
	return nil
}

// Strategies returns the current definitions.
func (e *Engine) Strategies() []strategy.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]strategy.Strategy, len(e.strategies))
	copy(cp, e.strategies)
	return cp
}

// OnBars replaces the window with a full fetch result tagged with gen. A
// stale gen returns errs.ErrStaleGeneration; an identical window returns a
// report with Changed false and runs nothing.
func (e *Engine) OnBars(ctx context.Context, gen uint64, bars []model.Bar) (*CycleReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur := e.store.Generation(); gen != cur {
		return nil, fmt.Errorf("engine %s: gen %d, current %d: %w", e.store.Context().Key(), gen, cur, errs.ErrStaleGeneration)
	}
	changed, err := e.store.Replace(bars)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", e.store.Context().Key(), err)
	}
	if !changed {
		return &CycleReport{Context: e.store.Context(), Generation: gen, Index: e.store.Len() - 1}, nil
	}
	return e.cycle(ctx), nil
}

// OnBar appends a bar, or replaces the forming last bar, and runs a cycle.
func (e *Engine) OnBar(ctx context.Context, bar model.Bar) (*CycleReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Append(bar); err != nil {
		return nil, fmt.Errorf("engine %s: %w", e.store.Context().Key(), err)
	}
	return e.cycle(ctx), nil
}

// Recompute runs a cycle over the current window, for example after the
// indicator or strategy set changed.
func (e *Engine) Recompute(ctx context.Context) *CycleReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycle(ctx)
}

// cycle must be called with e.mu held.
func (e *Engine) cycle(ctx context.Context) *CycleReport {
	start := time.Now()
	e.seq++
	key := e.store.Context().Key()
	cycleID := logger.GenerateCycleID(key, start)
	ctx = logger.WithCycleID(ctx, cycleID)

	bars := e.store.Bars()
	r := &CycleReport{
		CycleID:    cycleID,
		Seq:        e.seq,
		Context:    e.store.Context(),
		Generation: e.store.Generation(),
		Changed:    true,
		Index:      len(bars) - 1,
	}
	if len(bars) == 0 {
		e.outputs = nil
		return r
	}
	r.Bar = bars[len(bars)-1]
	instrument := r.Context.Instrument

	active := e.registry.ActiveIDs(strategy.ReferencedIDs(e.strategies))
	frame := e.registry.Compute(bars, active)
	e.outputs = frame.Outputs()
	r.Indicators = e.outputs

	if closed := e.dispatcher.Ledger().CheckExits(instrument, r.Bar); len(closed) > 0 {
		out := e.dispatcher.Exits(ctx, closed, e.lookup)
		r.Events = append(r.Events, out.Events...)
		r.Trades = append(r.Trades, out.Trades...)
	}

	for _, s := range e.strategies {
		if !s.Active {
			continue
		}
		res, ok := e.evaluate(ctx, s, frame, r)
		if !ok {
			r.Panics++
			continue
		}
		e.last[s.ID] = res
		r.Signals = append(r.Signals, res)
		todo := e.pending(s.ID, r.Bar.Time, res)
		if !todo.Buy && !todo.Sell {
			continue
		}
		out := e.dispatcher.Dispatch(ctx, s, todo, instrument, r.Bar)
		r.Events = append(r.Events, out.Events...)
		r.Trades = append(r.Trades, out.Trades...)
	}

	r.Balance = e.dispatcher.Ledger().Balance()
	r.Duration = time.Since(start)

	slog.Debug("cycle complete", append(logger.LogWithCycle(ctx),
		slog.String("context", key),
		slog.Int("bars", len(bars)),
		slog.Int("indicators", len(r.Indicators)),
		slog.Int("signals", len(r.Signals)),
		slog.Int("events", len(r.Events)),
		slog.Int("trades", len(r.Trades)),
		slog.Duration("took", r.Duration),
	)...)

	for _, sink := range e.sinks {
		sink.Publish(ctx, r)
	}
	return r
}

// evaluate runs one strategy, turning a panic into an error event so the
// remaining strategies still run.
func (e *Engine) evaluate(ctx context.Context, s strategy.Strategy, frame *indicator.Frame, r *CycleReport) (res strategy.Result, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[engine] strategy %s panicked: %v", s.ID, p)
			ev := e.dispatcher.Fail(ctx, s, r.Context.Instrument, fmt.Errorf("evaluation panic: %v", p))
			r.Events = append(r.Events, ev)
			ok = false
		}
	}()
	return strategy.Evaluate(s, frame, r.Index), true
}

// pending strips the sides that already dispatched for the bar at t and
// marks the rest as dispatched.
func (e *Engine) pending(id string, t int64, res strategy.Result) strategy.Result {
	f := e.fired[id]
	if f.time != t {
		f = firedAt{time: t}
	}
	if f.buy {
		res.Buy = false
	}
	if f.sell {
		res.Sell = false
	}
	f.buy = f.buy || res.Buy
	f.sell = f.sell || res.Sell
	e.fired[id] = f
	return res
}

func (e *Engine) lookup(id string) (strategy.Strategy, bool) {
	for _, s := range e.strategies {
		if s.ID == id {
			return s, true
		}
	}
	return strategy.Strategy{}, false
}

func hasStrategy(ss []strategy.Strategy, id string) bool {
	for _, s := range ss {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Bars returns a copy of the current window.
func (e *Engine) Bars() []model.Bar { return e.store.Bars() }

// Indicators returns the series of every active indicator from the last
// cycle.
func (e *Engine) Indicators() []indicator.Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]indicator.Output, len(e.outputs))
	copy(cp, e.outputs)
	return cp
}

// LastSignals returns the last evaluated result per strategy ID.
func (e *Engine) LastSignals() map[string]strategy.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]strategy.Result, len(e.last))
	for k, v := range e.last {
		out[k] = v
	}
	return out
}

// Notifications returns up to n events newest-first.
func (e *Engine) Notifications(n int) []notification.Event {
	return e.dispatcher.Events().Recent(n)
}

// Trades returns every trade newest-first.
func (e *Engine) Trades() []execution.TradeRecord { return e.dispatcher.Ledger().Trades() }

// Balance returns the ledger balance.
func (e *Engine) Balance() float64 { return e.dispatcher.Ledger().Balance() }
