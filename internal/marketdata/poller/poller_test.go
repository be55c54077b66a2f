package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chartsignal/internal/engine"
	"chartsignal/internal/errs"
	"chartsignal/internal/execution"
	"chartsignal/internal/indicator"
	"chartsignal/internal/model"
	"chartsignal/internal/notification"
)

var (
	btc = model.Context{Instrument: "BTCUSDT", Timeframe: "1m"}
	eth = model.Context{Instrument: "ETHUSDT", Timeframe: "1m"}
)

func window(n int, px float64) []model.Bar {
	out := make([]model.Bar, n)
	for i := range out {
		out[i] = model.Bar{Time: int64(60 * (i + 1)), Open: px, High: px, Low: px, Close: px}
	}
	return out
}

func newEngine() *engine.Engine {
	reg, _ := indicator.NewRegistry(indicator.DefaultSpecs()...)
	d := execution.NewDispatcher(execution.NewPaperLedger(10000), notification.NewLog(50), nil, nil)
	return engine.New(engine.Config{Context: btc, Registry: reg, Dispatcher: d})
}

// fakeFeed serves fixed windows per instrument. Instruments listed in
// block wait for their context to be cancelled.
type fakeFeed struct {
	mu      sync.Mutex
	windows map[string][]model.Bar
	block   map[string]bool
	calls   []string
	started chan string
	err     error
}

func (f *fakeFeed) FetchBars(ctx context.Context, instrument, timeframe string, limit int) ([]model.Bar, error) {
	f.mu.Lock()
	f.calls = append(f.calls, instrument)
	block := f.block[instrument]
	bars := f.windows[instrument]
	err := f.err
	f.mu.Unlock()

	if f.started != nil {
		f.started <- instrument
	}
	if block {
		<-ctx.Done()
		// a late result arrives anyway
		return window(3, 1), nil
	}
	return bars, err
}

func TestPollOnce_FeedsEngine(t *testing.T) {
	e := newEngine()
	feed := &fakeFeed{windows: map[string][]model.Bar{"BTCUSDT": window(5, 100)}}
	p := New(feed, e, Config{Limit: 500})

	r, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !r.Changed || len(e.Bars()) != 5 {
		t.Errorf("changed=%v bars=%d", r.Changed, len(e.Bars()))
	}

	// identical window is a no-op
	r, err = p.PollOnce(context.Background())
	if err != nil || r.Changed {
		t.Errorf("second poll: changed=%v err=%v", r.Changed, err)
	}
}

func TestPollOnce_FeedErrorLeavesState(t *testing.T) {
	e := newEngine()
	feed := &fakeFeed{err: errors.New("network down")}
	p := New(feed, e, Config{})
	var hooked error
	p.OnError = func(err error) { hooked = err }

	p.poll(context.Background())
	if hooked == nil {
		t.Error("OnError not called")
	}
	if len(e.Bars()) != 0 {
		t.Error("failed fetch must not change the series")
	}
}

func TestSwitch_CancelsInflightAndDropsLateResult(t *testing.T) {
	e := newEngine()
	feed := &fakeFeed{
		windows: map[string][]model.Bar{"ETHUSDT": window(4, 2000)},
		block:   map[string]bool{"BTCUSDT": true},
		started: make(chan string, 4),
	}
	p := New(feed, e, Config{Interval: time.Hour})

	var switched []model.Context
	p.OnSwitch = func(from, to model.Context) { switched = append(switched, from, to) }
	reports := make(chan *engine.CycleReport, 4)
	p.OnReport = func(r *engine.CycleReport) { reports <- r }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	if got := <-feed.started; got != "BTCUSDT" {
		t.Fatalf("first fetch for %s", got)
	}
	p.Switch(eth)

	select {
	case r := <-reports:
		if r.Context != eth {
			t.Errorf("report for %s, want ETHUSDT", r.Context.Key())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no report after switch")
	}

	if bars := e.Bars(); len(bars) != 4 || bars[0].Close != 2000 {
		t.Errorf("engine holds %d bars (close %v), want the ETH window", len(bars), bars)
	}
	if len(switched) != 2 || switched[0] != btc || switched[1] != eth {
		t.Errorf("OnSwitch got %v", switched)
	}

	cancel()
	<-done
}

func TestPollOnce_StaleGeneration(t *testing.T) {
	e := newEngine()
	feed := &fakeFeed{
		block:   map[string]bool{"BTCUSDT": true},
		started: make(chan string, 1),
	}
	p := New(feed, e, Config{})

	errCh := make(chan error, 1)
	go func() {
		_, err := p.PollOnce(context.Background())
		errCh <- err
	}()
	<-feed.started
	p.Switch(eth)

	if err := <-errCh; !errors.Is(err, errs.ErrStaleGeneration) {
		t.Fatalf("expected ErrStaleGeneration, got %v", err)
	}
	if len(e.Bars()) != 0 {
		t.Error("stale bars reached the engine")
	}
}
