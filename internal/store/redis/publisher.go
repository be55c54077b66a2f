// Package redis mirrors engine cycle outputs to Redis: PubSub channels for
// live consumers, a latest-state key per context with a TTL, and a trimmed
// trade stream. Writes go through a circuit breaker; trade writes made
// while it is open are buffered and replayed once it closes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"chartsignal/internal/engine"
	"chartsignal/internal/model"
	"chartsignal/internal/strategy"
)

const (
	defaultStateTTL  = 30 * time.Minute
	tradeStreamLen   = 1000
	defaultMaxBuffer = 10000
)

// Config configures the publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	StateTTL time.Duration

	// Breaker settings; zero values pick 5 failures / 10s.
	MaxFailures  int
	ResetTimeout time.Duration
	MaxBuffer    int
}

// Snapshot is the value cached under state:<ctx>.
type Snapshot struct {
	Context    model.Context                 `json:"context"`
	Generation uint64                        `json:"generation"`
	Index      int                           `json:"index"`
	Bar        model.Bar                     `json:"bar"`
	Indicators map[string]map[string]float64 `json:"indicators"`
	Signals    []strategy.Result             `json:"signals"`
	Balance    float64                       `json:"balance"`
	UpdatedAt  time.Time                     `json:"updated_at"`
}

// message is one PUBLISH.
type message struct {
	Channel string
	Payload []byte
}

// pendingTrade is a trade stream write held while the breaker is open.
type pendingTrade struct {
	Stream string
	Data   []byte
}

// Publisher is an engine.Sink writing cycle outputs to Redis.
type Publisher struct {
	client   *goredis.Client
	cb       *CircuitBreaker
	stateTTL time.Duration

	mu      sync.Mutex
	pending []pendingTrade
	maxBuf  int

	// OnBuffer is called when a trade write is buffered. Optional.
	OnBuffer func()
}

// New connects to Redis and pings it.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config) *Publisher {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = defaultStateTTL
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = defaultMaxBuffer
	}
	p := &Publisher{
		client:   client,
		cb:       NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		stateTTL: cfg.StateTTL,
		maxBuf:   cfg.MaxBuffer,
	}
	p.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit %s -> %s", from, to)
		if to == StateClosed {
			go p.flush(context.Background())
		}
	}
	return p
}

// Client returns the underlying Redis client.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the circuit breaker guarding writes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// Close closes the client.
func (p *Publisher) Close() error { return p.client.Close() }

// StateKey returns the latest-state key of c.
func StateKey(c model.Context) string { return "state:" + c.Key() }

// TradeStream returns the trade stream key of c.
func TradeStream(c model.Context) string { return "stream:" + c.Channel(model.ChanTrade) }

func pubChannel(c model.Context, kind string) string { return "pub:" + c.Channel(kind) }

// Publish mirrors one cycle report. Unchanged windows are skipped.
func (p *Publisher) Publish(ctx context.Context, r *engine.CycleReport) {
	if r == nil || !r.Changed {
		return
	}
	msgs, err := messages(r)
	if err != nil {
		log.Printf("[redis] encode %s: %v", r.Context.Key(), err)
		return
	}
	state, err := json.Marshal(stateOf(r, time.Now()))
	if err != nil {
		log.Printf("[redis] encode state %s: %v", r.Context.Key(), err)
		return
	}
	trades := make([]pendingTrade, 0, len(r.Trades))
	for _, t := range r.Trades {
		data, _ := json.Marshal(t)
		trades = append(trades, pendingTrade{Stream: TradeStream(r.Context), Data: data})
	}

	err = p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		for _, m := range msgs {
			pipe.Publish(ctx, m.Channel, m.Payload)
		}
		pipe.Set(ctx, StateKey(r.Context), state, p.stateTTL)
		for _, t := range trades {
			addTrade(ctx, pipe, t)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	switch {
	case err == ErrCircuitOpen:
		// live messages and state are superseded by the next cycle
		p.buffer(trades)
	case err != nil:
		log.Printf("[redis] pipeline error for %s: %v", r.Context.Key(), err)
		p.buffer(trades)
	}
}

func addTrade(ctx context.Context, pipe goredis.Pipeliner, t pendingTrade) {
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: t.Stream,
		MaxLen: tradeStreamLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(t.Data)},
	})
}

func (p *Publisher) buffer(trades []pendingTrade) {
	if len(trades) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range trades {
		if len(p.pending) >= p.maxBuf {
			p.pending = p.pending[1:]
		}
		p.pending = append(p.pending, t)
		if p.OnBuffer != nil {
			p.OnBuffer()
		}
	}
}

// flush replays buffered trade writes.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	toFlush := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(toFlush) == 0 {
		return
	}

	pipe := p.client.Pipeline()
	for _, t := range toFlush {
		addTrade(ctx, pipe, t)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] flush of %d trades failed: %v", len(toFlush), err)
		p.buffer(toFlush)
		return
	}
	log.Printf("[redis] flushed %d buffered trades", len(toFlush))
}

// PendingCount returns the number of buffered trade writes.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// LatestState reads the cached state of c.
func (p *Publisher) LatestState(ctx context.Context, c model.Context) (*Snapshot, error) {
	data, err := p.client.Get(ctx, StateKey(c)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", StateKey(c), err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", StateKey(c), err)
	}
	return &s, nil
}

// messages builds the PubSub messages of one report.
func messages(r *engine.CycleReport) ([]message, error) {
	var out []message
	add := func(kind string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out = append(out, message{Channel: pubChannel(r.Context, kind), Payload: data})
		return nil
	}

	if err := add(model.ChanBar, r.Bar); err != nil {
		return nil, err
	}
	if len(r.Indicators) > 0 {
		if err := add(model.ChanIndicator, latest(r)); err != nil {
			return nil, err
		}
	}
	for _, s := range r.Signals {
		if !s.Buy && !s.Sell {
			continue
		}
		if err := add(model.ChanSignal, s); err != nil {
			return nil, err
		}
	}
	for _, ev := range r.Events {
		if err := add(model.ChanNotify, ev); err != nil {
			return nil, err
		}
	}
	for _, t := range r.Trades {
		if err := add(model.ChanTrade, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func stateOf(r *engine.CycleReport, now time.Time) Snapshot {
	return Snapshot{
		Context:    r.Context,
		Generation: r.Generation,
		Index:      r.Index,
		Bar:        r.Bar,
		Indicators: latest(r),
		Signals:    r.Signals,
		Balance:    r.Balance,
		UpdatedAt:  now.UTC(),
	}
}

func latest(r *engine.CycleReport) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(r.Indicators))
	for _, o := range r.Indicators {
		lines := make(map[string]float64, len(o.Lines))
		for name := range o.Lines {
			if v, ok := o.At(name, r.Index); ok {
				lines[name] = v
			}
		}
		out[o.ID] = lines
	}
	return out
}
