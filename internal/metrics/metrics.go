package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chartsignal/internal/engine"
)

// Metrics holds the Prometheus metrics of the signal engine. It is an
// engine.Sink.
type Metrics struct {
	CyclesTotal *prometheus.CounterVec // labels: context
	CycleDur    prometheus.Histogram
	BarsLoaded  *prometheus.GaugeVec // labels: context

	SignalsTotal       *prometheus.CounterVec // labels: side
	TradesTotal        *prometheus.CounterVec // labels: type, status
	NotificationsTotal *prometheus.CounterVec // labels: severity
	StrategyPanics     prometheus.Counter
	Balance            prometheus.Gauge

	// Feed
	FeedErrors   prometheus.Counter
	StaleResults prometheus.Counter
	Switches     prometheus.Counter

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Notification delivery
	NotifyDropped prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg, or with the
// default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_cycles_total",
			Help: "Engine cycles run, by context",
		}, []string{"context"}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_cycle_duration_seconds",
			Help:    "Indicator recompute + evaluation + dispatch latency per cycle",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		BarsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_bars_loaded",
			Help: "Bars in the current window, by context",
		}, []string{"context"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_signals_total",
			Help: "Strategy sides that evaluated true",
		}, []string{"side"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_trades_total",
			Help: "Simulated trades opened or closed",
		}, []string{"type", "status"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_notifications_total",
			Help: "Notification events emitted, by severity",
		}, []string{"severity"}),
		StrategyPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_strategy_panics_total",
			Help: "Strategy evaluations that panicked and were isolated",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_paper_balance",
			Help: "Simulated ledger balance",
		}),
		FeedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_feed_errors_total",
			Help: "Bar fetches that failed",
		}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_stale_results_total",
			Help: "Fetch results dropped after a context switch",
		}),
		Switches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_context_switches_total",
			Help: "Instrument or timeframe switches",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_redis_buffered_writes_total",
			Help: "Trade writes buffered while the Redis circuit breaker was open",
		}),
		NotifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_notify_dropped_total",
			Help: "External notifications dropped because the queue was full",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDur,
		m.BarsLoaded,
		m.SignalsTotal,
		m.TradesTotal,
		m.NotificationsTotal,
		m.StrategyPanics,
		m.Balance,
		m.FeedErrors,
		m.StaleResults,
		m.Switches,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.NotifyDropped,
	)
	return m
}

// Publish records one cycle report.
func (m *Metrics) Publish(_ context.Context, r *engine.CycleReport) {
	if r == nil || !r.Changed {
		return
	}
	key := r.Context.Key()
	m.CyclesTotal.WithLabelValues(key).Inc()
	m.CycleDur.Observe(r.Duration.Seconds())
	m.BarsLoaded.WithLabelValues(key).Set(float64(r.Index + 1))
	m.Balance.Set(r.Balance)
	m.StrategyPanics.Add(float64(r.Panics))

	for _, s := range r.Signals {
		if s.Buy {
			m.SignalsTotal.WithLabelValues("buy").Inc()
		}
		if s.Sell {
			m.SignalsTotal.WithLabelValues("sell").Inc()
		}
	}
	for _, t := range r.Trades {
		m.TradesTotal.WithLabelValues(string(t.Type), string(t.Status)).Inc()
	}
	for _, ev := range r.Events {
		m.NotificationsTotal.WithLabelValues(string(ev.Severity)).Inc()
	}
}

// BreakerState records a circuit breaker transition. state follows the
// breaker's numbering.
func (m *Metrics) BreakerState(state int) {
	m.RedisCircuitBreakerState.Set(float64(state))
	if state == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	Context        string    `json:"context"`
	FeedOK         bool      `json:"feed_ok"`
	LastBarTime    int64     `json:"last_bar_time"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	JournalOK      bool      `json:"journal_ok"`

	// Liveness probe results
	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`

	now func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), JournalOK: true, now: time.Now}
}

// Publish marks the feed healthy on every cycle. HealthStatus is an
// engine.Sink.
func (h *HealthStatus) Publish(_ context.Context, r *engine.CycleReport) {
	if r == nil {
		return
	}
	h.mu.Lock()
	h.Context = r.Context.Key()
	h.FeedOK = true
	if r.Changed && r.Index >= 0 {
		h.LastBarTime = r.Bar.Time
	}
	h.LastCycleAt = h.now()
	h.mu.Unlock()
}

func (h *HealthStatus) SetFeedOK(v bool) {
	h.mu.Lock()
	h.FeedOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// CheckJournal pings the journal database.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either dependency
// may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckJournal(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedOK || !h.JournalOK || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.FeedOK && !h.JournalOK {
		overallStatus = "unhealthy"
	}

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = h.now().Sub(h.LastCycleAt).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		Context          string  `json:"context"`
		FeedOK           bool    `json:"feed_ok"`
		LastBarTime      int64   `json:"last_bar_time"`
		CycleAge         string  `json:"cycle_age"`
		RedisEnabled     bool    `json:"redis_enabled"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		JournalOK        bool    `json:"journal_ok"`
		JournalLatencyMs float64 `json:"journal_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           h.now().Sub(h.StartedAt).Round(time.Second).String(),
		Context:          h.Context,
		FeedOK:           h.FeedOK,
		LastBarTime:      h.LastBarTime,
		CycleAge:         cycleAge,
		RedisEnabled:     h.RedisEnabled,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer defaults to the
// Prometheus default gatherer when nil.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
