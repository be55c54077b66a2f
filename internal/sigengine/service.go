// Package sigengine wires the feed poller, engines and sinks into one
// long-running service.
package sigengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chartsignal/config"
	"chartsignal/internal/engine"
	"chartsignal/internal/execution"
	"chartsignal/internal/gateway"
	"chartsignal/internal/indicator"
	"chartsignal/internal/marketdata/binance"
	"chartsignal/internal/marketdata/poller"
	"chartsignal/internal/metrics"
	"chartsignal/internal/model"
	"chartsignal/internal/notification"
	redisstore "chartsignal/internal/store/redis"
	"chartsignal/internal/strategy"
)

// Deps overrides collaborators, mainly for tests. Zero values build the
// real ones from Config.
type Deps struct {
	Bars     model.BarFetcher
	Tickers  model.TickerFetcher
	Registry *prometheus.Registry
}

// Service is the top-level orchestrator for the signal engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg *config.Config

	manager *engine.Manager
	primary *engine.Engine
	poller  *poller.Poller
	queue   *notification.Queue
	journal *execution.Journal
	pub     *redisstore.Publisher

	hub     *gateway.Hub
	api     *gateway.API
	prom    *metrics.Metrics
	health  *metrics.HealthStatus
	gather  prometheus.Gatherer
	httpSrv *http.Server
	metSrv  *metrics.Server
}

// New builds the service. Definitions come from Redis when a previous run
// saved them, else from DEFINITIONS_FILE, else the defaults.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	svc := &Service{cfg: cfg}

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	svc.gather = reg
	svc.prom = metrics.NewMetrics(reg)
	svc.health = metrics.NewHealthStatus()

	// ---- Journal ----
	var err error
	svc.journal, err = execution.NewJournal(cfg.JournalDSN)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	// ---- Redis (optional) ----
	if cfg.RedisAddr != "" {
		svc.pub, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[sigengine] WARNING: redis disabled: %v", err)
		} else {
			svc.health.SetRedisEnabled(true)
			svc.pub.OnBuffer = svc.prom.RedisBufferedWrites.Inc
			onChange := svc.pub.Breaker().OnStateChange
			svc.pub.Breaker().OnStateChange = func(from, to redisstore.State) {
				onChange(from, to)
				svc.prom.BreakerState(int(to))
			}
		}
	}

	// ---- Notifications ----
	var external notification.Fanout
	external = append(external, notification.NewLogNotifier())
	if cfg.WebhookURL != "" {
		external = append(external, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		tg, err := notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Printf("[sigengine] WARNING: telegram disabled: %v", err)
		} else {
			external = append(external, tg)
		}
	}
	svc.queue = notification.NewQueue(external, 256, 5*time.Second)
	svc.queue.OnDrop = svc.prom.NotifyDropped.Inc

	// ---- Engines ----
	specs, err := indicator.NewRegistry()
	if err != nil {
		return nil, err
	}
	ledger := execution.NewPaperLedger(cfg.StartingBalance)
	dispatcher := execution.NewDispatcher(ledger, notification.NewLog(cfg.NotifyRetention), svc.queue, svc.journal)

	svc.hub = gateway.NewHub(gateway.DefaultReplay)
	sinks := []engine.Sink{svc.hub, svc.prom, svc.health}
	if svc.pub != nil {
		sinks = append(sinks, svc.pub)
	}
	svc.manager = engine.NewManager(engine.Config{
		MaxBars:    cfg.MaxBars,
		Registry:   specs,
		Dispatcher: dispatcher,
		Sinks:      sinks,
	})

	defStore := gateway.NewConfigStore(svc.hub, svc.redisClient())
	defs, err := svc.loadDefinitions(defStore)
	if err != nil {
		return nil, err
	}
	if err := svc.apply(defs); err != nil {
		return nil, err
	}

	start := model.Context{Instrument: cfg.Symbol, Timeframe: cfg.Timeframe}
	svc.primary = svc.manager.Ensure(start)

	// ---- Feed ----
	bars, tickers := deps.Bars, deps.Tickers
	if bars == nil || tickers == nil {
		client := binance.New(binance.Config{
			BaseURL:        cfg.BinanceBaseURL,
			RequestsPerSec: cfg.FeedRPS,
			QuoteAsset:     "USDT",
		})
		if bars == nil {
			bars = client
		}
		if tickers == nil {
			tickers = client
		}
	}
	svc.poller = poller.New(bars, svc.primary, poller.Config{Interval: cfg.PollInterval, Limit: cfg.BarLimit})
	svc.poller.OnSwitch = func(from, to model.Context) {
		svc.manager.Rekey(from.Key())
		svc.prom.Switches.Inc()
	}
	svc.poller.OnStale = svc.prom.StaleResults.Inc
	svc.poller.OnError = func(err error) {
		svc.prom.FeedErrors.Inc()
		svc.health.SetFeedOK(false)
	}

	// ---- HTTP ----
	svc.api = &gateway.API{
		Manager:  svc.manager,
		Switcher: svc.poller,
		Tickers:  tickers,
		Hub:      svc.hub,
		Config:   defStore,
		Start:    time.Now(),
	}
	svc.hub.Snapshots = svc.api
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, svc.api)
	svc.httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	svc.metSrv = metrics.NewServer(cfg.MetricsAddr, svc.health, svc.gather)

	return svc, nil
}

func (svc *Service) loadDefinitions(store *gateway.ConfigStore) (*strategy.Definitions, error) {
	if defs, ok := store.Load(context.Background()); ok {
		return defs, nil
	}
	if svc.cfg.DefinitionsFile != "" {
		defs, err := strategy.LoadFile(svc.cfg.DefinitionsFile)
		if err != nil {
			return nil, err
		}
		log.Printf("[sigengine] loaded definitions from %s", svc.cfg.DefinitionsFile)
		return defs, nil
	}
	defs := &strategy.Definitions{Indicators: indicator.DefaultSpecs()}
	for _, s := range strategy.DefaultStrategies() {
		defs.Strategies = append(defs.Strategies, s.Def())
	}
	return defs, nil
}

// apply loads indicator specs and strategies; any invalid definition
// rejects the whole set.
func (svc *Service) apply(defs *strategy.Definitions) error {
	ss, err := defs.BuildStrategies()
	if err != nil {
		return fmt.Errorf("definitions: %w", err)
	}
	reg := svc.manager.Registry()
	for _, spec := range defs.Indicators {
		if err := reg.Upsert(spec); err != nil {
			return fmt.Errorf("definitions: %w", err)
		}
	}
	if err := svc.manager.SetStrategies(ss); err != nil {
		return fmt.Errorf("definitions: %w", err)
	}
	log.Printf("[sigengine] %d indicators, %d strategies", len(defs.Indicators), len(ss))
	return nil
}

// Handler returns the REST/WS handler.
func (svc *Service) Handler() http.Handler { return svc.httpSrv.Handler }

// Manager returns the engine manager.
func (svc *Service) Manager() *engine.Manager { return svc.manager }

// Poller returns the primary feed poller.
func (svc *Service) Poller() *poller.Poller { return svc.poller }

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[sigengine] starting signal engine...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go svc.queue.Run(ctx)
	svc.metSrv.Start()
	svc.health.StartLivenessChecker(ctx, svc.redisClient(), svc.journal.DB(), 15*time.Second)

	httpErr := make(chan error, 1)
	go func() {
		log.Printf("[sigengine] HTTP API on %s (/api/*, /ws, /health)", cfg.HTTPAddr)
		if err := svc.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	pollDone := make(chan struct{})
	go func() {
		svc.poller.Run(ctx)
		close(pollDone)
	}()

	log.Println("[sigengine] ╔════════════════════════════════════════════════════════╗")
	log.Println("[sigengine] ║  Signal Engine Active                                  ║")
	log.Println("[sigengine] ║  [Feed] → [Indicators] → [Rules] → [Ledger/Notify]     ║")
	log.Printf("[sigengine] ║  %s every %s", svc.poller.Context().Key(), cfg.PollInterval)
	log.Println("[sigengine] ╚════════════════════════════════════════════════════════╝")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		runErr = fmt.Errorf("http server: %w", err)
		cancel()
	}

	<-pollDone
	svc.shutdown()
	return runErr
}

func (svc *Service) redisClient() *goredis.Client {
	if svc.pub == nil {
		return nil
	}
	return svc.pub.Client()
}

// shutdown stops servers and flushes sinks.
func (svc *Service) shutdown() {
	log.Println("[sigengine] shutdown signal received...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.httpSrv.Shutdown(shutCtx)
	svc.metSrv.Stop(shutCtx)
	svc.queue.Wait()

	if counts, err := svc.journal.CountEvents(); err == nil {
		slog.Info("session summary",
			slog.Float64("balance", svc.manager.Dispatcher().Ledger().Balance()),
			slog.Int("trades", len(svc.manager.Dispatcher().Ledger().Trades())),
			slog.Any("events", counts),
		)
	}
	svc.journal.Close()
	if svc.pub != nil {
		svc.pub.Close()
	}
	log.Println("[sigengine] shutdown complete.")
}
