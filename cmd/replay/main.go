// cmd/replay feeds a historical bar window through a fresh engine one bar at
// a time to check indicator and strategy definitions without a live feed.
//
// Usage:
//
//	go run ./cmd/replay --symbol=BTCUSDT --tf=1h --limit=500 --defs=defs.yaml
//	go run ./cmd/replay --file=bars.json --speed=100
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chartsignal/internal/engine"
	"chartsignal/internal/execution"
	"chartsignal/internal/indicator"
	"chartsignal/internal/marketdata/binance"
	"chartsignal/internal/marketdata/replay"
	"chartsignal/internal/model"
	"chartsignal/internal/notification"
	"chartsignal/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	symbol := flag.String("symbol", "BTCUSDT", "Instrument to fetch")
	tf := flag.String("tf", "1h", "Timeframe to fetch")
	limit := flag.Int("limit", 500, "Bars to fetch")
	file := flag.String("file", "", "JSON bar file to replay instead of fetching")
	defsPath := flag.String("defs", "", "YAML definitions file (default: built-in indicators and strategies)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	balance := flag.Float64("balance", 10000, "Starting paper balance")
	baseURL := flag.String("base-url", binance.DefaultBaseURL, "Market data REST base URL")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	c := model.Context{Instrument: *symbol, Timeframe: *tf}
	bars, err := loadBars(ctx, *file, *baseURL, c, *limit)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}

	defs, err := loadDefinitions(*defsPath)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}
	reg, err := indicator.NewRegistry(defs.Indicators...)
	if err != nil {
		log.Fatalf("[replay] indicators: %v", err)
	}
	ss, err := defs.BuildStrategies()
	if err != nil {
		log.Fatalf("[replay] strategies: %v", err)
	}

	ledger := execution.NewPaperLedger(*balance)
	events := notification.NewLog(len(bars)*4 + 16)
	e := engine.New(engine.Config{
		Context:    c,
		MaxBars:    len(bars),
		Registry:   reg,
		Dispatcher: execution.NewDispatcher(ledger, events, nil, nil),
	})
	if err := e.SetStrategies(ss); err != nil {
		log.Fatalf("[replay] strategies: %v", err)
	}

	r := replay.New(bars)
	r.OnReport = func(rep *engine.CycleReport) {
		for _, t := range rep.Trades {
			fmt.Printf("  [%s] %-8s %-4s %s @ %.4f qty %.6f\n",
				time.UnixMilli(rep.Bar.Time).UTC().Format("2006-01-02 15:04"),
				t.StrategyID, t.Type, t.Status, t.Price, t.Quantity)
		}
	}
	sum, err := r.Run(ctx, e, *speed)
	if err != nil {
		log.Printf("[replay] stopped: %v", err)
	}

	// Print summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║          REPLAY COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Context:           %-16s ║\n", c.Key())
	fmt.Printf("║  Bars replayed:     %-16d ║\n", sum.Bars)
	fmt.Printf("║  Signals:           %-16d ║\n", sum.Signals)
	fmt.Printf("║  Trades:            %-16d ║\n", sum.Trades)
	fmt.Printf("║  Open trades:       %-16d ║\n", len(ledger.Open()))
	fmt.Printf("║  Balance:           %-16.2f ║\n", sum.Balance)
	fmt.Println("╚══════════════════════════════════════╝")
}

func loadBars(ctx context.Context, file, baseURL string, c model.Context, limit int) ([]model.Bar, error) {
	if file != "" {
		return replay.ReadBarsFile(file)
	}
	client := binance.New(binance.Config{BaseURL: baseURL, QuoteAsset: "USDT"})
	bars, err := client.FetchBars(ctx, c.Instrument, c.Timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c.Key(), err)
	}
	return bars, nil
}

func loadDefinitions(path string) (*strategy.Definitions, error) {
	if path != "" {
		return strategy.LoadFile(path)
	}
	defs := &strategy.Definitions{Indicators: indicator.DefaultSpecs()}
	for _, s := range strategy.DefaultStrategies() {
		defs.Strategies = append(defs.Strategies, s.Def())
	}
	return defs, nil
}
