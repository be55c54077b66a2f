package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chartsignal/config"
	"chartsignal/internal/logger"
	"chartsignal/internal/sigengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[sigengine] config: %v", err)
	}
	logger.Init("sigengine", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[sigengine] context %s:%s, poll every %s, %d bars", cfg.Symbol, cfg.Timeframe, cfg.PollInterval, cfg.BarLimit)

	svc, err := sigengine.New(cfg, sigengine.Deps{})
	if err != nil {
		log.Fatalf("[sigengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[sigengine] fatal: %v", err)
	}
}
