package model

import "context"

// ── Feed Port Interfaces ──
// These decouple the engine from the concrete market-data collaborator.

// BarFetcher returns the authoritative visible window for an instrument/timeframe.
type BarFetcher interface {
	// FetchBars returns up to limit bars, oldest first.
	FetchBars(ctx context.Context, instrument, timeframe string, limit int) ([]Bar, error)
}

// TickerFetcher returns 24h tickers for instrument selection.
type TickerFetcher interface {
	FetchTickers(ctx context.Context) ([]Ticker, error)
}
