// Package binance fetches klines and 24h tickers from the Binance REST API.
// Requests are rate limited and retried with exponential backoff.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"chartsignal/internal/model"
)

// DefaultBaseURL is the public spot API.
const DefaultBaseURL = "https://api.binance.com"

// DefaultLimit is the kline window size requested when limit <= 0.
const DefaultLimit = 500

// Config holds client options. Zero values take defaults.
type Config struct {
	BaseURL        string
	RequestsPerSec int
	Timeout        time.Duration
	// MaxRetryTime bounds the total time spent retrying one request.
	MaxRetryTime time.Duration
	// RetryInterval is the first backoff interval.
	RetryInterval time.Duration
	// QuoteAsset filters tickers by symbol suffix; empty keeps all.
	QuoteAsset string
}

// Client implements model.BarFetcher and model.TickerFetcher.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	cfg     Config
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetryTime == 0 {
		cfg.MaxRetryTime = 30 * time.Second
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestsPerSec),
		cfg:     cfg,
	}
}

// StatusError is a non-200 response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("binance: status %d: %s", e.StatusCode, e.Body)
}

// FetchBars returns up to limit klines for symbol/interval, oldest first.
func (c *Client) FetchBars(ctx context.Context, instrument, timeframe string, limit int) ([]model.Bar, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(instrument))
	q.Set("interval", strings.ToLower(timeframe))
	q.Set("limit", strconv.Itoa(limit))

	var raw [][]json.RawMessage
	if err := c.get(ctx, "/api/v3/klines", q, &raw); err != nil {
		return nil, err
	}

	bars := make([]model.Bar, 0, len(raw))
	for i, k := range raw {
		b, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("binance: kline %d: %w", i, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// parseKline decodes [openTimeMs, "open", "high", "low", "close", "volume", ...].
func parseKline(k []json.RawMessage) (model.Bar, error) {
	if len(k) < 6 {
		return model.Bar{}, fmt.Errorf("short kline (%d fields)", len(k))
	}
	var openMs int64
	if err := json.Unmarshal(k[0], &openMs); err != nil {
		return model.Bar{}, fmt.Errorf("open time: %w", err)
	}
	var f [5]float64
	for i := range f {
		var s string
		if err := json.Unmarshal(k[i+1], &s); err != nil {
			return model.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		f[i] = v
	}
	return model.Bar{Time: openMs / 1000, Open: f[0], High: f[1], Low: f[2], Close: f[3], Volume: f[4]}, nil
}

type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// FetchTickers returns 24h tickers for the configured quote asset, sorted
// by price change, highest first.
func (c *Client) FetchTickers(ctx context.Context) ([]model.Ticker, error) {
	var raw []ticker24h
	if err := c.get(ctx, "/api/v3/ticker/24hr", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Ticker, 0, len(raw))
	for _, t := range raw {
		if c.cfg.QuoteAsset != "" && !strings.HasSuffix(t.Symbol, c.cfg.QuoteAsset) {
			continue
		}
		last, err1 := strconv.ParseFloat(t.LastPrice, 64)
		chg, err2 := strconv.ParseFloat(t.PriceChangePercent, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, model.Ticker{Symbol: t.Symbol, LastPrice: last, PriceChangePercent: chg})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PriceChangePercent > out[j].PriceChangePercent
	})
	return out, nil
}

// get performs a rate-limited GET with retries and decodes JSON into out.
// 4xx responses other than 429 are not retried.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var body [256]byte
			n, _ := resp.Body.Read(body[:])
			serr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body[:n]))}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(serr)
			}
			return serr
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("binance: decode %s: %w", path, err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	b.MaxElapsedTime = c.cfg.MaxRetryTime

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("binance: GET %s: %w", path, err)
	}
	return nil
}
