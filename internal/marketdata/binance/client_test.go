package binance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return New(Config{
		BaseURL:        url,
		RequestsPerSec: 100,
		MaxRetryTime:   2 * time.Second,
		RetryInterval:  5 * time.Millisecond,
		QuoteAsset:     "USDT",
	})
}

const klines = `[
 [1700000000000,"100.0","101.5","99.5","101.0","12.5",1700000059999,"0",1,"0","0","0"],
 [1700000060000,"101.0","102.0","100.0","100.5","8.25",1700000119999,"0",1,"0","0","0"]
]`

func TestFetchBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1h" || q.Get("limit") != "500" {
			t.Errorf("query = %v", q)
		}
		io.WriteString(w, klines)
	}))
	defer srv.Close()

	bars, err := newTestClient(srv.URL).FetchBars(context.Background(), "btcusdt", "1H", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}
	b := bars[0]
	if b.Time != 1700000000 || b.Open != 100 || b.High != 101.5 || b.Low != 99.5 || b.Close != 101 || b.Volume != 12.5 {
		t.Errorf("bar = %+v", b)
	}
	if bars[1].Time != 1700000060 {
		t.Errorf("second bar time = %d", bars[1].Time)
	}
}

func TestFetchBars_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, klines)
	}))
	defer srv.Close()

	bars, err := newTestClient(srv.URL).FetchBars(context.Background(), "BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 || calls.Load() != 3 {
		t.Errorf("bars=%d calls=%d", len(bars), calls.Load())
	}
}

func TestFetchBars_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchBars(context.Background(), "NOPE", "1m", 10)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetchBars_MalformedKline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[[1700000000000,"abc","1","1","1","1"]]`)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchBars(context.Background(), "X", "1m", 1); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFetchBars_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestClient(srv.URL).FetchBars(ctx, "X", "1m", 1); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestFetchTickers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/24hr" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `[
			{"symbol":"BTCUSDT","lastPrice":"50000.00","priceChangePercent":"1.5"},
			{"symbol":"ETHBTC","lastPrice":"0.05","priceChangePercent":"9.0"},
			{"symbol":"SOLUSDT","lastPrice":"100.00","priceChangePercent":"4.2"},
			{"symbol":"XRPUSDT","lastPrice":"0.5","priceChangePercent":"-2"}
		]`)
	}))
	defer srv.Close()

	ts, err := newTestClient(srv.URL).FetchTickers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"SOLUSDT", "BTCUSDT", "XRPUSDT"}
	if len(ts) != len(want) {
		t.Fatalf("tickers = %+v", ts)
	}
	for i, s := range want {
		if ts[i].Symbol != s {
			t.Errorf("ticker[%d] = %s, want %s", i, ts[i].Symbol, s)
		}
	}
	if ts[1].LastPrice != 50000 || ts[1].PriceChangePercent != 1.5 {
		t.Errorf("BTCUSDT = %+v", ts[1])
	}
}
