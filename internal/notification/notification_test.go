package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLog_NeverExceedsRetention(t *testing.T) {
	l := NewLog(0)
	if l.Cap() != 50 {
		t.Fatalf("default cap = %d, want 50", l.Cap())
	}
	for i := 0; i < 500; i++ {
		l.Add(Event{Message: fmt.Sprintf("m%d", i), Severity: SeverityInfo})
		if l.Len() > 50 {
			t.Fatalf("len %d exceeds retention after %d adds", l.Len(), i+1)
		}
	}
	recent := l.Recent(0)
	if recent[0].Message != "m499" || recent[49].Message != "m450" {
		t.Errorf("newest-first order broken: first=%s last=%s", recent[0].Message, recent[49].Message)
	}
	if l.Evicted() != 450 {
		t.Errorf("evicted = %d, want 450", l.Evicted())
	}
}

func TestLog_AddFillsIDAndTime(t *testing.T) {
	l := NewLog(5)
	a := l.Add(Event{Message: "a"})
	b := l.Add(Event{Message: "b"})
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids not unique: %q %q", a.ID, b.ID)
	}
	if a.Time.IsZero() {
		t.Error("time not set")
	}
}

func TestLog_Filter(t *testing.T) {
	l := NewLog(10)
	l.Add(Event{Instrument: "BTCUSDT", Strategy: "Golden Cross", Message: "Buy conditions met", Severity: SeveritySuccess})
	l.Add(Event{Instrument: "ETHUSDT", Strategy: "RSI Dip", Message: "Sell conditions met", Severity: SeverityWarning})
	l.Add(Event{Instrument: "BTCUSDT", Strategy: "RSI Dip", Message: "Order execution failed: bad price", Severity: SeverityError})

	tests := []struct {
		name string
		f    Filter
		want int
	}{
		{"all", Filter{}, 3},
		{"severity", Filter{Severity: SeverityWarning}, 1},
		{"search instrument", Filter{Search: "btc"}, 2},
		{"search strategy", Filter{Search: "rsi dip"}, 2},
		{"search message", Filter{Search: "FAILED"}, 1},
		{"combined", Filter{Severity: SeveritySuccess, Search: "eth"}, 0},
		{"limit", Filter{Limit: 2}, 2},
	}
	for _, tt := range tests {
		if got := l.Filter(tt.f); len(got) != tt.want {
			t.Errorf("%s: got %d events, want %d", tt.name, len(got), tt.want)
		}
	}
}

type failing struct{}

func (failing) Send(context.Context, Event) error { return errors.New("down") }

type recorder struct {
	mu  sync.Mutex
	got []Event
}

func (r *recorder) Send(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return nil
}

func TestFanout_DeliversDespiteFailures(t *testing.T) {
	rec := &recorder{}
	err := Fanout{failing{}, NewLogNotifier(), rec}.Send(context.Background(), Event{Message: "x"})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(rec.got) != 1 {
		t.Errorf("recorder got %d events, want 1", len(rec.got))
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Event{ID: "e1", Message: "Buy conditions met", Severity: SeveritySuccess}); err != nil {
		t.Fatal(err)
	}
	if got.Event.ID != "e1" || got.Event.Severity != SeveritySuccess || !got.Sound {
		t.Errorf("payload = %+v", got)
	}
}

func TestWebhookNotifier_Retries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		failFirst int
		wantErr   bool
		minCalls  int32
		maxCalls  int32
	}{
		{"recovers after 5xx", http.StatusBadGateway, 2, false, 3, 3},
		{"4xx is permanent", http.StatusBadRequest, 100, true, 1, 1},
		{"5xx until deadline", http.StatusServiceUnavailable, 1000, true, 2, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if int(calls.Add(1)) <= tt.failFirst {
					w.WriteHeader(tt.status)
				}
			}))
			defer srv.Close()

			n := NewWebhookNotifier(srv.URL)
			n.RetryInterval = time.Millisecond
			n.MaxRetryTime = 200 * time.Millisecond

			err := n.Send(context.Background(), Event{ID: "e1"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if c := calls.Load(); c < tt.minCalls || c > tt.maxCalls {
				t.Errorf("calls = %d, want [%d, %d]", c, tt.minCalls, tt.maxCalls)
			}
		})
	}
}

func TestTelegramNotifier(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"sig","username":"sigbot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			mu.Lock()
			sent = append(sent, r.PostForm.Get("text")+"|"+r.PostForm.Get("disable_notification"))
			mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	n, err := NewTelegramNotifierWithEndpoint("TOKEN", 42, srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatal(err)
	}
	ev := Event{ID: "e1", Instrument: "BTCUSDT", Strategy: "Golden Cross", Message: "Buy conditions met", Severity: SeveritySuccess, Silent: true}
	if err := n.Send(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if !strings.Contains(sent[0], "Buy conditions met") || !strings.HasSuffix(sent[0], "|true") {
		t.Errorf("message = %q", sent[0])
	}
}

func TestQueue_DeliversAndDrops(t *testing.T) {
	rec := &recorder{}
	q := NewQueue(rec, 2, time.Second)

	// nothing is consuming yet, so the third send is dropped
	for i := 0; i < 3; i++ {
		q.Send(context.Background(), Event{ID: fmt.Sprint(i)})
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", q.Dropped())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.got) != 2 || rec.got[0].ID != "0" || rec.got[1].ID != "1" {
		t.Errorf("delivered %+v", rec.got)
	}
}
