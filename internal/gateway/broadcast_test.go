package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chartsignal/internal/engine"
	"chartsignal/internal/indicator"
	"chartsignal/internal/model"
	"chartsignal/internal/notification"
)

// wsEnvelope is the parsed WS message structure.
type wsEnvelope struct {
	Type       string          `json:"type"`
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

var btc = model.Context{Instrument: "BTCUSDT", Timeframe: "1m"}

func sampleReport() *engine.CycleReport {
	return &engine.CycleReport{
		Context:    btc,
		Generation: 1,
		Changed:    true,
		Index:      1,
		Bar:        model.Bar{Time: 120, Close: 101},
		Indicators: []indicator.Output{{
			ID:    "ma20",
			Kind:  indicator.KindSMA,
			Times: []int64{60, 120},
			Lines: map[string][]float64{indicator.LineValue: {100, 100.5}},
		}},
		Events: []notification.Event{
			{ID: "a", Message: "Buy conditions met", Severity: notification.SeverityInfo},
			{ID: "b", Message: "Buy order executed", Severity: notification.SeveritySuccess},
		},
		Balance:  9000,
		Duration: 2 * time.Millisecond,
	}
}

// ────────────────────────────────────────────────────────────
// Envelope
// ────────────────────────────────────────────────────────────

func TestEnvelopeFormat(t *testing.T) {
	channel := btc.Channel(model.ChanBar)
	data := []byte(`{"index":3,"bar":{"time":180,"close":101.5}}`)
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)

	buf := envelope(channel, data, now, 42, 7)

	var env wsEnvelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Channel != channel {
		t.Errorf("channel: got %q, want %q", env.Channel, channel)
	}
	if env.Seq != 42 || env.ChannelSeq != 7 {
		t.Errorf("seq=%d channel_seq=%d, want 42/7", env.Seq, env.ChannelSeq)
	}
	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil || !parsed.Equal(now) {
		t.Errorf("ts: got %q (%v)", env.TS, err)
	}
	var payload struct {
		Index int `json:"index"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Index != 3 {
		t.Errorf("data not embedded verbatim: %s", env.Data)
	}
}

// ────────────────────────────────────────────────────────────
// Hub as engine sink
// ────────────────────────────────────────────────────────────

func TestHubPublish_ChannelsAndSeqs(t *testing.T) {
	h := NewHub(10)
	h.Publish(context.Background(), sampleReport())

	notify := btc.Channel(model.ChanNotify)
	if got := h.GetChannelSeq(notify); got != 2 {
		t.Errorf("notify channel seq = %d, want 2 (one per event)", got)
	}
	if got := h.GetChannelSeq(btc.Channel(model.ChanBar)); got != 1 {
		t.Errorf("bar channel seq = %d, want 1", got)
	}
	if got := h.GetChannelSeq(btc.Channel(model.ChanTrade)); got != 0 {
		t.Errorf("trade channel seq = %d, want 0 without trades", got)
	}

	latest := h.GetLatestAll()
	var ind map[string]map[string]float64
	if err := json.Unmarshal(latest[btc.Channel(model.ChanIndicator)], &ind); err != nil {
		t.Fatal(err)
	}
	if ind["ma20"][indicator.LineValue] != 100.5 {
		t.Errorf("latest ma20 = %v, want 100.5", ind["ma20"])
	}

	replay := h.GetReplayRange(notify, 1, 2)
	if len(replay) != 2 {
		t.Fatalf("replay entries = %d, want 2", len(replay))
	}
	var env wsEnvelope
	json.Unmarshal(replay[1], &env)
	if env.ChannelSeq != 2 || env.Channel != notify {
		t.Errorf("second replay envelope = %+v", env)
	}
	if h.Latency.Count() != 1 {
		t.Errorf("latency samples = %d, want 1", h.Latency.Count())
	}
}

func TestHubPublish_SkipsUnchanged(t *testing.T) {
	h := NewHub(10)
	r := sampleReport()
	r.Changed = false
	h.Publish(context.Background(), r)
	h.Publish(context.Background(), nil)
	if len(h.GetLatestAll()) != 0 {
		t.Error("unchanged report was broadcast")
	}
}

func TestClientMatchesChannel(t *testing.T) {
	c := &Client{subs: map[string]bool{}}
	if !c.matchesChannel("bar:ETHUSDT:1m") {
		t.Error("client without subscriptions should receive everything")
	}

	c.subs[btc.Key()] = true
	tests := []struct {
		channel string
		want    bool
	}{
		{"bar:BTCUSDT:1m", true},
		{"notify:BTCUSDT:1m", true},
		{"bar:ETHUSDT:1m", false},
		{"bar:BTCUSDT:5m", false},
		{"metrics", true},
	}
	for _, tt := range tests {
		if got := c.matchesChannel(tt.channel); got != tt.want {
			t.Errorf("matchesChannel(%q) = %v, want %v", tt.channel, got, tt.want)
		}
	}
}

func TestClientMsgKey(t *testing.T) {
	tests := []struct {
		msg  ClientMsg
		want string
		ok   bool
	}{
		{ClientMsg{Context: "btcusdt:1M"}, "BTCUSDT:1m", true},
		{ClientMsg{Instrument: "ethusdt", Timeframe: "15m"}, "ETHUSDT:15m", true},
		{ClientMsg{Context: "BTCUSDT"}, "", false},
		{ClientMsg{Instrument: "BTCUSDT"}, "", false},
	}
	for _, tt := range tests {
		got, ok := tt.msg.key()
		if got != tt.want || ok != tt.ok {
			t.Errorf("%+v.key() = %q,%v want %q,%v", tt.msg, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLatestValues_MultiLine(t *testing.T) {
	outs := []indicator.Output{{
		ID:    "macd",
		Kind:  indicator.KindMACD,
		Times: []int64{60},
		Lines: map[string][]float64{
			indicator.LineMACD:      {1.5},
			indicator.LineSignal:    {1.0},
			indicator.LineHistogram: {0.5},
		},
	}}
	got := LatestValues(outs, 0)["macd"]
	if got[indicator.LineHistogram] != 0.5 || len(got) != 3 {
		t.Errorf("LatestValues = %v", got)
	}
	if len(LatestValues(outs, 5)["macd"]) != 0 {
		t.Error("out-of-range index should yield no lines")
	}
}
