package gateway

import (
	"chartsignal/internal/execution"
	"chartsignal/internal/indicator"
	"chartsignal/internal/model"
	"chartsignal/internal/strategy"
)

// ── WS protocol ──

// Message types.
const (
	MsgSubscribe   = "SUBSCRIBE"
	MsgUnsubscribe = "UNSUBSCRIBE"
	MsgSnapshot    = "SNAPSHOT"
	MsgError       = "ERROR"
	MsgConfig      = "config_update"
)

// ClientMsg is any client → server message. Context is a key such as
// "BTCUSDT:1m"; Instrument and Timeframe may be given instead.
type ClientMsg struct {
	Type       string `json:"type"`
	ReqID      string `json:"reqId"`
	Context    string `json:"context"`
	Instrument string `json:"instrument"`
	Timeframe  string `json:"timeframe"`
	Ping       int64  `json:"ping"`
}

// ErrorMsg is the server → client error reply.
type ErrorMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// Snapshot is the full state of one context, sent on SUBSCRIBE and served
// by GET /api/state.
type Snapshot struct {
	Type       string                     `json:"type,omitempty"`
	ReqID      string                     `json:"reqId,omitempty"`
	Context    model.Context              `json:"context"`
	Key        string                     `json:"key"`
	Generation uint64                     `json:"generation"`
	Bars       []model.Bar                `json:"bars"`
	Indicators []indicator.Output         `json:"indicators"`
	Signals    map[string]strategy.Result `json:"signals"`
	Strategies []strategy.Strategy        `json:"strategies"`
	Open       []execution.TradeRecord    `json:"open_trades"`
	Balance    float64                    `json:"balance"`
}

// SnapshotSource builds snapshots by context key.
type SnapshotSource interface {
	Snapshot(key string) (*Snapshot, bool)
}

// ── REST ──

// ContextRequest is the body of POST /api/context.
type ContextRequest struct {
	Instrument string `json:"instrument"`
	Timeframe  string `json:"timeframe"`
}

// ContextResponse reports the switched context.
type ContextResponse struct {
	Context    model.Context `json:"context"`
	Key        string        `json:"key"`
	Generation uint64        `json:"generation"`
}

// LatencyOut is the REST response type for /api/metrics.
type LatencyOut struct {
	WSClients int     `json:"ws_clients"`
	Samples   int     `json:"samples"`
	P50Ms     float64 `json:"cycle_p50_ms"`
	P95Ms     float64 `json:"cycle_p95_ms"`
	P99Ms     float64 `json:"cycle_p99_ms"`
	UptimeSec int64   `json:"uptime_sec"`
}

// LatestValues reduces outputs to the value of each line at index.
func LatestValues(outputs []indicator.Output, index int) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(outputs))
	for _, o := range outputs {
		lines := make(map[string]float64, len(o.Lines))
		for name := range o.Lines {
			if v, ok := o.At(name, index); ok {
				lines[name] = v
			}
		}
		out[o.ID] = lines
	}
	return out
}
