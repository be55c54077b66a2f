package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chartsignal/internal/engine"
	"chartsignal/internal/errs"
	"chartsignal/internal/indicator"
	"chartsignal/internal/model"
	"chartsignal/internal/notification"
	"chartsignal/internal/strategy"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Switcher moves the primary feed to another context.
type Switcher interface {
	Context() model.Context
	Switch(c model.Context) uint64
}

// API serves the REST surface over a set of engines.
type API struct {
	Manager  *engine.Manager
	Switcher Switcher
	Tickers  model.TickerFetcher // optional
	Hub      *Hub
	Config   *ConfigStore // optional
	Start    time.Time
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrUnknownReference):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrStaleGeneration):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// route wraps a handler with CORS, OPTIONS and a method check.
func route(methods string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if !strings.Contains(methods, r.Method) {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		h(w, r)
	}
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, a *API) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		a.Hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
	})

	mux.HandleFunc("/api/state", route("GET", a.handleState))
	mux.HandleFunc("/api/indicators", route("GET POST DELETE", a.handleIndicators))
	mux.HandleFunc("/api/notifications", route("GET", a.handleNotifications))
	mux.HandleFunc("/api/trades", route("GET", a.handleTrades))
	mux.HandleFunc("/api/strategies", route("GET POST", a.handleStrategies))
	mux.HandleFunc("/api/context", route("GET POST", a.handleContext))
	mux.HandleFunc("/api/tickers", route("GET", a.handleTickers))
	mux.HandleFunc("/api/missed", route("GET", a.handleMissed))
	mux.HandleFunc("/api/metrics", route("GET", a.handleMetrics))
	mux.HandleFunc("/health", route("GET", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"context":    a.Switcher.Context().Key(),
			"engines":    len(a.Manager.Engines()),
			"ws_clients": a.Hub.ClientCount(),
			"uptime_sec": int64(time.Since(a.Start).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	}))
}

// engineFor resolves ?context=KEY, defaulting to the primary context.
func (a *API) engineFor(r *http.Request) (*engine.Engine, bool) {
	key := r.URL.Query().Get("context")
	if key == "" {
		key = a.Switcher.Context().Key()
	} else if c, ok := model.ParseKey(key); ok {
		key = c.Key()
	}
	return a.Manager.Get(key)
}

// Snapshot implements SnapshotSource.
func (a *API) Snapshot(key string) (*Snapshot, bool) {
	e, ok := a.Manager.Get(key)
	if !ok {
		return nil, false
	}
	return a.snapshot(e), true
}

func (a *API) snapshot(e *engine.Engine) *Snapshot {
	c := e.Context()
	snap := &Snapshot{
		Context:    c,
		Key:        c.Key(),
		Generation: e.Generation(),
		Bars:       e.Bars(),
		Indicators: e.Indicators(),
		Signals:    e.LastSignals(),
		Strategies: e.Strategies(),
		Balance:    e.Balance(),
	}
	for _, t := range e.Dispatcher().Ledger().Open() {
		if t.Instrument == c.Instrument {
			snap.Open = append(snap.Open, t)
		}
	}
	return snap
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	e, ok := a.engineFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown context"))
		return
	}
	writeJSON(w, http.StatusOK, a.snapshot(e))
}

func (a *API) handleIndicators(w http.ResponseWriter, r *http.Request) {
	reg := a.Manager.Registry()
	switch r.Method {
	case http.MethodGet:
		out := map[string]any{"specs": reg.Specs()}
		if e, ok := a.engineFor(r); ok {
			out["outputs"] = e.Indicators()
		}
		writeJSON(w, http.StatusOK, out)
		return

	case http.MethodPost:
		var spec indicator.Spec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := reg.Upsert(spec); err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		log.Printf("[gateway] indicator %s upserted", spec.ID)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if !reg.Remove(id) {
			writeError(w, http.StatusNotFound, errors.New("unknown indicator "+id))
			return
		}
		log.Printf("[gateway] indicator %s removed", id)
	}

	a.recomputeAll(r.Context())
	a.persist(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"specs": reg.Specs()})
}

func (a *API) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, a.Manager.Strategies())
		return
	}

	var in []strategy.StrategyDef
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defs := strategy.Definitions{Strategies: in}
	ss, err := defs.BuildStrategies()
	if err == nil {
		err = a.Manager.SetStrategies(ss)
	}
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	log.Printf("[gateway] %d strategies loaded", len(ss))

	a.recomputeAll(r.Context())
	a.persist(r.Context())
	writeJSON(w, http.StatusOK, ss)
}

func (a *API) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		c := a.Switcher.Context()
		writeJSON(w, http.StatusOK, ContextResponse{Context: c, Key: c.Key()})
		return
	}
	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Instrument == "" || req.Timeframe == "" {
		writeError(w, http.StatusBadRequest, errors.New("instrument and timeframe are required"))
		return
	}
	c := model.Context{
		Instrument: strings.ToUpper(req.Instrument),
		Timeframe:  strings.ToLower(req.Timeframe),
	}
	gen := a.Switcher.Switch(c)
	writeJSON(w, http.StatusOK, ContextResponse{Context: c, Key: c.Key(), Generation: gen})
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := notification.Filter{
		Severity: notification.Severity(q.Get("severity")),
		Search:   q.Get("search"),
		Limit:    intParam(q.Get("limit"), 0),
	}
	if f.Severity != "" && !f.Severity.Valid() {
		writeError(w, http.StatusBadRequest, errors.New("unknown severity "+string(f.Severity)))
		return
	}
	events := a.Manager.Dispatcher().Events().Filter(f)
	if events == nil {
		events = []notification.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) handleTrades(w http.ResponseWriter, r *http.Request) {
	ledger := a.Manager.Dispatcher().Ledger()
	trades := ledger.Trades()
	if n := intParam(r.URL.Query().Get("limit"), 0); n > 0 && n < len(trades) {
		trades = trades[:n]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance": ledger.Balance(),
		"trades":  trades,
	})
}

func (a *API) handleTickers(w http.ResponseWriter, r *http.Request) {
	if a.Tickers == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("ticker feed not configured"))
		return
	}
	tickers, err := a.Tickers.FetchTickers(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if n := intParam(r.URL.Query().Get("limit"), 0); n > 0 && n < len(tickers) {
		tickers = tickers[:n]
	}
	writeJSON(w, http.StatusOK, tickers)
}

func (a *API) handleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	from := int64(intParam(q.Get("from"), 0))
	to := int64(intParam(q.Get("to"), 0))
	if to == 0 {
		to = a.Hub.GetChannelSeq(channel)
	}
	raw := a.Hub.GetReplayRange(channel, from, to)
	out := make([]json.RawMessage, len(raw))
	for i, b := range raw {
		out[i] = b
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	p50, p95, p99 := a.Hub.Latency.Percentiles()
	writeJSON(w, http.StatusOK, LatencyOut{
		WSClients: a.Hub.ClientCount(),
		Samples:   a.Hub.Latency.Count(),
		P50Ms:     p50,
		P95Ms:     p95,
		P99Ms:     p99,
		UptimeSec: int64(time.Since(a.Start).Seconds()),
	})
}

// recomputeAll re-runs a cycle on every engine after a definitions change.
func (a *API) recomputeAll(ctx context.Context) {
	for _, e := range a.Manager.Engines() {
		e.Recompute(ctx)
	}
}

func (a *API) persist(ctx context.Context) {
	if a.Config == nil {
		return
	}
	defs := &strategy.Definitions{Indicators: a.Manager.Registry().Specs()}
	for _, s := range a.Manager.Strategies() {
		defs.Strategies = append(defs.Strategies, s.Def())
	}
	a.Config.Save(ctx, defs)
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
