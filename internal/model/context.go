package model

import "strings"

// Context identifies the active instrument and timeframe of one engine.
type Context struct {
	Instrument string `json:"instrument"` // e.g. BTCUSDT
	Timeframe  string `json:"timeframe"`  // e.g. 1m, 15m, 1h
}

// Key returns "INSTRUMENT:timeframe".
func (c Context) Key() string {
	return strings.ToUpper(c.Instrument) + ":" + strings.ToLower(c.Timeframe)
}

// IsZero reports whether no instrument has been selected.
func (c Context) IsZero() bool {
	return c.Instrument == "" && c.Timeframe == ""
}

// Channel kinds published for every context.
const (
	ChanBar       = "bar"
	ChanIndicator = "ind"
	ChanSignal    = "signal"
	ChanNotify    = "notify"
	ChanTrade     = "trade"
)

// Channel returns "kind:INSTRUMENT:timeframe".
func (c Context) Channel(kind string) string {
	return kind + ":" + c.Key()
}

// ParseKey splits a context key back into a Context.
func ParseKey(key string) (Context, bool) {
	inst, tf, ok := strings.Cut(key, ":")
	if !ok || inst == "" || tf == "" {
		return Context{}, false
	}
	return Context{Instrument: strings.ToUpper(inst), Timeframe: strings.ToLower(tf)}, true
}
