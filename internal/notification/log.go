package notification

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"chartsignal/internal/ringbuf"
)

// DefaultRetention is the default number of events kept by a Log.
const DefaultRetention = ringbuf.DefaultCapacity

// Log is a bounded event log. Once full, each new event evicts the oldest.
type Log struct {
	ring *ringbuf.Ring[Event]
	now  func() time.Time
}

// NewLog creates a log keeping the newest retention events. Non-positive
// retention means DefaultRetention.
func NewLog(retention int) *Log {
	return &Log{ring: ringbuf.New[Event](retention), now: time.Now}
}

// Add appends ev, filling ID and Time when empty, and returns the stored
// event.
func (l *Log) Add(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = l.now()
	}
	l.ring.Push(ev)
	return ev
}

// Recent returns up to n events newest-first. n <= 0 returns all.
func (l *Log) Recent(n int) []Event { return l.ring.Newest(n) }

// Len returns the number of retained events.
func (l *Log) Len() int { return l.ring.Len() }

// Cap returns the retention limit.
func (l *Log) Cap() int { return l.ring.Cap() }

// Evicted returns how many events have been dropped.
func (l *Log) Evicted() uint64 { return l.ring.Evicted() }

// Reset drops every event.
func (l *Log) Reset() { l.ring.Reset() }

// Filter narrows a log query.
type Filter struct {
	// Severity keeps one severity; empty keeps all.
	Severity Severity
	// Search matches instrument, strategy name or message, case-insensitively.
	Search string
	Limit  int
}

// Filter returns matching events newest-first.
func (l *Log) Filter(f Filter) []Event {
	q := strings.ToLower(strings.TrimSpace(f.Search))
	var out []Event
	for _, ev := range l.ring.Newest(0) {
		if f.Severity != "" && ev.Severity != f.Severity {
			continue
		}
		if q != "" && !matches(ev, q) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func matches(ev Event, q string) bool {
	return strings.Contains(strings.ToLower(ev.Instrument), q) ||
		strings.Contains(strings.ToLower(ev.Strategy), q) ||
		strings.Contains(strings.ToLower(ev.Message), q)
}
