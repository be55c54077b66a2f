// Package notification records engine events and delivers them to external
// channels (Telegram, webhooks, logs).
package notification

import (
	"context"
	"errors"
	"log"
	"time"
)

// Severity classifies an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Event is one entry of the notification log.
type Event struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"timestamp"`
	Instrument string    `json:"instrument"`
	StrategyID string    `json:"strategy_id"`
	Strategy   string    `json:"strategy"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`

	// Silent asks push channels to deliver without sound.
	Silent bool `json:"-"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an event. Returns error if delivery fails.
	Send(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the standard logger.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, ev Event) error {
	log.Printf("[notify] [%s] %s %s: %s", ev.Severity, ev.Instrument, ev.Strategy, ev.Message)
	return nil
}

// Fanout sends every event to all backends and joins their errors.
type Fanout []Notifier

func (f Fanout) Send(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
