// Package execution turns fired strategy signals into notifications and
// simulated trades.
//
// The Dispatcher appends every event to the notification log, fans it out
// to external notifiers and opens trades on the PaperLedger. Ledger
// failures become error events; nothing here aborts a cycle.
package execution

import (
	"context"
	"fmt"
	"log"
	"strings"

	"chartsignal/internal/model"
	"chartsignal/internal/notification"
	"chartsignal/internal/strategy"
)

// Event messages.
const (
	MsgBuyConditions  = "Buy conditions met"
	MsgSellConditions = "Sell conditions met"
	MsgOrderFailed    = "Order execution failed"
)

// Recorder persists dispatch output. Journal implements it.
type Recorder interface {
	RecordTrade(t TradeRecord) error
	RecordEvent(ev notification.Event) error
}

// Outcome collects what one Dispatch call produced, in emission order.
type Outcome struct {
	Events []notification.Event
	Trades []TradeRecord
}

func (o *Outcome) merge(other Outcome) {
	o.Events = append(o.Events, other.Events...)
	o.Trades = append(o.Trades, other.Trades...)
}

// Dispatcher routes signals to the log, notifiers and ledger.
type Dispatcher struct {
	ledger   *PaperLedger
	events   *notification.Log
	notifier notification.Notifier
	recorder Recorder
}

// NewDispatcher creates a dispatcher. notifier and recorder may be nil.
func NewDispatcher(ledger *PaperLedger, events *notification.Log, notifier notification.Notifier, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		ledger:   ledger,
		events:   events,
		notifier: notifier,
		recorder: recorder,
	}
}

// Ledger returns the ledger trades are booked on.
func (d *Dispatcher) Ledger() *PaperLedger { return d.ledger }

// Events returns the notification log.
func (d *Dispatcher) Events() *notification.Log { return d.events }

// Dispatch handles both sides of res independently: buy emits a success
// event, sell a warning event, and each opens a trade when the strategy's
// action matches the side.
func (d *Dispatcher) Dispatch(ctx context.Context, s strategy.Strategy, res strategy.Result, instrument string, bar model.Bar) Outcome {
	var out Outcome
	if res.Buy {
		out.merge(d.side(ctx, s, strategy.ActionBuy, instrument, bar))
	}
	if res.Sell {
		out.merge(d.side(ctx, s, strategy.ActionSell, instrument, bar))
	}
	return out
}

func (d *Dispatcher) side(ctx context.Context, s strategy.Strategy, side strategy.Action, instrument string, bar model.Bar) Outcome {
	var out Outcome
	sev, msg := notification.SeveritySuccess, MsgBuyConditions
	if side == strategy.ActionSell {
		sev, msg = notification.SeverityWarning, MsgSellConditions
	}
	out.Events = append(out.Events, d.Emit(ctx, s, instrument, sev, msg))

	if s.Action == nil || s.Action.Type != side {
		return out
	}
	t, err := d.ledger.OpenTrade(s, *s.Action, instrument, bar.Close, bar.Time)
	if err != nil {
		log.Printf("[dispatch] %s %s: %v", s.ID, side, err)
		out.Events = append(out.Events, d.Fail(ctx, s, instrument, err))
		return out
	}
	d.record(t)
	out.Trades = append(out.Trades, t)
	out.Events = append(out.Events, d.Emit(ctx, s, instrument, notification.SeveritySuccess, fillMessage(t)))
	return out
}

// Fail emits the error event for a failed execution or evaluation.
func (d *Dispatcher) Fail(ctx context.Context, s strategy.Strategy, instrument string, err error) notification.Event {
	return d.Emit(ctx, s, instrument, notification.SeverityError, fmt.Sprintf("%s: %v", MsgOrderFailed, err))
}

// Exits emits one info event per closed trade and records the new status.
func (d *Dispatcher) Exits(ctx context.Context, closed []TradeRecord, lookup func(id string) (strategy.Strategy, bool)) Outcome {
	var out Outcome
	for _, t := range closed {
		d.record(t)
		s, ok := lookup(t.StrategyID)
		if !ok {
			s = strategy.Strategy{ID: t.StrategyID, Name: t.Strategy}
		}
		msg := fmt.Sprintf("%s hit: closed %s %.4f %s @ $%g, PnL %.2f",
			strings.ReplaceAll(t.CloseReason, "_", " "), t.Type, t.Quantity, t.Instrument, t.ClosePrice, *t.PnL)
		out.Events = append(out.Events, d.Emit(ctx, s, t.Instrument, notification.SeverityInfo, msg))
		out.Trades = append(out.Trades, t)
	}
	return out
}

// Emit appends an event to the log and pushes it to external notifiers when
// the strategy allows it. Delivery failures are logged only.
func (d *Dispatcher) Emit(ctx context.Context, s strategy.Strategy, instrument string, sev notification.Severity, msg string) notification.Event {
	ev := d.events.Add(notification.Event{
		Instrument: instrument,
		StrategyID: s.ID,
		Strategy:   s.DisplayName(),
		Message:    msg,
		Severity:   sev,
		Silent:     !s.Notify.Sound,
	})
	if d.recorder != nil {
		if err := d.recorder.RecordEvent(ev); err != nil {
			log.Printf("[dispatch] journal event: %v", err)
		}
	}
	if d.notifier != nil && s.Notify.Browser {
		if err := d.notifier.Send(ctx, ev); err != nil {
			log.Printf("[dispatch] notify: %v", err)
		}
	}
	return ev
}

func (d *Dispatcher) record(t TradeRecord) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordTrade(t); err != nil {
		log.Printf("[dispatch] journal trade %s: %v", t.ID, err)
	}
}

func fillMessage(t TradeRecord) string {
	side := "Buy"
	if t.Type == strategy.ActionSell {
		side = "Sell"
	}
	return fmt.Sprintf("%s order executed: %.4f %s @ $%g", side, t.Quantity, t.Instrument, t.Price)
}
