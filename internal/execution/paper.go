package execution

import (
	"log"
	"math"
	"sync"

	"github.com/google/uuid"

	"chartsignal/internal/model"
	"chartsignal/internal/strategy"
)

// PaperLedger simulates an account: a cash balance and a trade list.
// No order leaves the process. Safe for concurrent use; balance is the one
// value every trade mutates.
type PaperLedger struct {
	mu      sync.RWMutex
	balance float64
	trades  []TradeRecord // oldest first
}

// NewPaperLedger creates a ledger with the given starting balance.
func NewPaperLedger(balance float64) *PaperLedger {
	return &PaperLedger{
		balance: balance,
		trades:  make([]TradeRecord, 0, 64),
	}
}

// OpenTrade books a trade at price. The notional is sizePercent of the
// current balance; buys debit it and sells credit it.
func (p *PaperLedger) OpenTrade(s strategy.Strategy, a strategy.TradeAction, instrument string, price float64, at int64) (TradeRecord, error) {
	if !(price > 0) || math.IsInf(price, 0) {
		return TradeRecord{}, &InvalidPriceError{Price: price}
	}
	if !(a.SizePercent > 0 && a.SizePercent <= 100) {
		return TradeRecord{}, &strategy.ValidationError{StrategyID: s.ID, Field: "action.size_percent", Reason: "must be in (0,100]"}
	}
	if a.Type != strategy.ActionBuy && a.Type != strategy.ActionSell {
		return TradeRecord{}, &strategy.ValidationError{StrategyID: s.ID, Field: "action.type", Reason: "must be buy or sell"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	notional := p.balance * (a.SizePercent / 100)
	t := TradeRecord{
		ID:         uuid.NewString(),
		Time:       at,
		Instrument: instrument,
		Type:       a.Type,
		Price:      price,
		Quantity:   notional / price,
		Notional:   notional,
		StrategyID: s.ID,
		Strategy:   s.DisplayName(),
		Status:     StatusOpen,
	}
	t.StopLoss, t.TakeProfit = exitLevels(a, price)

	if a.Type == strategy.ActionBuy {
		p.balance -= notional
	} else {
		p.balance += notional
	}
	p.trades = append(p.trades, t)

	log.Printf("[paper] %s %s %s qty=%.6f price=%.4f notional=%.2f balance=%.2f",
		t.Type, t.Strategy, t.Instrument, t.Quantity, t.Price, t.Notional, p.balance)
	return t, nil
}

// exitLevels converts the percent fields into absolute prices. A sell
// mirrors a buy: its stop sits above entry and its target below.
func exitLevels(a strategy.TradeAction, price float64) (stop, take *float64) {
	dir := 1.0
	if a.Type == strategy.ActionSell {
		dir = -1
	}
	if pct := a.StopLossPercent; pct != nil && *pct > 0 {
		v := price * (1 - dir*(*pct)/100)
		stop = &v
	}
	if pct := a.TakeProfitPercent; pct != nil && *pct > 0 {
		v := price * (1 + dir*(*pct)/100)
		take = &v
	}
	return stop, take
}

// CheckExits closes every open trade on instrument whose stop-loss or
// take-profit level is touched by bar's close. Closing reverses the cash
// flow of the open and books the PnL. Returns the closed trades.
func (p *PaperLedger) CheckExits(instrument string, bar model.Bar) []TradeRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	var closed []TradeRecord
	px := bar.Close
	for i := range p.trades {
		t := &p.trades[i]
		if t.Status != StatusOpen || t.Instrument != instrument {
			continue
		}
		reason := exitReason(t, px)
		if reason == "" {
			continue
		}

		var pnl float64
		if t.Type == strategy.ActionBuy {
			pnl = (px - t.Price) * t.Quantity
			p.balance += t.Notional + pnl
		} else {
			pnl = (t.Price - px) * t.Quantity
			p.balance -= t.Notional - pnl
		}
		t.Status = StatusClosed
		t.PnL = &pnl
		t.ClosedAt = bar.Time
		t.ClosePrice = px
		t.CloseReason = reason
		closed = append(closed, *t)

		log.Printf("[paper] closed %s %s %s at %.4f (%s) pnl=%.2f balance=%.2f",
			t.Type, t.Strategy, t.Instrument, px, reason, pnl, p.balance)
	}
	return closed
}

func exitReason(t *TradeRecord, px float64) string {
	buy := t.Type == strategy.ActionBuy
	switch {
	case t.StopLoss != nil && ((buy && px <= *t.StopLoss) || (!buy && px >= *t.StopLoss)):
		return ReasonStopLoss
	case t.TakeProfit != nil && ((buy && px >= *t.TakeProfit) || (!buy && px <= *t.TakeProfit)):
		return ReasonTakeProfit
	}
	return ""
}

// Trades returns a snapshot of all trades, newest first.
func (p *PaperLedger) Trades() []TradeRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]TradeRecord, len(p.trades))
	for i, t := range p.trades {
		out[len(p.trades)-1-i] = t
	}
	return out
}

// Open returns the open trades, newest first.
func (p *PaperLedger) Open() []TradeRecord {
	var out []TradeRecord
	for _, t := range p.Trades() {
		if t.Status == StatusOpen {
			out = append(out, t)
		}
	}
	return out
}

// Balance returns the current cash balance.
func (p *PaperLedger) Balance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}

// Reset drops all trades and sets the balance.
func (p *PaperLedger) Reset(balance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = balance
	p.trades = p.trades[:0]
}
