package execution

import (
	"fmt"

	"chartsignal/internal/errs"
	"chartsignal/internal/strategy"
)

// Status is the lifecycle state of a trade.
type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// Close reasons.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
)

// TradeRecord is one simulated trade. After creation only the status and
// close bookkeeping fields change.
type TradeRecord struct {
	ID         string          `json:"id"`
	Time       int64           `json:"time"`
	Instrument string          `json:"instrument"`
	Type       strategy.Action `json:"type"`
	Price      float64         `json:"price"`
	Quantity   float64         `json:"quantity"`
	Notional   float64         `json:"notional"`
	StrategyID string          `json:"strategy_id"`
	Strategy   string          `json:"strategy"`
	StopLoss   *float64        `json:"stop_loss,omitempty"`
	TakeProfit *float64        `json:"take_profit,omitempty"`
	Status     Status          `json:"status"`
	PnL        *float64        `json:"pnl"`

	ClosedAt    int64   `json:"closed_at,omitempty"`
	ClosePrice  float64 `json:"close_price,omitempty"`
	CloseReason string  `json:"close_reason,omitempty"`
}

// InvalidPriceError rejects a trade whose price is not a positive finite
// number.
type InvalidPriceError struct {
	Price float64
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price %v", e.Price)
}

func (e *InvalidPriceError) Unwrap() error { return errs.ErrInvalidPrice }
