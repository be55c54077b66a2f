// Package strategy evaluates user-defined buy/sell rules against indicator
// values.
//
// A Strategy holds two condition sets. A side fires only when every one of
// its conditions holds for the current/previous bar pair. Evaluation is a
// pure function of the strategy and the resolved indicator values.
package strategy

// Action is the side of a trade attached to a strategy.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// TradeAction is the optional trade a strategy places when its matching
// side fires. Percent fields are relative to balance (size) or entry price
// (stop/take).
type TradeAction struct {
	Type              Action   `json:"type" yaml:"type"`
	SizePercent       float64  `json:"size_percent" yaml:"size_percent"`
	StopLossPercent   *float64 `json:"stop_loss_percent,omitempty" yaml:"stop_loss_percent,omitempty"`
	TakeProfitPercent *float64 `json:"take_profit_percent,omitempty" yaml:"take_profit_percent,omitempty"`
}

// NotifyPrefs selects how a strategy's events leave the engine. Browser
// enables push to external notifiers; Sound makes those pushes audible.
type NotifyPrefs struct {
	Browser bool `json:"browser" yaml:"browser"`
	Sound   bool `json:"sound" yaml:"sound"`
}

// Strategy is a set of buy and sell conditions with an optional action.
type Strategy struct {
	ID     string
	Name   string
	Active bool
	Buy    []Condition
	Sell   []Condition
	Action *TradeAction
	Notify NotifyPrefs
}

// DisplayName returns Name, falling back to ID.
func (s Strategy) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// ReferencedIDs returns every indicator reference used by the active
// strategies, in first-seen order.
func ReferencedIDs(strategies []Strategy) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range strategies {
		if !s.Active {
			continue
		}
		for _, side := range [][]Condition{s.Buy, s.Sell} {
			for _, c := range side {
				for _, ref := range c.Refs() {
					if !seen[ref] {
						seen[ref] = true
						out = append(out, ref)
					}
				}
			}
		}
	}
	return out
}

// Validate checks the strategy and every condition.
func Validate(s Strategy) error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if a := s.Action; a != nil {
		if a.Type != ActionBuy && a.Type != ActionSell {
			return &ValidationError{StrategyID: s.ID, Field: "action.type", Reason: "must be buy or sell"}
		}
		if !(a.SizePercent > 0 && a.SizePercent <= 100) {
			return &ValidationError{StrategyID: s.ID, Field: "action.size_percent", Reason: "must be in (0,100]"}
		}
		if a.StopLossPercent != nil && *a.StopLossPercent < 0 {
			return &ValidationError{StrategyID: s.ID, Field: "action.stop_loss_percent", Reason: "must not be negative"}
		}
		if a.TakeProfitPercent != nil && *a.TakeProfitPercent < 0 {
			return &ValidationError{StrategyID: s.ID, Field: "action.take_profit_percent", Reason: "must not be negative"}
		}
	}
	for _, side := range [][]Condition{s.Buy, s.Sell} {
		for _, c := range side {
			if err := c.Validate(); err != nil {
				if ve, ok := err.(*ValidationError); ok {
					ve.StrategyID = s.ID
				}
				return err
			}
		}
	}
	return nil
}

// DefaultStrategies returns the stock Golden Cross strategy, inactive.
func DefaultStrategies() []Strategy {
	return []Strategy{{
		ID:   "golden_cross",
		Name: "Golden Cross",
		Buy: []Condition{
			Crossover{ID: "buy_condition1", IndicatorID: "ma20", Operator: CrossesAbove, CompareWith: "ma50"},
		},
		Sell: []Condition{
			Crossover{ID: "sell_condition1", IndicatorID: "ma20", Operator: CrossesBelow, CompareWith: "ma50"},
		},
		Notify: NotifyPrefs{Browser: true, Sound: true},
	}}
}
