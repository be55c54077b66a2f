package strategy

// Result is the outcome of evaluating one strategy at one bar.
type Result struct {
	StrategyID string `json:"strategy_id"`
	Index      int    `json:"index"`
	Evaluated  bool   `json:"evaluated"`
	Buy        bool   `json:"buy"`
	Sell       bool   `json:"sell"`
}

// Evaluate checks both condition sets of s for the bar pair (cur-1, cur).
// With cur < 1 there is no previous bar and nothing is evaluated. A side
// with no conditions never fires. Buy and Sell may both be true.
func Evaluate(s Strategy, r Resolver, cur int) Result {
	res := Result{StrategyID: s.ID, Index: cur}
	if cur < 1 {
		return res
	}
	res.Evaluated = true
	res.Buy = all(s.Buy, r, cur)
	res.Sell = all(s.Sell, r, cur)
	return res
}

func all(conds []Condition, r Resolver, cur int) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !c.Eval(r, cur) {
			return false
		}
	}
	return true
}
