package strategy

import (
	"fmt"

	"chartsignal/internal/errs"
)

// ValidationError rejects a strategy or condition definition.
type ValidationError struct {
	StrategyID  string
	ConditionID string
	Field       string
	Reason      string
}

func (e *ValidationError) Error() string {
	switch {
	case e.ConditionID != "":
		return fmt.Sprintf("strategy %q condition %q: %s %s", e.StrategyID, e.ConditionID, e.Field, e.Reason)
	default:
		return fmt.Sprintf("strategy %q: %s %s", e.StrategyID, e.Field, e.Reason)
	}
}

func (e *ValidationError) Unwrap() error { return errs.ErrValidation }
