package strategy

import "math"

// EqualsEpsilon is the fixed tolerance of the equals operator.
const EqualsEpsilon = 1e-4

// Operator names a condition comparison.
type Operator string

const (
	CrossesAbove Operator = "crosses_above"
	CrossesBelow Operator = "crosses_below"
	GreaterThan  Operator = "greater_than"
	LessThan     Operator = "less_than"
	Equals       Operator = "equals"
)

// IsCrossover reports whether op compares two indicator series over time.
func (op Operator) IsCrossover() bool { return op == CrossesAbove || op == CrossesBelow }

// Resolver returns the value of an indicator reference ("id" or "id.line")
// at a bar index.
type Resolver interface {
	ValueAt(ref string, index int) float64
}

// Condition is either a Crossover or a Threshold.
type Condition interface {
	// Eval reports whether the condition holds for the bar pair (cur-1, cur).
	Eval(r Resolver, cur int) bool
	// Refs returns the indicator references the condition reads.
	Refs() []string
	Validate() error
	Def() ConditionDef
}

// Crossover compares two indicator series across consecutive bars.
type Crossover struct {
	ID          string
	IndicatorID string
	Operator    Operator
	CompareWith string
}

func (c Crossover) Eval(r Resolver, cur int) bool {
	prev := cur - 1
	v, pv := r.ValueAt(c.IndicatorID, cur), r.ValueAt(c.IndicatorID, prev)
	cmp, pcmp := r.ValueAt(c.CompareWith, cur), r.ValueAt(c.CompareWith, prev)
	switch c.Operator {
	case CrossesAbove:
		return pv < pcmp && v > cmp
	case CrossesBelow:
		return pv > pcmp && v < cmp
	}
	return false
}

func (c Crossover) Refs() []string { return []string{c.IndicatorID, c.CompareWith} }

func (c Crossover) Validate() error {
	switch {
	case c.IndicatorID == "":
		return &ValidationError{ConditionID: c.ID, Field: "indicator", Reason: "must not be empty"}
	case c.CompareWith == "":
		return &ValidationError{ConditionID: c.ID, Field: "compare_with", Reason: "must not be empty"}
	case !c.Operator.IsCrossover():
		return &ValidationError{ConditionID: c.ID, Field: "operator", Reason: "must be crosses_above or crosses_below"}
	}
	return nil
}

func (c Crossover) Def() ConditionDef {
	return ConditionDef{ID: c.ID, Indicator: c.IndicatorID, Operator: c.Operator, CompareWith: c.CompareWith}
}

// Threshold compares one indicator's current value against a literal.
type Threshold struct {
	ID          string
	IndicatorID string
	Operator    Operator
	Literal     float64
}

func (c Threshold) Eval(r Resolver, cur int) bool {
	v := r.ValueAt(c.IndicatorID, cur)
	switch c.Operator {
	case GreaterThan:
		return v > c.Literal
	case LessThan:
		return v < c.Literal
	case Equals:
		return math.Abs(v-c.Literal) < EqualsEpsilon
	}
	return false
}

func (c Threshold) Refs() []string { return []string{c.IndicatorID} }

func (c Threshold) Validate() error {
	switch {
	case c.IndicatorID == "":
		return &ValidationError{ConditionID: c.ID, Field: "indicator", Reason: "must not be empty"}
	case math.IsNaN(c.Literal) || math.IsInf(c.Literal, 0):
		return &ValidationError{ConditionID: c.ID, Field: "value", Reason: "must be finite"}
	}
	switch c.Operator {
	case GreaterThan, LessThan, Equals:
		return nil
	}
	return &ValidationError{ConditionID: c.ID, Field: "operator", Reason: "must be greater_than, less_than or equals"}
}

func (c Threshold) Def() ConditionDef {
	lit := c.Literal
	return ConditionDef{ID: c.ID, Indicator: c.IndicatorID, Operator: c.Operator, Value: &lit}
}
