package strategy

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"chartsignal/internal/indicator"
)

// ConditionDef is the plain-data form of a condition used in definition
// files and HTTP bodies. Exactly one of CompareWith and Value must be set,
// matching the operator.
type ConditionDef struct {
	ID          string   `json:"id" yaml:"id"`
	Indicator   string   `json:"indicator" yaml:"indicator"`
	Operator    Operator `json:"operator" yaml:"operator"`
	CompareWith string   `json:"compare_with,omitempty" yaml:"compare_with,omitempty"`
	Value       *float64 `json:"value,omitempty" yaml:"value,omitempty"`
}

// Build converts the definition into a Crossover or Threshold.
func (d ConditionDef) Build() (Condition, error) {
	var c Condition
	if d.Operator.IsCrossover() {
		if d.Value != nil {
			return nil, &ValidationError{ConditionID: d.ID, Field: "value", Reason: "not allowed with " + string(d.Operator)}
		}
		c = Crossover{ID: d.ID, IndicatorID: d.Indicator, Operator: d.Operator, CompareWith: d.CompareWith}
	} else {
		if d.CompareWith != "" {
			return nil, &ValidationError{ConditionID: d.ID, Field: "compare_with", Reason: "not allowed with " + string(d.Operator)}
		}
		if d.Value == nil {
			return nil, &ValidationError{ConditionID: d.ID, Field: "value", Reason: "required with " + string(d.Operator)}
		}
		c = Threshold{ID: d.ID, IndicatorID: d.Indicator, Operator: d.Operator, Literal: *d.Value}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// StrategyDef is the plain-data form of a Strategy.
type StrategyDef struct {
	ID     string         `json:"id" yaml:"id"`
	Name   string         `json:"name" yaml:"name"`
	Active bool           `json:"active" yaml:"active"`
	Buy    []ConditionDef `json:"buy_conditions" yaml:"buy_conditions"`
	Sell   []ConditionDef `json:"sell_conditions" yaml:"sell_conditions"`
	Action *TradeAction   `json:"action,omitempty" yaml:"action,omitempty"`
	Notify NotifyPrefs    `json:"notification" yaml:"notification"`
}

// Build converts and validates the definition.
func (d StrategyDef) Build() (Strategy, error) {
	s := Strategy{ID: d.ID, Name: d.Name, Active: d.Active, Action: d.Action, Notify: d.Notify}
	var err error
	if s.Buy, err = buildAll(d.ID, d.Buy); err != nil {
		return Strategy{}, err
	}
	if s.Sell, err = buildAll(d.ID, d.Sell); err != nil {
		return Strategy{}, err
	}
	if err := Validate(s); err != nil {
		return Strategy{}, err
	}
	return s, nil
}

func buildAll(strategyID string, defs []ConditionDef) ([]Condition, error) {
	out := make([]Condition, 0, len(defs))
	for _, d := range defs {
		c, err := d.Build()
		if err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.StrategyID = strategyID
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Def returns the plain-data form of s.
func (s Strategy) Def() StrategyDef {
	d := StrategyDef{ID: s.ID, Name: s.Name, Active: s.Active, Action: s.Action, Notify: s.Notify}
	d.Buy = make([]ConditionDef, 0, len(s.Buy))
	for _, c := range s.Buy {
		d.Buy = append(d.Buy, c.Def())
	}
	d.Sell = make([]ConditionDef, 0, len(s.Sell))
	for _, c := range s.Sell {
		d.Sell = append(d.Sell, c.Def())
	}
	return d
}

// MarshalJSON encodes the strategy in its plain-data form.
func (s Strategy) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Def())
}

// Definitions is the top-level layout of a definitions file.
type Definitions struct {
	Indicators []indicator.Spec `json:"indicators" yaml:"indicators"`
	Strategies []StrategyDef    `json:"strategies" yaml:"strategies"`
}

// Decode reads YAML definitions. Unknown fields are rejected.
func Decode(r io.Reader) (*Definitions, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var defs Definitions
	if err := dec.Decode(&defs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode definitions: %w", err)
	}
	return &defs, nil
}

// LoadFile reads a YAML definitions file.
func LoadFile(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open definitions: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// BuildStrategies converts every strategy definition, stopping at the
// first invalid one.
func (d *Definitions) BuildStrategies() ([]Strategy, error) {
	out := make([]Strategy, 0, len(d.Strategies))
	seen := make(map[string]bool)
	for _, sd := range d.Strategies {
		if seen[sd.ID] {
			return nil, &ValidationError{StrategyID: sd.ID, Field: "id", Reason: "is duplicated"}
		}
		seen[sd.ID] = true
		s, err := sd.Build()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
