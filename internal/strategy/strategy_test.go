package strategy

import (
	"errors"
	"strings"
	"testing"

	"chartsignal/internal/errs"
	"chartsignal/internal/indicator"
	"chartsignal/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

// series is a Resolver over fixed per-reference values.
type series map[string][]float64

func (s series) ValueAt(ref string, i int) float64 {
	v := s[ref]
	if i < 0 || i >= len(v) {
		return 0
	}
	return v[i]
}

func f64(v float64) *float64 { return &v }

// crossingSeries builds 20 bars where ma20 sits below ma50 until bar 10
// and above it from bar 11 on.
func crossingSeries() series {
	fast := make([]float64, 20)
	slow := make([]float64, 20)
	for i := range fast {
		slow[i] = 100
		if i <= 10 {
			fast[i] = 95 + float64(i)*0.1
		} else {
			fast[i] = 105 + float64(i)*0.1
		}
	}
	return series{"ma20": fast, "ma50": slow}
}

// ────────────────────────────────────────────────────────────
// Evaluate
// ────────────────────────────────────────────────────────────

func TestEvaluate_CrossAboveFiresOnlyAtCrossBar(t *testing.T) {
	s := DefaultStrategies()[0]
	r := crossingSeries()
	for i := 0; i < 20; i++ {
		res := Evaluate(s, r, i)
		if res.Buy != (i == 11) {
			t.Errorf("bar %d: buy = %v", i, res.Buy)
		}
		if res.Sell {
			t.Errorf("bar %d: unexpected sell", i)
		}
	}
}

func TestEvaluate_NeedsTwoBars(t *testing.T) {
	s := Strategy{ID: "t", Buy: []Condition{Threshold{IndicatorID: "x", Operator: GreaterThan, Literal: -1}}}
	res := Evaluate(s, series{"x": {5}}, 0)
	if res.Evaluated || res.Buy {
		t.Errorf("expected no evaluation with one bar, got %+v", res)
	}
	if !Evaluate(s, series{"x": {5, 5}}, 1).Buy {
		t.Error("expected buy with two bars")
	}
}

func TestEvaluate_CrossoverAntiSymmetric(t *testing.T) {
	above := Crossover{IndicatorID: "a", Operator: CrossesAbove, CompareWith: "b"}
	below := Crossover{IndicatorID: "a", Operator: CrossesBelow, CompareWith: "b"}
	pairs := []series{
		{"a": {1, 3}, "b": {2, 2}},
		{"a": {3, 1}, "b": {2, 2}},
		{"a": {2, 2}, "b": {2, 2}},
		{"a": {1, 2}, "b": {2, 1}},
		{"a": {2, 3}, "b": {2, 2}},
	}
	for i, r := range pairs {
		if above.Eval(r, 1) && below.Eval(r, 1) {
			t.Errorf("pair %d: both crossings fired", i)
		}
	}
	// touching on the previous bar is not a cross
	if above.Eval(pairs[4], 1) {
		t.Error("equal previous values must not count as crossing above")
	}
}

func TestEvaluate_Thresholds(t *testing.T) {
	r := series{"rsi": {50, 30}}
	tests := []struct {
		op   Operator
		lit  float64
		want bool
	}{
		{GreaterThan, 29.9, true},
		{GreaterThan, 30, false},
		{LessThan, 30.1, true},
		{LessThan, 30, false},
		{Equals, 30.00005, true},
		{Equals, 30.0002, false},
	}
	for _, tt := range tests {
		c := Threshold{IndicatorID: "rsi", Operator: tt.op, Literal: tt.lit}
		if got := c.Eval(r, 1); got != tt.want {
			t.Errorf("%s %v: got %v, want %v", tt.op, tt.lit, got, tt.want)
		}
	}
}

func TestEvaluate_AndAcrossConditionsAndBothSides(t *testing.T) {
	r := series{"a": {1, 5}, "b": {3, 3}}
	s := Strategy{
		ID: "both",
		Buy: []Condition{
			Crossover{IndicatorID: "a", Operator: CrossesAbove, CompareWith: "b"},
			Threshold{IndicatorID: "a", Operator: GreaterThan, Literal: 4},
		},
		Sell: []Condition{Threshold{IndicatorID: "b", Operator: Equals, Literal: 3}},
	}
	res := Evaluate(s, r, 1)
	if !res.Buy || !res.Sell {
		t.Errorf("expected both sides, got %+v", res)
	}

	s.Buy = append(s.Buy, Threshold{IndicatorID: "a", Operator: LessThan, Literal: 0})
	if Evaluate(s, r, 1).Buy {
		t.Error("one false condition must block the side")
	}
}

func TestEvaluate_EmptySideNeverFires(t *testing.T) {
	res := Evaluate(Strategy{ID: "empty"}, series{}, 5)
	if res.Buy || res.Sell {
		t.Errorf("empty strategy fired: %+v", res)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	s := DefaultStrategies()[0]
	r := crossingSeries()
	first := Evaluate(s, r, 11)
	for i := 0; i < 5; i++ {
		if got := Evaluate(s, r, 11); got != first {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
}

func TestEvaluate_WithRegistryFrame(t *testing.T) {
	// closes drop then jump so the 2-bar MA crosses the 4-bar MA once
	closes := []float64{10, 9, 8, 7, 6, 5, 12, 14, 15, 16}
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{Time: int64(i + 1), Open: c, High: c, Low: c, Close: c}
	}
	reg, err := indicator.NewRegistry(
		indicator.Spec{ID: "fast", Kind: indicator.KindSMA, Params: indicator.Params{Period: 2}},
		indicator.Spec{ID: "slow", Kind: indicator.KindSMA, Params: indicator.Params{Period: 4}},
	)
	if err != nil {
		t.Fatal(err)
	}
	s := Strategy{ID: "x", Active: true, Buy: []Condition{
		Crossover{IndicatorID: "fast", Operator: CrossesAbove, CompareWith: "slow"},
	}}
	frame := reg.Compute(bars, reg.ActiveIDs(ReferencedIDs([]Strategy{s})))

	fired := 0
	for i := range bars {
		if Evaluate(s, frame, i).Buy {
			fired++
			if i != 6 {
				t.Errorf("buy at bar %d, want 6", i)
			}
		}
	}
	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
}

// ────────────────────────────────────────────────────────────
// Definitions
// ────────────────────────────────────────────────────────────

func TestConditionDef_Build(t *testing.T) {
	tests := []struct {
		name  string
		def   ConditionDef
		field string
	}{
		{"crossover", ConditionDef{Indicator: "a", Operator: CrossesAbove, CompareWith: "b"}, ""},
		{"threshold", ConditionDef{Indicator: "a", Operator: LessThan, Value: f64(30)}, ""},
		{"crossover with value", ConditionDef{Indicator: "a", Operator: CrossesBelow, CompareWith: "b", Value: f64(1)}, "value"},
		{"crossover no compare", ConditionDef{Indicator: "a", Operator: CrossesBelow}, "compare_with"},
		{"threshold with compare", ConditionDef{Indicator: "a", Operator: Equals, CompareWith: "b", Value: f64(1)}, "compare_with"},
		{"threshold no value", ConditionDef{Indicator: "a", Operator: GreaterThan}, "value"},
		{"unknown operator", ConditionDef{Indicator: "a", Operator: "between", Value: f64(1)}, "operator"},
		{"no indicator", ConditionDef{Operator: GreaterThan, Value: f64(1)}, "indicator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.def.Build()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if c.Def().Operator != tt.def.Operator {
					t.Errorf("operator lost in round trip")
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected ValidationError on %q, got %v", tt.field, err)
			}
			if !errors.Is(err, errs.ErrValidation) {
				t.Error("error does not match errs.ErrValidation")
			}
		})
	}
}

func TestValidate_Action(t *testing.T) {
	tests := []struct {
		name   string
		action TradeAction
		ok     bool
	}{
		{"full size", TradeAction{Type: ActionBuy, SizePercent: 100}, true},
		{"zero size", TradeAction{Type: ActionBuy, SizePercent: 0}, false},
		{"over 100", TradeAction{Type: ActionSell, SizePercent: 100.5}, false},
		{"bad type", TradeAction{Type: "hold", SizePercent: 10}, false},
		{"negative stop", TradeAction{Type: ActionBuy, SizePercent: 10, StopLossPercent: f64(-1)}, false},
	}
	for _, tt := range tests {
		a := tt.action
		err := Validate(Strategy{ID: "s", Action: &a})
		if (err == nil) != tt.ok {
			t.Errorf("%s: err = %v", tt.name, err)
		}
	}
}

func TestReferencedIDs(t *testing.T) {
	active := Strategy{ID: "a", Active: true,
		Buy:  []Condition{Crossover{IndicatorID: "ma20", Operator: CrossesAbove, CompareWith: "ma50"}},
		Sell: []Condition{Threshold{IndicatorID: "macd.signal", Operator: LessThan, Literal: 0}},
	}
	inactive := Strategy{ID: "b", Buy: []Condition{Threshold{IndicatorID: "rsi", Operator: LessThan, Literal: 30}}}

	got := ReferencedIDs([]Strategy{active, inactive})
	want := []string{"ma20", "ma50", "macd.signal"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

const sampleDefs = `
indicators:
  - id: ma20
    kind: SMA
    params: {period: 20}
  - id: rsi
    kind: RSI
    active: true
    params: {period: 14, source: hlc3}
strategies:
  - id: rsi_dip
    name: RSI Dip
    active: true
    buy_conditions:
      - {id: c1, indicator: rsi, operator: less_than, value: 30}
    sell_conditions:
      - {id: c2, indicator: rsi, operator: greater_than, value: 70}
    action: {type: buy, size_percent: 25, stop_loss_percent: 2}
    notification: {browser: true}
`

func TestDecode(t *testing.T) {
	defs, err := Decode(strings.NewReader(sampleDefs))
	if err != nil {
		t.Fatal(err)
	}
	if len(defs.Indicators) != 2 || defs.Indicators[1].Params.Source != indicator.SourceHLC3 {
		t.Fatalf("indicators = %+v", defs.Indicators)
	}
	ss, err := defs.BuildStrategies()
	if err != nil {
		t.Fatal(err)
	}
	if len(ss) != 1 || ss[0].Action.SizePercent != 25 || *ss[0].Action.StopLossPercent != 2 {
		t.Fatalf("strategies = %+v", ss)
	}
	if _, ok := ss[0].Buy[0].(Threshold); !ok {
		t.Errorf("buy condition is %T, want Threshold", ss[0].Buy[0])
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader("strategies:\n  - id: x\n    colour: red\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestBuildStrategies_Duplicate(t *testing.T) {
	defs := &Definitions{Strategies: []StrategyDef{{ID: "a"}, {ID: "a"}}}
	if _, err := defs.BuildStrategies(); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
