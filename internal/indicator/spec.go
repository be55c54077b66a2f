package indicator

import (
	"strings"

	"chartsignal/internal/model"
)

// Kind is the indicator family.
type Kind string

const (
	KindSMA     Kind = "SMA"
	KindEMA     Kind = "EMA"
	KindRSI     Kind = "RSI"
	KindMACD    Kind = "MACD"
	KindBBands  Kind = "BBANDS"
	refSplitter      = "."
)

// Params holds the kind-specific numeric fields. Unused fields are ignored.
type Params struct {
	Period       int     `json:"period,omitempty" yaml:"period,omitempty"`
	FastPeriod   int     `json:"fast_period,omitempty" yaml:"fast_period,omitempty"`
	SlowPeriod   int     `json:"slow_period,omitempty" yaml:"slow_period,omitempty"`
	SignalPeriod int     `json:"signal_period,omitempty" yaml:"signal_period,omitempty"`
	Multiplier   float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Source       Source  `json:"source,omitempty" yaml:"source,omitempty"`
}

// Spec configures one indicator. ID is the handle rule conditions use.
type Spec struct {
	ID     string `json:"id" yaml:"id"`
	Kind   Kind   `json:"kind" yaml:"kind"`
	Params Params `json:"params" yaml:"params"`
	Active bool   `json:"active" yaml:"active"`
}

// Lines returns the output line names for the kind; the first is the default.
func (k Kind) Lines() []string {
	switch k {
	case KindMACD:
		return []string{LineMACD, LineSignal, LineHistogram}
	case KindBBands:
		return []string{LineMiddle, LineUpper, LineLower}
	default:
		return []string{LineValue}
	}
}

// Validate checks the spec's parameters for its kind.
func (s Spec) Validate() error {
	if s.ID == "" {
		return &ValidationError{ID: s.ID, Field: "id", Reason: "must not be empty"}
	}
	if strings.Contains(s.ID, refSplitter) {
		return &ValidationError{ID: s.ID, Field: "id", Reason: "must not contain '.'"}
	}
	if !s.Params.Source.Valid() {
		return &ValidationError{ID: s.ID, Field: "source", Reason: "unknown source " + string(s.Params.Source)}
	}

	p := s.Params
	switch s.Kind {
	case KindSMA, KindEMA, KindRSI:
		return positive(s.ID, "period", float64(p.Period))
	case KindMACD:
		if err := positive(s.ID, "fast_period", float64(p.FastPeriod)); err != nil {
			return err
		}
		if err := positive(s.ID, "slow_period", float64(p.SlowPeriod)); err != nil {
			return err
		}
		if p.FastPeriod >= p.SlowPeriod {
			return &ValidationError{ID: s.ID, Field: "fast_period", Reason: "must be less than slow_period"}
		}
		return positive(s.ID, "signal_period", float64(p.SignalPeriod))
	case KindBBands:
		if err := positive(s.ID, "period", float64(p.Period)); err != nil {
			return err
		}
		return positive(s.ID, "multiplier", p.Multiplier)
	default:
		return &ValidationError{ID: s.ID, Field: "kind", Reason: "unknown kind " + string(s.Kind)}
	}
}

func positive(id, field string, v float64) error {
	if !(v > 0) {
		return &ValidationError{ID: id, Field: field, Reason: "must be positive"}
	}
	return nil
}

// Compute runs the spec's calculator over bars. Empty input yields an
// empty output. The spec is assumed valid.
func Compute(s Spec, bars []model.Bar) Output {
	out := Output{
		ID:    s.ID,
		Kind:  s.Kind,
		Times: make([]int64, len(bars)),
		Lines: make(map[string][]float64, 3),
	}
	for i, b := range bars {
		out.Times[i] = b.Time
	}
	values := s.Params.Source.Extract(bars)
	p := s.Params

	switch s.Kind {
	case KindSMA:
		out.Lines[LineValue] = SMASeries(values, p.Period)
	case KindEMA:
		out.Lines[LineValue] = EMASeries(values, p.Period)
	case KindRSI:
		out.Lines[LineValue] = RSISeries(values, p.Period)
	case KindMACD:
		m, sig, h := MACDSeries(values, p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
		out.Lines[LineMACD], out.Lines[LineSignal], out.Lines[LineHistogram] = m, sig, h
	case KindBBands:
		u, m, l := BollingerSeries(values, p.Period, p.Multiplier)
		out.Lines[LineUpper], out.Lines[LineMiddle], out.Lines[LineLower] = u, m, l
	}
	return out
}

// SplitRef splits "id.line" into its parts; line is empty when absent.
func SplitRef(ref string) (id, line string) {
	if i := strings.Index(ref, refSplitter); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// DefaultSpecs returns the stock indicator set, all inactive.
func DefaultSpecs() []Spec {
	return []Spec{
		{ID: "ma20", Kind: KindSMA, Params: Params{Period: 20}},
		{ID: "ma50", Kind: KindSMA, Params: Params{Period: 50}},
		{ID: "ma200", Kind: KindSMA, Params: Params{Period: 200}},
		{ID: "rsi", Kind: KindRSI, Params: Params{Period: 14, Source: SourceClose}},
		{ID: "macd", Kind: KindMACD, Params: Params{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9}},
		{ID: "bb", Kind: KindBBands, Params: Params{Period: 20, Multiplier: 2, Source: SourceClose}},
	}
}
