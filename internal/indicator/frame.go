package indicator

import (
	"sync"

	"chartsignal/internal/model"
)

// Frame is a snapshot of indicator outputs over one bar window. It resolves
// "id" and "id.line" references and is safe for concurrent reads.
type Frame struct {
	bars  []model.Bar
	specs map[string]Spec
	order []string

	mu      sync.Mutex
	outputs map[string]Output
}

// Len returns the window length.
func (f *Frame) Len() int { return len(f.bars) }

// Outputs returns the eagerly computed outputs in registration order.
func (f *Frame) Outputs() []Output {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Output, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.outputs[id])
	}
	return out
}

// Resolve returns the value of ref at index. The error is an
// *UnknownReferenceError or a *DataGapError.
func (f *Frame) Resolve(ref string, index int) (float64, error) {
	id, line := SplitRef(ref)
	o, ok := f.output(id)
	if !ok {
		return 0, &UnknownReferenceError{Ref: ref}
	}
	if line == "" {
		line = o.Kind.Lines()[0]
	}
	vals, ok := o.Lines[line]
	if !ok {
		return 0, &UnknownReferenceError{Ref: ref}
	}
	if index < 0 || index >= len(vals) {
		return 0, &DataGapError{Ref: ref, Index: index, Len: len(vals)}
	}
	return vals[index], nil
}

// ValueAt is Resolve with failures logged and mapped to 0.
func (f *Frame) ValueAt(ref string, index int) float64 {
	v, err := f.Resolve(ref, index)
	if err != nil {
		logResolve(err)
		return 0
	}
	return v
}

func (f *Frame) output(id string) (Output, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.outputs[id]; ok {
		return o, true
	}
	s, ok := f.specs[id]
	if !ok {
		return Output{}, false
	}
	o := Compute(s, f.bars)
	f.outputs[id] = o
	return o, true
}
