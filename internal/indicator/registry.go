package indicator

import (
	"errors"
	"log"
	"sync"

	"chartsignal/internal/model"
)

// Registry holds the configured indicator specs in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	specs map[string]Spec
}

// NewRegistry returns a registry seeded with specs. Invalid specs are
// skipped and returned as a joined error.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec)}
	var errs []error
	for _, s := range specs {
		if err := r.Upsert(s); err != nil {
			errs = append(errs, err)
		}
	}
	return r, errors.Join(errs...)
}

// Upsert inserts or replaces a spec by ID. A replaced spec keeps its
// position in the registration order. On error the registry is unchanged.
func (r *Registry) Upsert(s Spec) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Params.Source == "" {
		s.Params.Source = SourceClose
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[s.ID]; !ok {
		r.order = append(r.order, s.ID)
	}
	r.specs[s.ID] = s
	return nil
}

// Remove deletes a spec. Conditions still referencing it resolve to 0.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[id]; !ok {
		return false
	}
	delete(r.specs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the spec for id.
func (r *Registry) Get(id string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[id]
	return s, ok
}

// Specs returns all specs in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.specs[id])
	}
	return out
}

// SetActive toggles the explicit active flag.
func (r *Registry) SetActive(id string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.specs[id]
	if !ok {
		return false
	}
	s.Active = active
	r.specs[id] = s
	return true
}

// ActiveIDs returns the explicitly active ids plus every known id in
// referenced. References may carry a ".line" suffix.
func (r *Registry) ActiveIDs(referenced []string) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{})
	for id, s := range r.specs {
		if s.Active {
			out[id] = struct{}{}
		}
	}
	for _, ref := range referenced {
		id, _ := SplitRef(ref)
		if _, ok := r.specs[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// ValueAt computes the referenced indicator over bars and returns its value
// at index. Unknown references and out-of-range indexes log and return 0.
func (r *Registry) ValueAt(ref string, bars []model.Bar, index int) float64 {
	f := r.Compute(bars, nil)
	return f.ValueAt(ref, index)
}

// Compute builds a Frame over bars with ids computed up front. Other known
// ids are computed lazily on first reference.
func (r *Registry) Compute(bars []model.Bar, ids map[string]struct{}) *Frame {
	r.mu.RLock()
	specs := make(map[string]Spec, len(r.specs))
	order := make([]string, 0, len(ids))
	for _, id := range r.order {
		specs[id] = r.specs[id]
		if _, ok := ids[id]; ok {
			order = append(order, id)
		}
	}
	r.mu.RUnlock()

	f := &Frame{
		bars:    bars,
		specs:   specs,
		order:   order,
		outputs: make(map[string]Output, len(order)),
	}
	for _, id := range order {
		f.outputs[id] = Compute(specs[id], bars)
	}
	return f
}

func logResolve(err error) {
	log.Printf("[indicator] %v", err)
}
