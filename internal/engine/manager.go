package engine

import (
	"sort"
	"sync"

	"chartsignal/internal/execution"
	"chartsignal/internal/indicator"
	"chartsignal/internal/model"
	"chartsignal/internal/strategy"
)

// Manager holds one Engine per context. Engines share the registry,
// dispatcher and ledger but never a series, so different contexts can run
// their cycles in parallel.
type Manager struct {
	mu         sync.RWMutex
	engines    map[string]*Engine
	strategies []strategy.Strategy

	maxBars    int
	registry   *indicator.Registry
	dispatcher *execution.Dispatcher
	sinks      []Sink
}

// NewManager creates a manager whose engines are built from cfg. The
// Context field of cfg is ignored.
func NewManager(cfg Config) *Manager {
	return &Manager{
		engines:    make(map[string]*Engine),
		maxBars:    cfg.MaxBars,
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		sinks:      cfg.Sinks,
	}
}

// Ensure returns the engine for ctx, creating it if needed.
func (m *Manager) Ensure(ctx model.Context) *Engine {
	key := ctx.Key()

	m.mu.RLock()
	e, ok := m.engines[key]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[key]; ok {
		return e
	}
	e = New(Config{
		Context:    ctx,
		MaxBars:    m.maxBars,
		Registry:   m.registry,
		Dispatcher: m.dispatcher,
		Sinks:      m.sinks,
	})
	// already validated by SetStrategies
	_ = e.SetStrategies(m.strategies)
	m.engines[key] = e
	return e
}

// Get returns the engine for a context key.
func (m *Manager) Get(key string) (*Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[key]
	return e, ok
}

// Remove drops the engine for a context key.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	delete(m.engines, key)
	m.mu.Unlock()
}

// Rekey moves the engine registered under from to the key of its current
// context, after the engine itself has switched.
func (m *Manager) Rekey(from string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[from]
	if !ok {
		return
	}
	to := e.Context().Key()
	if to == from {
		return
	}
	delete(m.engines, from)
	m.engines[to] = e
}

// Engines returns all engines ordered by context key.
func (m *Manager) Engines() []*Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.engines))
	for k := range m.engines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Engine, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.engines[k])
	}
	return out
}

// SetStrategies validates ss and hands it to every engine, current and
// future.
func (m *Manager) SetStrategies(ss []strategy.Strategy) error {
	for _, s := range ss {
		if err := strategy.Validate(s); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.strategies = append([]strategy.Strategy(nil), ss...)
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()

	for _, e := range engines {
		if err := e.SetStrategies(ss); err != nil {
			return err
		}
	}
	return nil
}

// Strategies returns the shared strategy definitions.
func (m *Manager) Strategies() []strategy.Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]strategy.Strategy(nil), m.strategies...)
}

// Registry returns the shared indicator registry.
func (m *Manager) Registry() *indicator.Registry { return m.registry }

// Dispatcher returns the shared dispatcher.
func (m *Manager) Dispatcher() *execution.Dispatcher { return m.dispatcher }
