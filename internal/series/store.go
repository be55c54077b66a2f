// Package series holds the price history for the active instrument/timeframe.
//
// A Store is append-only between full replacements. Switching the context
// (instrument or timeframe) discards the history wholesale and bumps the
// generation counter, which callers use to drop late fetch results for the
// old context.
package series

import (
	"errors"
	"fmt"
	"sync"

	"chartsignal/internal/model"
)

var (
	// ErrStaleBar is returned by Append for a bar older than the last one.
	ErrStaleBar = errors.New("series: bar older than last bar")

	// ErrUnordered is returned by Replace when bars are not strictly ascending.
	ErrUnordered = errors.New("series: bars not strictly ascending")
)

// Store owns the ordered bar history for one context.
type Store struct {
	mu      sync.RWMutex
	ctx     model.Context
	bars    []model.Bar
	gen     uint64
	maxBars int
}

// NewStore creates an empty store. maxBars <= 0 keeps everything.
func NewStore(maxBars int) *Store {
	return &Store{maxBars: maxBars}
}

// Switch changes the active context, discarding all history.
// Returns the new generation.
func (s *Store) Switch(ctx model.Context) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.bars = nil
	s.gen++
	return s.gen
}

// Replace installs bars as the full visible window for the current context.
// It reports whether the window differs from the previous one.
func (s *Store) Replace(bars []model.Bar) (bool, error) {
	if err := model.ValidateBars(bars); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnordered, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBars > 0 && len(bars) > s.maxBars {
		bars = bars[len(bars)-s.maxBars:]
	}
	if equalBars(s.bars, bars) {
		return false, nil
	}
	cp := make([]model.Bar, len(bars))
	copy(cp, bars)
	s.bars = cp
	return true, nil
}

// Append adds a bar newer than the last one. A bar with the same Time
// replaces the forming last bar in place.
func (s *Store) Append(bar model.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.bars)
	if n > 0 {
		last := s.bars[n-1]
		switch {
		case bar.Time == last.Time:
			s.bars[n-1] = bar
			return nil
		case bar.Time < last.Time:
			return fmt.Errorf("%w: %d < %d", ErrStaleBar, bar.Time, last.Time)
		}
	}
	s.bars = append(s.bars, bar)
	if s.maxBars > 0 && len(s.bars) > s.maxBars {
		s.bars = append(s.bars[:0:0], s.bars[len(s.bars)-s.maxBars:]...)
	}
	return nil
}

// Bars returns a copy of the history, oldest first.
func (s *Store) Bars() []model.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]model.Bar, len(s.bars))
	copy(cp, s.bars)
	return cp
}

// Len returns the number of bars held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// Last returns the most recent bar.
func (s *Store) Last() (model.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.bars) == 0 {
		return model.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Generation returns the current context generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Context returns the active context.
func (s *Store) Context() model.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func equalBars(a, b []model.Bar) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
