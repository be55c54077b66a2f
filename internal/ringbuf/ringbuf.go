// Package ringbuf provides a bounded, evict-oldest ring buffer.
//
// The engine keeps its notification log and the gateway keeps per-channel
// replay history in a Ring. Capacity is exact (not rounded) because the
// retention count is part of the observable contract: a Ring of capacity
// 50 never holds a 51st item.
package ringbuf

import "sync"

// DefaultCapacity is used when New is called with a non-positive capacity.
const DefaultCapacity = 50

// Ring is a fixed-capacity circular buffer. When full, Push overwrites the
// oldest entry. Safe for concurrent use.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	pos  int // next write position
	full bool

	evicted uint64
}

// New creates a ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry if the ring is full.
// Returns true if an entry was evicted.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evict := r.full
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 {
		r.full = true
	}
	if evict {
		r.evicted++
	}
	return evict
}

// Newest returns up to n entries, newest first. n <= 0 returns all.
func (r *Ring[T]) Newest(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.len()
	if n <= 0 || n > count {
		n = count
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[r.index(count-1-i)])
	}
	return out
}

// Items returns all entries, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.len()
	out := make([]T, count)
	for i := 0; i < count; i++ {
		out[i] = r.buf[r.index(i)]
	}
	return out
}

// Len returns the number of entries currently held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len()
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Evicted returns the total number of entries overwritten so far.
func (r *Ring[T]) Evicted() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evicted
}

// Reset drops all entries.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.pos = 0
	r.full = false
}

func (r *Ring[T]) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (r *Ring[T]) index(logical int) int {
	if r.full {
		return (r.pos + logical) % len(r.buf)
	}
	return logical
}
