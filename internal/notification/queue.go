package notification

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Queue decouples delivery from the caller: Send enqueues and a single
// worker forwards to the wrapped notifier. When the buffer is full the
// event is dropped.
type Queue struct {
	next    Notifier
	ch      chan Event
	timeout time.Duration
	dropped atomic.Uint64
	wg      sync.WaitGroup

	// OnDrop is called for every dropped event. Optional.
	OnDrop func()
}

// NewQueue creates a queue with the given buffer size and per-send timeout.
func NewQueue(next Notifier, size int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{next: next, ch: make(chan Event, size), timeout: timeout}
}

// Send enqueues ev without blocking.
func (q *Queue) Send(_ context.Context, ev Event) error {
	select {
	case q.ch <- ev:
	default:
		q.dropped.Add(1)
		if q.OnDrop != nil {
			q.OnDrop()
		}
		log.Printf("[notify] queue full, dropped event %s", ev.ID)
	}
	return nil
}

// Dropped returns the number of events lost to a full buffer.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Run delivers queued events until ctx is cancelled, then drains what is
// already buffered. Blocks.
func (q *Queue) Run(ctx context.Context) {
	q.wg.Add(1)
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-q.ch:
					q.deliver(context.Background(), ev)
				default:
					return
				}
			}
		case ev := <-q.ch:
			q.deliver(ctx, ev)
		}
	}
}

// Wait blocks until Run has returned.
func (q *Queue) Wait() { q.wg.Wait() }

func (q *Queue) deliver(ctx context.Context, ev Event) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := q.next.Send(ctx, ev); err != nil {
		log.Printf("[notify] deliver %s: %v", ev.ID, err)
	}
}
