package gateway

import "chartsignal/internal/ringbuf"

// replayEntry holds a single broadcast envelope.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the newest envelopes of one channel for gap backfill.
type ReplayBuffer struct {
	ring *ringbuf.Ring[replayEntry]
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = DefaultReplay
	}
	return &ReplayBuffer{ring: ringbuf.New[replayEntry](capacity)}
}

// Push stores a copy of data under seq, evicting the oldest when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	rb.ring.Push(replayEntry{Seq: seq, Data: cp})
}

// Range returns entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	var result []replayEntry
	for _, e := range rb.ring.Items() {
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int { return rb.ring.Len() }
