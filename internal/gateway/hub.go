package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chartsignal/internal/engine"
	"chartsignal/internal/model"
)

// DefaultReplay is the number of envelopes kept per channel.
const DefaultReplay = 500

// Hub manages WebSocket clients and fans out cycle reports.
// It acts as a compositor, delegating to focused components:
//   - Broadcaster: envelope construction + client-filtered fan-out
//   - ConfigStore: definitions persistence + config broadcast
//
// Hub is an engine.Sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer
	replayCap  int

	// Cycle duration samples
	Latency *LatencyTracker

	// Snapshots answers SUBSCRIBE requests. Optional.
	Snapshots SnapshotSource

	Broadcaster *Broadcaster
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a hub keeping replay envelopes per channel.
func NewHub(replay int) *Hub {
	if replay <= 0 {
		replay = DefaultReplay
	}
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		replayCap:   replay,
		Latency:     NewLatencyTracker(10000),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// barUpdate is the payload of the bar channel.
type barUpdate struct {
	Generation uint64    `json:"generation"`
	Index      int       `json:"index"`
	Bar        model.Bar `json:"bar"`
	Balance    float64   `json:"balance"`
}

// Publish broadcasts one cycle report. Unchanged windows are skipped.
func (h *Hub) Publish(_ context.Context, r *engine.CycleReport) {
	if r == nil || !r.Changed {
		return
	}
	h.Latency.Record(float64(r.Duration.Microseconds()) / 1000.0)

	c := r.Context
	h.broadcastJSON(c.Channel(model.ChanBar), barUpdate{
		Generation: r.Generation,
		Index:      r.Index,
		Bar:        r.Bar,
		Balance:    r.Balance,
	})
	if len(r.Indicators) > 0 {
		h.broadcastJSON(c.Channel(model.ChanIndicator), LatestValues(r.Indicators, r.Index))
	}
	if len(r.Signals) > 0 {
		h.broadcastJSON(c.Channel(model.ChanSignal), r.Signals)
	}
	for _, ev := range r.Events {
		h.broadcastJSON(c.Channel(model.ChanNotify), ev)
	}
	for _, t := range r.Trades {
		h.broadcastJSON(c.Channel(model.ChanTrade), t)
	}
}

func (h *Hub) broadcastJSON(channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] marshal %s: %v", channel, err)
		return
	}
	h.Broadcaster.Broadcast(channel, data)
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := newClient(h, conn)
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// GetLatestAll returns the latest payload of every channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendAll delivers a pre-built message to every client, dropping it for
// clients whose queue is full.
func (h *Hub) sendAll(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}
