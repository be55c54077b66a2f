package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chartsignal/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// subscribed context keys; empty means everything
	subMu sync.RWMutex
	subs  map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}
}

func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		msg, _ := json.Marshal(map[string]any{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// coalesce queued messages into one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.handle(msg)
	}
}

// handle processes one client message.
func (c *Client) handle(msg []byte) {
	var in ClientMsg
	if json.Unmarshal(msg, &in) != nil {
		return
	}

	switch in.Type {
	case MsgSubscribe:
		key, ok := in.key()
		if !ok {
			c.sendJSON(ErrorMsg{Type: MsgError, ReqID: in.ReqID, Error: "context is required"})
			return
		}
		c.subMu.Lock()
		c.subs[key] = true
		c.subMu.Unlock()
		log.Printf("[gateway] client subscribed: %s", key)
		c.sendSnapshot(in.ReqID, key)

	case MsgUnsubscribe:
		if key, ok := in.key(); ok {
			c.subMu.Lock()
			delete(c.subs, key)
			c.subMu.Unlock()
		}

	default:
		if in.Ping > 0 {
			c.sendJSON(map[string]any{
				"type":      "pong",
				"ping":      in.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
		}
	}
}

func (c *Client) sendSnapshot(reqID, key string) {
	if c.hub.Snapshots == nil {
		return
	}
	snap, ok := c.hub.Snapshots.Snapshot(key)
	if !ok {
		c.sendJSON(ErrorMsg{Type: MsgError, ReqID: reqID, Error: "unknown context " + key})
		return
	}
	snap.Type = MsgSnapshot
	snap.ReqID = reqID
	c.sendJSON(snap)
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// matchesChannel reports whether the client should receive channel.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	_, key, ok := strings.Cut(channel, ":")
	if !ok {
		return true // non-context channel, always deliver
	}
	return c.subs[key]
}

func (m ClientMsg) key() (string, bool) {
	if m.Context != "" {
		c, ok := model.ParseKey(m.Context)
		if !ok {
			return "", false
		}
		return c.Key(), true
	}
	if m.Instrument == "" || m.Timeframe == "" {
		return "", false
	}
	return model.Context{Instrument: m.Instrument, Timeframe: m.Timeframe}.Key(), true
}
