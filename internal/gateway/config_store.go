package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"chartsignal/internal/strategy"
)

// DefinitionsKey is the Redis key holding the persisted definitions.
const DefinitionsKey = "chartsignal:definitions"

// ConfigStore persists indicator and strategy definitions and broadcasts
// changes to connected clients. A nil Redis client keeps it memory-only.
type ConfigStore struct {
	hub *Hub
	rdb *goredis.Client
}

// NewConfigStore creates a ConfigStore backed by the given Hub.
func NewConfigStore(hub *Hub, rdb *goredis.Client) *ConfigStore {
	return &ConfigStore{hub: hub, rdb: rdb}
}

// Load restores definitions saved by a previous run. Returns false when
// nothing usable is stored.
func (cs *ConfigStore) Load(ctx context.Context) (*strategy.Definitions, bool) {
	if cs.rdb == nil {
		return nil, false
	}
	data, err := cs.rdb.Get(ctx, DefinitionsKey).Bytes()
	if err != nil {
		return nil, false
	}
	var defs strategy.Definitions
	if err := json.Unmarshal(data, &defs); err != nil {
		log.Printf("[config_store] WARNING: ignoring stored definitions: %v", err)
		return nil, false
	}
	log.Printf("[config_store] restored %d indicators, %d strategies from Redis",
		len(defs.Indicators), len(defs.Strategies))
	return &defs, true
}

// Save persists defs and broadcasts a config update to every client.
func (cs *ConfigStore) Save(ctx context.Context, defs *strategy.Definitions) {
	if cs.rdb != nil {
		if data, err := json.Marshal(defs); err == nil {
			sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := cs.rdb.Set(sctx, DefinitionsKey, data, 0).Err(); err != nil {
				log.Printf("[config_store] WARNING: failed to persist definitions: %v", err)
			}
			cancel()
		}
	}

	msg, _ := json.Marshal(map[string]any{
		"type":       MsgConfig,
		"indicators": defs.Indicators,
		"strategies": defs.Strategies,
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
	})
	cs.hub.sendAll(msg)
}
