// Package cache persists capped per-conversation message lists and per-viewer
// last-seen markers so history survives navigation and process restarts.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"pandora-chat/internal/kvstore"
	"pandora-chat/internal/models"
)

const (
	messagePrefix = "pandora_dm_cache_"
	seenPrefix    = "pandora_dm_seen_"

	// DefaultCapacity bounds each conversation's cached tail. Oldest entries
	// are evicted first.
	DefaultCapacity = 200
)

// LocalCache stores conversation state in a durable key-value store. The
// cache is advisory: stale or missing entries only degrade to slower first
// paint, never to wrong data, because server history is merged on top.
type LocalCache struct {
	store    kvstore.Store
	capacity int
}

// New builds a LocalCache. capacity <= 0 selects DefaultCapacity.
func New(store kvstore.Store, capacity int) *LocalCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LocalCache{store: store, capacity: capacity}
}

func messageKey(owner, other string) string {
	return messagePrefix + owner + "_" + other
}

func seenKey(owner string) string {
	return seenPrefix + owner
}

// LoadMessages returns the cached tail of a conversation. Corrupt or missing
// entries yield an empty list.
func (c *LocalCache) LoadMessages(ctx context.Context, owner, other string) []models.Message {
	raw, ok, err := c.store.Get(ctx, messageKey(owner, other))
	if err != nil || !ok {
		if err != nil {
			log.Printf("cache: load %s/%s: %v", owner, other, err)
		}
		return nil
	}
	var msgs []models.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		log.Printf("cache: discarding corrupt entry for %s/%s: %v", owner, other, err)
		return nil
	}
	for i := range msgs {
		msgs[i].Origin = models.OriginRemote
	}
	return msgs
}

// SaveMessages persists a conversation's messages, keeping only the newest
// entries up to capacity. Unconfirmed optimistic messages are not persisted.
func (c *LocalCache) SaveMessages(ctx context.Context, owner, other string, msgs []models.Message) error {
	durable := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsLocal() {
			continue
		}
		durable = append(durable, m)
	}
	if len(durable) > c.capacity {
		durable = durable[len(durable)-c.capacity:]
	}
	raw, err := json.Marshal(durable)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, messageKey(owner, other), string(raw))
}

// CachedPeers lists the other-party identities that have a cached
// conversation with the owner.
func (c *LocalCache) CachedPeers(ctx context.Context, owner string) ([]string, error) {
	keys, err := c.store.KeysWithPrefix(ctx, messageKey(owner, ""))
	if err != nil {
		return nil, err
	}
	peers := make([]string, 0, len(keys))
	for _, key := range keys {
		other := strings.TrimPrefix(key, messageKey(owner, ""))
		if other != "" {
			peers = append(peers, other)
		}
	}
	return peers, nil
}

// LastSeen loads the owner's per-conversation last-seen markers in unix
// milliseconds. A corrupt entry degrades to an empty map.
func (c *LocalCache) LastSeen(ctx context.Context, owner string) map[string]int64 {
	raw, ok, err := c.store.Get(ctx, seenKey(owner))
	if err != nil || !ok {
		return map[string]int64{}
	}
	seen := map[string]int64{}
	if err := json.Unmarshal([]byte(raw), &seen); err != nil {
		return map[string]int64{}
	}
	return seen
}

// MarkSeen records that the owner viewed the conversation with other at ts.
func (c *LocalCache) MarkSeen(ctx context.Context, owner, other string, ts int64) error {
	seen := c.LastSeen(ctx, owner)
	seen[other] = ts
	raw, err := json.Marshal(seen)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, seenKey(owner), string(raw))
}
