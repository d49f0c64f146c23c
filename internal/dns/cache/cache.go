// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cache implements the DNS response cache: a per-(name, qtype) map
// to an entry recording answers, insertion time, floor TTL, mark, and
// filter. Sharded 256 ways by key hash so concurrent queries rarely contend
// on the same lock.
package cache

import (
	"strings"
	"sync"

	"go.edgegate.dev/edgegate/internal/clock"
	"go.edgegate.dev/edgegate/internal/types"
)

const shardCount = 256

// Cache is a capacity-capped, TTL-aware map from DnsCacheKey to DnsCacheEntry.
type Cache struct {
	clk      clock.Clock
	capacity uint32
	shards   [shardCount]*shard
}

type shard struct {
	mu    sync.RWMutex
	items map[types.DnsCacheKey]types.DnsCacheEntry
}

// New returns an empty Cache sized for capacity entries, using clk to read
// the current time. Each shard holds at most capacity/256+1 entries and
// evicts an arbitrary one when full, so the total can exceed capacity by up
// to 256.
func New(capacity uint32, clk clock.Clock) *Cache {
	c := &Cache{clk: clk, capacity: capacity}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[types.DnsCacheKey]types.DnsCacheEntry)}
	}
	return c
}

func shardFor(shards *[shardCount]*shard, key types.DnsCacheKey) *shard {
	h := fnv32(key.Name) ^ uint32(key.Qtype)
	return shards[h%shardCount]
}

func fnv32(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// normalizeKey lowercases the name so lookups agree regardless of query casing.
func normalizeKey(key types.DnsCacheKey) types.DnsCacheKey {
	key.Name = strings.ToLower(key.Name)
	return key
}

// Get returns the entry for key and true, unless it is absent or has aged
// past its floor TTL — in which case it is evicted lazily and the zero value
// plus false are returned.
func (c *Cache) Get(key types.DnsCacheKey) (types.DnsCacheEntry, bool) {
	key = normalizeKey(key)
	s := shardFor(&c.shards, key)

	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return types.DnsCacheEntry{}, false
	}

	now := c.clk.Now()
	if entry.Expired(now) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return types.DnsCacheEntry{}, false
	}
	return entry, true
}

// Insert replaces the entry for key. A non-empty record set with MinTTL==0
// is rejected: it would be perpetually expired, so there's no point storing
// it. Empty (negative) entries may carry MinTTL==0.
func (c *Cache) Insert(key types.DnsCacheKey, entry types.DnsCacheEntry) {
	if len(entry.Records) > 0 && entry.MinTTL == 0 {
		return
	}
	key = normalizeKey(key)
	s := shardFor(&c.shards, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; !exists && uint32(len(s.items)) >= c.capacity/shardCount+1 {
		for k := range s.items {
			delete(s.items, k)
			break
		}
	}
	s.items[key] = entry
}

// Invalidate removes the entry for key, if any.
func (c *Cache) Invalidate(key types.DnsCacheKey) {
	key = normalizeKey(key)
	s := shardFor(&c.shards, key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Iter returns a point-in-time snapshot of every live (non-expired) entry,
// for rule-reload migration. It hands back a copy, never the live map, so
// the caller never races a concurrent Insert.
func (c *Cache) Iter() map[types.DnsCacheKey]types.DnsCacheEntry {
	now := c.clk.Now()
	out := make(map[types.DnsCacheKey]types.DnsCacheEntry)
	for _, s := range c.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !v.Expired(now) {
				out[k] = v
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// NewFromEntries builds a fresh Cache pre-populated with entries, which the
// handler's rule-reload swaps in atomically in place of the old cache.
func NewFromEntries(capacity uint32, clk clock.Clock, entries map[types.DnsCacheKey]types.DnsCacheEntry) *Cache {
	c := New(capacity, clk)
	for k, v := range entries {
		c.Insert(k, v)
	}
	return c
}

// Len reports the total number of stored entries across all shards,
// including expired entries that no Get has evicted yet.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}
