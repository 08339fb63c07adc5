// Package cache provides an in-memory content-addressed response cache so
// identical platform or LLM calls within one action run are computed once.
// Nothing survives the process: persistence and cross-runner sharing are
// explicitly out of scope.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Config holds cache configuration
type Config struct {
	// TTL is the maximum age before an entry stops being served
	TTL time.Duration
	// MaxSize bounds the number of entries; the insertion-oldest entry is
	// evicted to make room
	MaxSize int
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		TTL:     time.Hour,
		MaxSize: 100,
	}
}

// Result is a cache hit. FromCache lets collaborators report provenance in
// their own output.
type Result struct {
	Value     interface{}
	CachedAt  time.Time
	FromCache bool
}

// Stats summarizes cache effectiveness for the run report.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	HitRate float64 `json:"hit_rate"`
}

type entry struct {
	value     interface{}
	createdAt time.Time
	hitCount  int
}

// ResponseCache maps a fingerprint of (payload, namespace) to a previously
// computed result. Safe for concurrent use.
type ResponseCache struct {
	config Config

	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order, oldest first
}

// NewResponseCache creates a cache, applying defaults for unset limits.
func NewResponseCache(config Config) *ResponseCache {
	defaults := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}
	return &ResponseCache{
		config:  config,
		entries: make(map[string]*entry),
	}
}

// GenerateKey returns the deterministic fingerprint for a payload under an
// operation namespace. The same payload under different namespaces yields
// different keys.
func GenerateKey(payload, namespace string) string {
	sum := sha256.Sum256([]byte(namespace + ":" + payload))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for (payload, namespace) if present and
// fresh. A stale entry is evicted on the spot and reported as a miss.
func (c *ResponseCache) Get(payload, namespace string) (*Result, bool) {
	key := GenerateKey(payload, namespace)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.createdAt) > c.config.TTL {
		c.remove(key)
		return nil, false
	}

	e.hitCount++
	return &Result{
		Value:     e.value,
		CachedAt:  e.createdAt,
		FromCache: true,
	}, true
}

// Set stores a computed result. At capacity, the insertion-oldest entry is
// evicted first. Re-setting an existing key refreshes it in place.
func (c *ResponseCache) Set(payload, namespace string, value interface{}) {
	key := GenerateKey(payload, namespace)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.createdAt = time.Now()
		e.hitCount = 0
		return
	}

	if len(c.entries) >= c.config.MaxSize && len(c.order) > 0 {
		c.remove(c.order[0])
	}

	c.entries[key] = &entry{value: value, createdAt: time.Now()}
	c.order = append(c.order, key)
}

// Cleanup removes all expired entries and returns how many were dropped.
// Callers schedule it; the cache runs no background goroutine of its own.
func (c *ResponseCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if time.Since(e.createdAt) > c.config.TTL {
			c.remove(key)
			removed++
		}
	}
	return removed
}

// GetStats returns the current size and hit rate.
func (c *ResponseCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	totalHits := 0
	for _, e := range c.entries {
		totalHits += e.hitCount
	}

	hitRate := 0.0
	if len(c.entries) > 0 {
		hitRate = float64(totalHits) / float64(len(c.entries))
	}
	return Stats{
		Size:    len(c.entries),
		MaxSize: c.config.MaxSize,
		HitRate: hitRate,
	}
}

// Clear empties the cache unconditionally.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = nil
}

// remove deletes an entry and its insertion-order record. Caller holds mu.
func (c *ResponseCache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
