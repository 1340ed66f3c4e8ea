package rules

import (
	"sync"
	"time"
)

// RulesCache caches the rule records of a single tenant so reads don't go to
// the store on every request
type RulesCache interface {
	// Get returns the cached records, or nil on a miss or after expiry
	Get() []*RuleRecord

	// Set replaces the cached records
	Set(records []*RuleRecord)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if the cache holds unexpired data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Zero means entries live until invalidated.
	TTL time.Duration
}

// DefaultCacheConfig invalidates only on mutation
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// InMemoryRulesCache is a RulesCache held in process memory
type InMemoryRulesCache struct {
	records  []*RuleRecord
	cachedAt time.Time
	config   CacheConfig
	valid    bool
	now      func() time.Time
	mu       sync.RWMutex
}

// NewInMemoryRulesCache creates an empty cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		config: config,
		now:    time.Now,
	}
}

// Get returns a copy of the cached records
func (c *InMemoryRulesCache) Get() []*RuleRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.freshLocked() {
		return nil
	}
	out := make([]*RuleRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Set stores a copy of records
func (c *InMemoryRulesCache) Set(records []*RuleRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make([]*RuleRecord, len(records))
	copy(c.records, records)
	c.cachedAt = c.now()
	c.valid = true
}

// Invalidate drops the cached records
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.records = nil
}

// IsValid reports whether Get would hit
func (c *InMemoryRulesCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freshLocked()
}

func (c *InMemoryRulesCache) freshLocked() bool {
	if !c.valid {
		return false
	}
	if c.config.TTL > 0 {
		return c.now().Sub(c.cachedAt) <= c.config.TTL
	}
	return true
}
