// Package cache holds the experiment-completion cache: completed runs
// keyed by (version, input) content hashes, with TTL/LRU bounds and a
// single-flight guarantee so one build per key is in flight at a time.
package cache

import (
	"sync"
	"time"

	"github.com/anotherai/gateway/internal/domain"
)

// CompletionCache caches finished AgentCompletions per (version, input)
// pair.
type CompletionCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	flights map[string]chan struct{}
	ttl     time.Duration
	maxSize int
}

type entry struct {
	completion *domain.AgentCompletion
	storedAt   int64 // unix millis
}

// CompletionCacheOptions configures the cache. A zero TTL means entries
// never expire; a zero MaxSize disables caching entirely.
type CompletionCacheOptions struct {
	TTL     time.Duration
	MaxSize int
}

// NewCompletionCache creates a cache.
func NewCompletionCache(opts CompletionCacheOptions) *CompletionCache {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	maxSize := opts.MaxSize
	if maxSize < 0 {
		maxSize = 0
	}
	return &CompletionCache{
		entries: make(map[string]*entry),
		flights: make(map[string]chan struct{}),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Key derives the cache key for a (version, input) pair.
func Key(versionID, inputID string) string {
	return versionID + "/" + inputID
}

// Get returns the cached completion for key, if present and unexpired.
func (c *CompletionCache) Get(key string) (*domain.AgentCompletion, bool) {
	return c.getAt(key, time.Now())
}

func (c *CompletionCache) getAt(key string, now time.Time) (*domain.AgentCompletion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && now.UnixMilli()-e.storedAt >= c.ttl.Milliseconds() {
		delete(c.entries, key)
		return nil, false
	}
	return e.completion, true
}

// Put stores a completion under key.
func (c *CompletionCache) Put(key string, completion *domain.AgentCompletion) {
	c.putAt(key, completion, time.Now())
}

func (c *CompletionCache) putAt(key string, completion *domain.AgentCompletion, now time.Time) {
	if c.maxSize <= 0 || key == "" || completion == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{completion: completion, storedAt: now.UnixMilli()}
	c.prune(now.UnixMilli())
}

func (c *CompletionCache) prune(nowUnix int64) {
	if c.ttl > 0 {
		cutoff := nowUnix - c.ttl.Milliseconds()
		for key, e := range c.entries {
			if e.storedAt < cutoff {
				delete(c.entries, key)
			}
		}
	}
	for len(c.entries) > c.maxSize {
		var oldestKey string
		var oldestTs int64 = int64(^uint64(0) >> 1)
		for k, e := range c.entries {
			if e.storedAt < oldestTs {
				oldestTs = e.storedAt
				oldestKey = k
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.entries, oldestKey)
	}
}

// GetOrBuild returns the cached completion for key, or runs build to
// produce it. Concurrent callers for the same key wait for the first
// builder instead of duplicating the run (single-flight); a failed build
// caches nothing, so the next caller retries.
func (c *CompletionCache) GetOrBuild(key string, build func() (*domain.AgentCompletion, error)) (*domain.AgentCompletion, error) {
	for {
		if completion, ok := c.Get(key); ok {
			return completion, nil
		}

		c.mu.Lock()
		if flight, inFlight := c.flights[key]; inFlight {
			c.mu.Unlock()
			<-flight
			// The builder finished: either the entry is there now, or it
			// failed and this caller becomes the next builder.
			if completion, ok := c.Get(key); ok {
				return completion, nil
			}
			continue
		}
		flight := make(chan struct{})
		c.flights[key] = flight
		c.mu.Unlock()

		completion, err := build()

		c.mu.Lock()
		delete(c.flights, key)
		c.mu.Unlock()
		if err == nil {
			c.Put(key, completion)
		}
		close(flight)
		return completion, err
	}
}

// Size returns the current number of cached entries.
func (c *CompletionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *CompletionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}
