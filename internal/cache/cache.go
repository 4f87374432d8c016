package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/keygate/internal/dispatch"
)

// DefaultTTL bounds how long a deterministic completion stays servable
// without revalidation against the upstream.
const DefaultTTL = 5 * time.Minute

// Entry is one cached completion with its expiry metadata.
type Entry struct {
	Result    *dispatch.Result `json:"result"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Expired returns true if the entry has passed its expiration time.
func (e *Entry) Expired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Cache is an in-memory LRU of deterministic completions. Only requests
// with temperature pinned to 0 are admitted; everything else bypasses the
// cache so callers never receive a stale non-deterministic sample.
type Cache struct {
	memory  *lru.Cache[string, *Entry]
	ttl     time.Duration
	enabled bool
}

// New creates a Cache holding at most maxEntries completions. A zero or
// negative ttl falls back to DefaultTTL.
func New(maxEntries int, ttl time.Duration, enabled bool) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	memCache, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}

	return &Cache{
		memory:  memCache,
		ttl:     ttl,
		enabled: enabled,
	}, nil
}

// Enabled reports whether the cache is active.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}

// Get returns the cached result for req, or nil if the request is not
// cacheable, not present, or expired.
func (c *Cache) Get(req *dispatch.Request) *dispatch.Result {
	if !c.Enabled() || !IsCacheable(req) {
		return nil
	}

	key := requestKey(req)
	entry, ok := c.memory.Get(key)
	if !ok {
		return nil
	}
	if entry.Expired() {
		c.memory.Remove(key)
		return nil
	}

	// Copy so callers mutating telemetry fields never corrupt the entry.
	res := *entry.Result
	return &res
}

// Put stores a completed result for req. Non-cacheable requests are ignored.
func (c *Cache) Put(req *dispatch.Request, res *dispatch.Result) {
	if !c.Enabled() || !IsCacheable(req) || res == nil {
		return
	}

	stored := *res
	now := time.Now()
	c.memory.Add(requestKey(req), &Entry{
		Result:    &stored,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	})
}

// Len returns the number of live entries, counting expired ones not yet
// evicted.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.memory.Len()
}

// StartPurger starts a background goroutine that periodically evicts
// expired entries. It runs every 5 minutes until the context is cancelled.
// The returned channel is closed when the goroutine exits.
func (c *Cache) StartPurger(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error().Interface("panic", r).Msg("cache purger: recovered from panic")
						}
					}()
					c.purge()
				}()
			}
		}
	}()
	return done
}

// purge evicts expired entries from the LRU.
func (c *Cache) purge() {
	for _, key := range c.memory.Keys() {
		if entry, ok := c.memory.Peek(key); ok && entry.Expired() {
			c.memory.Remove(key)
		}
	}
}
