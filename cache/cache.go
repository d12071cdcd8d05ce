// Package cache holds validated token claims so repeated requests with the
// same bearer token skip signature verification.
//
// An entry is served while both hold:
//
//	now <= insertedAt + ttl
//	now <  claims.ExpiresAt
//
// The TTL bounds staleness independently of the token's own expiry, and a
// cached entry is never returned for a token that has expired even if the
// TTL has not elapsed.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/metrics"
)

type entry struct {
	claims     *authkit.Claims
	insertedAt int64 // unix seconds
}

// TokenCache maps raw token strings to verified claims. It is safe for
// concurrent use.
type TokenCache struct {
	mu      sync.Mutex
	lru     *lru.Cache
	ttl     int64 // seconds
	metrics *metrics.Metrics
}

// Option configures a TokenCache.
type Option func(*TokenCache)

// WithMaxEntries bounds the cache; the least recently used entry is
// evicted when full. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *TokenCache) { c.lru.MaxEntries = n }
}

// WithMetrics records hits, misses and size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *TokenCache) { c.metrics = m }
}

// New creates a cache whose entries stay fresh for ttl after insertion.
// The TTL is truncated to whole seconds.
func New(ttl time.Duration, opts ...Option) *TokenCache {
	c := &TokenCache{
		lru: lru.New(authkit.DefaultCacheMaxEntries),
		ttl: int64(ttl / time.Second),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the configured freshness window.
func (c *TokenCache) TTL() time.Duration {
	return time.Duration(c.ttl) * time.Second
}

// Get returns the cached claims for token, or false if the entry is
// absent, stale or expired. Stale and expired entries are removed.
func (c *TokenCache) Get(token string, now time.Time) (*authkit.Claims, bool) {
	unix := now.Unix()

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(token)
	if !ok {
		c.metrics.RecordCacheMiss()
		return nil, false
	}
	e := v.(entry)
	if !c.fresh(e, unix) {
		c.lru.Remove(token)
		c.metrics.RecordCacheMiss()
		c.metrics.SetCacheSize(c.lru.Len())
		return nil, false
	}
	c.metrics.RecordCacheHit()
	return e.claims, true
}

// Insert stores claims for token, replacing any previous entry.
func (c *TokenCache) Insert(token string, claims *authkit.Claims, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(token, entry{claims: claims, insertedAt: now.Unix()})
	c.metrics.SetCacheSize(c.lru.Len())
}

// Remove drops the entry for token, if any.
func (c *TokenCache) Remove(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(token)
	c.metrics.SetCacheSize(c.lru.Len())
}

// Clear drops every entry.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Clear()
	c.metrics.SetCacheSize(0)
}

// Len returns the number of entries, including ones not yet swept.
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep removes every stale or expired entry and returns how many were
// dropped. Surviving entries keep their recency order.
func (c *TokenCache) Sweep(now time.Time) int {
	unix := now.Unix()

	c.mu.Lock()
	defer c.mu.Unlock()

	// groupcache/lru has no iterator; drain oldest first and re-add survivors.
	type kept struct {
		key lru.Key
		e   entry
	}
	var survivors []kept
	dropped := 0
	c.lru.OnEvicted = func(key lru.Key, value any) {
		if e := value.(entry); c.fresh(e, unix) {
			survivors = append(survivors, kept{key, e})
			return
		}
		dropped++
	}
	for c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
	c.lru.OnEvicted = nil
	for _, k := range survivors {
		c.lru.Add(k.key, k.e)
	}

	c.metrics.SetCacheSize(c.lru.Len())
	return dropped
}

// Run calls Sweep every interval until ctx is done.
func (c *TokenCache) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}

func (c *TokenCache) fresh(e entry, now int64) bool {
	return now <= e.insertedAt+c.ttl && !e.claims.IsExpired(now)
}
