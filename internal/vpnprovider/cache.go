package vpnprovider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default TTLs for cached upstream data.
const (
	DefaultCatalogTTL = time.Hour   // countries, technologies
	DefaultListingTTL = time.Minute // server listings, recommendations
)

// CacheResult labels a cache lookup outcome.
type CacheResult string

const (
	CacheHit    CacheResult = "hit"
	CacheMiss   CacheResult = "miss"
	CacheShared CacheResult = "shared" // joined an in-flight load
)

// CacheObserver is notified of every GetOrLoad outcome.
type CacheObserver func(cache string, result CacheResult)

// CacheOption configures a TTLCache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	now      func() time.Time
	observer CacheObserver
}

// WithCacheClock sets the clock used for expiry.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(o *cacheOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCacheObserver sets a callback for hit/miss accounting.
func WithCacheObserver(fn CacheObserver) CacheOption {
	return func(o *cacheOptions) {
		o.observer = fn
	}
}

type cacheEntry[V any] struct {
	value   V
	expires time.Time
}

// TTLCache is a keyed cache with a fixed time-to-live. Concurrent misses on
// the same key share a single load. Cached values are shared between callers
// and must be treated as read-only.
type TTLCache[V any] struct {
	name    string
	ttl     time.Duration
	entries map[string]cacheEntry[V]
	group   singleflight.Group
	opts    cacheOptions
	mu      sync.RWMutex
}

// NewTTLCache creates a cache. A non-positive ttl falls back to DefaultListingTTL.
func NewTTLCache[V any](name string, ttl time.Duration, opts ...CacheOption) *TTLCache[V] {
	if ttl <= 0 {
		ttl = DefaultListingTTL
	}
	o := cacheOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[V]{
		name:    name,
		ttl:     ttl,
		entries: make(map[string]cacheEntry[V]),
		opts:    o,
	}
}

// Name returns the cache name used in metrics.
func (c *TTLCache[V]) Name() string {
	return c.name
}

// TTL returns the cache time-to-live.
func (c *TTLCache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached value for key if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if !c.opts.now().Before(e.expires) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, ok := c.entries[key]; ok && !c.opts.now().Before(cur.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for one TTL.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[V]{value: value, expires: c.opts.now().Add(c.ttl)}
}

// GetOrLoad returns the cached value for key, calling load on a miss. When
// refresh is true the cached value is ignored and replaced. Failed loads are
// not cached.
//
// The shared load runs detached from the cancellation of the caller that
// started it, so load must bound itself. Each caller stops waiting when its
// own ctx is done.
func (c *TTLCache[V]) GetOrLoad(ctx context.Context, key string, refresh bool, load func(context.Context) (V, error)) (V, error) {
	if !refresh {
		if v, ok := c.Get(key); ok {
			c.observe(CacheHit)
			return v, nil
		}
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		value, err := load(loadCtx)
		if err != nil {
			return value, err
		}
		c.Set(key, value)
		return value, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.observe(CacheShared)
		} else {
			c.observe(CacheMiss)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Invalidate drops the entry for key.
func (c *TTLCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge removes every expired entry and returns how many were removed.
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear empties the cache.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry[V])
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TTLCache[V]) observe(result CacheResult) {
	if c.opts.observer != nil {
		c.opts.observer(c.name, result)
	}
}
