// Package ratelimit provides per-client request rate limiting.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default limiter settings.
const (
	DefaultRequestsPerSecond = 10
	DefaultBurstSize         = 20
	DefaultIdleTimeout       = 10 * time.Minute
	DefaultCleanupInterval   = 5 * time.Minute
)

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond is the sustained rate per key.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// BurstSize is the maximum burst size per key.
	BurstSize int `yaml:"burst_size" json:"burst_size"`

	// IdleTimeout is how long an unused key is kept.
	IdleTimeout time.Duration `yaml:"-" json:"-"`
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.BurstSize <= 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// KeyedLimiter provides per-key rate limiting.
type KeyedLimiter struct {
	config   Config
	limiters map[string]*entry
	now      func() time.Time
	mu       sync.Mutex
	cleanup  *time.Ticker
	done     chan struct{}
	once     sync.Once
}

// Option configures a KeyedLimiter.
type Option func(*KeyedLimiter)

// WithClock sets the clock used for token accounting and eviction.
func WithClock(now func() time.Time) Option {
	return func(kl *KeyedLimiter) {
		if now != nil {
			kl.now = now
		}
	}
}

// NewKeyedLimiter creates a new keyed rate limiter. Zero config values
// select the defaults.
func NewKeyedLimiter(cfg Config, opts ...Option) *KeyedLimiter {
	kl := &KeyedLimiter{
		config:   cfg.withDefaults(),
		limiters: make(map[string]*entry),
		now:      time.Now,
		cleanup:  time.NewTicker(DefaultCleanupInterval),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(kl)
	}

	go kl.cleanupLoop()

	return kl
}

// get returns the limiter for key, creating one if necessary.
func (kl *KeyedLimiter) get(key string, now time.Time) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	e, ok := kl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(kl.config.RequestsPerSecond), kl.config.BurstSize)}
		kl.limiters[key] = e
	}
	e.lastAccess = now
	return e.limiter
}

// Allow reports whether a request for key may proceed now.
func (kl *KeyedLimiter) Allow(key string) bool {
	ok, _ := kl.Reserve(key)
	return ok
}

// Reserve reports whether a request for key may proceed now. When it may
// not, the returned duration is how long until a token is available.
func (kl *KeyedLimiter) Reserve(key string) (bool, time.Duration) {
	now := kl.now()
	r := kl.get(key, now).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// Wait blocks until a request for key is allowed or ctx is done.
func (kl *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return kl.get(key, kl.now()).Wait(ctx)
}

// Evict removes limiters idle for longer than the idle timeout and returns
// how many were removed.
func (kl *KeyedLimiter) Evict() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := kl.now()
	removed := 0
	for key, e := range kl.limiters {
		if now.Sub(e.lastAccess) > kl.config.IdleTimeout {
			delete(kl.limiters, key)
			removed++
		}
	}
	return removed
}

// cleanupLoop periodically removes inactive limiters.
func (kl *KeyedLimiter) cleanupLoop() {
	for {
		select {
		case <-kl.cleanup.C:
			kl.Evict()
		case <-kl.done:
			return
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (kl *KeyedLimiter) Close() {
	kl.once.Do(func() {
		close(kl.done)
		kl.cleanup.Stop()
	})
}

// UpdateConfig replaces the configuration. Existing limiters are cleared
// so they are recreated with the new settings on next access.
func (kl *KeyedLimiter) UpdateConfig(cfg Config) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	kl.config = cfg.withDefaults()
	kl.limiters = make(map[string]*entry)
}

// Stats returns statistics about the keyed limiter.
func (kl *KeyedLimiter) Stats() KeyedLimiterStats {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	return KeyedLimiterStats{
		ActiveLimiters: len(kl.limiters),
		Config:         kl.config,
	}
}

// KeyedLimiterStats holds statistics about a keyed limiter.
type KeyedLimiterStats struct {
	ActiveLimiters int    `json:"active_limiters"`
	Config         Config `json:"config"`
}
