// Package ratelimit implements per-client admission control.
//
// Each client key owns a token bucket that holds at most the configured
// ceiling and refills at ceiling tokens per second. A check consumes one
// token or is rejected; nothing queues and nothing blocks.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/metrics"
)

// DefaultIdleTTL is how long an unused key is kept before Sweep drops it.
const DefaultIdleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed bool
	// Limit is the ceiling in requests per second.
	Limit int
	// Remaining is the whole number of requests still available right now.
	Remaining int
	// RetryAfter is how long until one more request would be admitted.
	// Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter enforces one ceiling across many client keys. It is safe for
// concurrent use.
type Limiter struct {
	perSecond int
	name      string
	idleTTL   time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics

	mu      sync.Mutex
	buckets map[string]*bucket
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source used by Check. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithIdleTTL sets how long an idle key survives a Sweep.
func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = d }
}

// WithMetrics records every decision.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithName sets the limiter label used in metrics and errors.
func WithName(name string) Option {
	return func(l *Limiter) { l.name = name }
}

// New creates a limiter admitting perSecond requests per second per key.
// A ceiling of zero or less disables limiting.
func New(perSecond int, opts ...Option) *Limiter {
	l := &Limiter{
		perSecond: perSecond,
		name:      "default",
		idleTTL:   DefaultIdleTTL,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Limit returns the configured ceiling.
func (l *Limiter) Limit() int { return l.perSecond }

// Check admits or rejects one request from key at the limiter clock.
// A rejection wraps authkit.ErrRateLimited.
func (l *Limiter) Check(key string) error {
	if d := l.Decide(key, l.now()); !d.Allowed {
		return fmt.Errorf("authkit/ratelimit: %s: %w", l.name, authkit.ErrRateLimited)
	}
	return nil
}

// Decide admits or rejects one request from key at now.
func (l *Limiter) Decide(key string, now time.Time) Decision {
	if l.perSecond <= 0 {
		return Decision{Allowed: true, Limit: l.perSecond}
	}

	b := l.bucket(key, now)
	d := Decision{Limit: l.perSecond}

	// rate.Limiter is itself synchronized; the map lock is not held here.
	if b.limiter.AllowN(now, 1) {
		d.Allowed = true
	} else {
		d.RetryAfter = retryAfter(b.limiter.TokensAt(now), l.perSecond)
	}
	d.Remaining = int(math.Max(0, math.Floor(b.limiter.TokensAt(now))))

	l.metrics.RecordRateLimit(l.name, d.Allowed)
	return d
}

func (l *Limiter) bucket(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.perSecond), l.perSecond)}
		l.buckets[key] = b
	}
	if now.After(b.lastSeen) {
		b.lastSeen = now
	}
	return b
}

func retryAfter(tokens float64, perSecond int) time.Duration {
	missing := 1 - tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(missing / float64(perSecond) * float64(time.Second)))
}

// Reset forgets every key; all clients start again with a full allowance.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.buckets)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Sweep drops keys not seen for longer than the idle TTL and returns how
// many were removed. A dropped key that reappears starts with a full bucket.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Run calls Sweep every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(l.now())
		}
	}
}
