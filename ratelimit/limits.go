package ratelimit

import (
	"context"
	"fmt"
	"time"

	authkit "github.com/chimerakang/authkit-go"
)

// Limits pairs the general ceiling with the stricter authentication
// ceiling. The two classes count independently.
type Limits struct {
	general *Limiter
	auth    *Limiter
}

var _ authkit.RateLimiter = (*Limits)(nil)

// NewLimits creates both limiters. opts apply to each; names are set to
// the class names after opts so metrics stay distinguishable.
func NewLimits(general, auth int, opts ...Option) *Limits {
	return &Limits{
		general: New(general, append(opts, WithName(authkit.LimitGeneral.String()))...),
		auth:    New(auth, append(opts, WithName(authkit.LimitAuth.String()))...),
	}
}

// Check admits or rejects one request from key against class.
func (l *Limits) Check(class authkit.LimitClass, key string) error {
	switch class {
	case authkit.LimitGeneral:
		return l.general.Check(key)
	case authkit.LimitAuth:
		return l.auth.Check(key)
	default:
		return fmt.Errorf("authkit/ratelimit: unknown limit class %d: %w", int(class), authkit.ErrInvalidConfig)
	}
}

// General returns the limiter for all traffic.
func (l *Limits) General() *Limiter { return l.general }

// Auth returns the limiter for authentication routes.
func (l *Limits) Auth() *Limiter { return l.auth }

// Run sweeps both limiters every interval until ctx is done.
func (l *Limits) Run(ctx context.Context, every time.Duration) {
	go l.general.Run(ctx, every)
	l.auth.Run(ctx, every)
}
