package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/cache"
	"github.com/chimerakang/authkit-go/metrics"
)

// Decoder verifies a token string at a given time.
// *token.Codec satisfies it.
type Decoder interface {
	DecodeAt(s string, now time.Time) (*authkit.Claims, error)
}

// Validator verifies bearer tokens, serving repeats from a TokenCache.
// Concurrent misses for the same token share one decode. Failed decodes
// are never cached.
type Validator struct {
	decoder Decoder
	cache   *cache.TokenCache
	now     func() time.Time
	metrics *metrics.Metrics

	sf singleflight.Group
}

// compile-time check
var _ authkit.TokenVerifier = (*Validator)(nil)

// ValidatorOption configures the Validator.
type ValidatorOption func(*Validator)

// WithValidatorClock sets the time source for cache freshness and expiry.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// WithValidatorMetrics records validation outcomes.
func WithValidatorMetrics(m *metrics.Metrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a validator over d and c.
func NewValidator(d Decoder, c *cache.TokenCache, opts ...ValidatorOption) *Validator {
	v := &Validator{decoder: d, cache: c, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify implements authkit.TokenVerifier.
func (v *Validator) Verify(_ context.Context, token string) (*authkit.Claims, error) {
	now := v.now()
	if claims, ok := v.cache.Get(token, now); ok {
		v.metrics.RecordTokenValidation("cached")
		return claims, nil
	}

	res, err, _ := v.sf.Do(token, func() (any, error) {
		claims, err := v.decoder.DecodeAt(token, now)
		if err != nil {
			return nil, err
		}
		v.cache.Insert(token, claims, now)
		return claims, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, authkit.ErrTokenExpired):
			v.metrics.RecordTokenValidation("expired")
		default:
			v.metrics.RecordTokenValidation("invalid")
		}
		return nil, err
	}
	v.metrics.RecordTokenValidation("valid")
	return res.(*authkit.Claims), nil
}

// Invalidate drops token from the cache so the next Verify decodes it
// again.
func (v *Validator) Invalidate(token string) {
	v.cache.Remove(token)
}
