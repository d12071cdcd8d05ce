// Package auth turns credentials into claims and bearer tokens into
// verified claims.
//
// The Coordinator delegates credential checks to registered
// authkit.CredentialBackend implementations and never reveals which part of
// a failed login was wrong. The Validator fronts a token codec with the
// validated-token cache.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/audit"
	"github.com/chimerakang/authkit-go/metrics"
)

// Coordinator authenticates credentials against named backends and builds
// claims for the verified principal. It holds no mutable state after
// construction and is safe for concurrent use.
type Coordinator struct {
	lifetime int64 // seconds
	backends map[string]authkit.CredentialBackend
	primary  string
	issuer   authkit.TokenIssuer
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    *audit.Logger

	// set by WithBackend, checked by NewCoordinator
	order []authkit.CredentialBackend
}

// compile-time check
var _ authkit.Authenticator = (*Coordinator)(nil)

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithBackend registers a credential backend under its Name. The first
// registered backend is the default.
func WithBackend(b authkit.CredentialBackend) Option {
	return func(c *Coordinator) { c.order = append(c.order, b) }
}

// WithIssuer sets the token issuer used by Login.
func WithIssuer(i authkit.TokenIssuer) Option {
	return func(c *Coordinator) { c.issuer = i }
}

// WithClock sets the time source for issued-at and expiry. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics records attempts and failures per provider.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithAudit emits login and refresh events.
func WithAudit(a *audit.Logger) Option {
	return func(c *Coordinator) { c.audit = a }
}

// NewCoordinator creates a coordinator minting claims valid for lifetime.
// At least one backend is required and backend names must be unique.
func NewCoordinator(lifetime time.Duration, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		lifetime: int64(lifetime / time.Second),
		backends: make(map[string]authkit.CredentialBackend),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}

	if c.lifetime <= 0 {
		return nil, fmt.Errorf("authkit/auth: token lifetime must be at least 1s: %w", authkit.ErrInvalidConfig)
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("authkit/auth: no credential backend registered: %w", authkit.ErrInvalidConfig)
	}
	for _, b := range c.order {
		name := b.Name()
		if _, dup := c.backends[name]; dup {
			return nil, fmt.Errorf("authkit/auth: duplicate backend %q: %w", name, authkit.ErrInvalidConfig)
		}
		c.backends[name] = b
	}
	c.primary = c.order[0].Name()
	c.order = nil
	return c, nil
}

// Lifetime returns the validity of minted claims.
func (c *Coordinator) Lifetime() time.Duration {
	return time.Duration(c.lifetime) * time.Second
}

// Providers returns the registered backend names, default first.
func (c *Coordinator) Providers() []string {
	names := make([]string, 0, len(c.backends))
	names = append(names, c.primary)
	for name := range c.backends {
		if name != c.primary {
			names = append(names, name)
		}
	}
	return names
}

// Authenticate verifies credentials against the default backend.
func (c *Coordinator) Authenticate(ctx context.Context, username, password string) (*authkit.Claims, error) {
	return c.AuthenticateWith(ctx, "", username, password)
}

// AuthenticateWith verifies credentials against the named backend; an
// empty provider selects the default.
//
// Every credential failure returns authkit.ErrInvalidCredentials. A
// cancelled or expired ctx is reported as the context error instead.
func (c *Coordinator) AuthenticateWith(ctx context.Context, provider, username, password string) (*authkit.Claims, error) {
	if provider == "" {
		provider = c.primary
	}
	backend, ok := c.backends[provider]
	if !ok {
		c.metrics.RecordAuthFailure(provider, "unknown_provider")
		return nil, fmt.Errorf("authkit/auth: %q: %w", provider, authkit.ErrUnknownProvider)
	}
	c.metrics.RecordAuthAttempt(provider)

	id, err := backend.Verify(ctx, username, password)
	if err == nil && (id == nil || id.Subject == "") {
		c.logger.Error("credential backend returned no subject", "provider", provider)
		err = authkit.ErrInvalidCredentials
	}
	if err != nil {
		return nil, c.fail(ctx, provider, err)
	}

	now := c.now().Unix()
	claims := authkit.NewClaims(id.Subject, provider, now+c.lifetime, now).
		WithGroups(id.Groups...).
		WithAttributes(id.Attributes)

	c.logger.Debug("authenticated", "subject", claims.Subject, "provider", provider)
	c.audit.LogContext(ctx, audit.Event{
		Action:    audit.ActionLogin,
		Result:    audit.ResultSuccess,
		Subject:   claims.Subject,
		Provider:  provider,
		TokenID:   claims.TokenID,
		ClientKey: authkit.ClientKeyFromContext(ctx),
	})
	return claims, nil
}

func (c *Coordinator) fail(ctx context.Context, provider string, err error) error {
	reason := "invalid_credentials"
	out := fmt.Errorf("authkit/auth: %w", authkit.ErrInvalidCredentials)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
		out = fmt.Errorf("authkit/auth: backend %q: %w", provider, context.DeadlineExceeded)
	case errors.Is(err, context.Canceled):
		reason = "canceled"
		out = fmt.Errorf("authkit/auth: backend %q: %w", provider, context.Canceled)
	case !errors.Is(err, authkit.ErrInvalidCredentials):
		// backend fault; detail stays in the log
		c.logger.Warn("credential backend error", "provider", provider, "error", err)
	}

	c.metrics.RecordAuthFailure(provider, reason)
	c.audit.LogContext(ctx, audit.Event{
		Action:    audit.ActionLogin,
		Result:    audit.ResultFailure,
		Provider:  provider,
		ClientKey: authkit.ClientKeyFromContext(ctx),
		Error:     reason,
	})
	return out
}

// Refresh returns claims for the same principal, issued now with a fresh
// lifetime and TokenID.
func (c *Coordinator) Refresh(claims *authkit.Claims) *authkit.Claims {
	renewed := claims.Renew(c.now().Unix(), c.lifetime)
	c.audit.Log(audit.Event{
		Action:   audit.ActionRefresh,
		Result:   audit.ResultSuccess,
		Subject:  renewed.Subject,
		Provider: renewed.Provider,
		TokenID:  renewed.TokenID,
	})
	return renewed
}

// Login authenticates and mints a token with the configured issuer.
func (c *Coordinator) Login(ctx context.Context, provider, username, password string) (*authkit.Claims, *authkit.Token, error) {
	if c.issuer == nil {
		return nil, nil, fmt.Errorf("authkit/auth: no token issuer configured: %w", authkit.ErrInvalidConfig)
	}
	claims, err := c.AuthenticateWith(ctx, provider, username, password)
	if err != nil {
		return nil, nil, err
	}
	tok, err := c.issuer.Issue(claims)
	if err != nil {
		return nil, nil, fmt.Errorf("authkit/auth: issue token: %w", err)
	}
	return claims, tok, nil
}
