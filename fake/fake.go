// Package fake provides in-memory implementations of all authkit interfaces for testing.
//
// Use fake.NewClient() in unit tests to avoid real signing keys, password
// hashing and clocks. Use fake.NewBackend() to drive an auth.Coordinator
// with scripted credential outcomes.
package fake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	authkit "github.com/chimerakang/authkit-go"
)

// Provider is the name of the fake backend unless WithName overrides it.
const Provider = "fake"

// Option configures the fake state.
type Option func(*state)

type userEntry struct {
	password string
	identity authkit.Identity
}

type state struct {
	mu        sync.RWMutex
	name      string
	users     map[string]*userEntry // username → entry
	delay     time.Duration
	err       error
	lifetime  time.Duration
	rateLimit int
	calls     atomic.Int64
}

func newState(opts []Option) *state {
	s := &state{
		name:     Provider,
		users:    make(map[string]*userEntry),
		lifetime: time.Hour,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithUser adds a fake user. The subject is the username.
func WithUser(username, password string, groups ...string) Option {
	return func(s *state) {
		s.users[username] = &userEntry{
			password: password,
			identity: authkit.Identity{Subject: username, Groups: groups},
		}
	}
}

// WithAttributes attaches attributes to an already added user.
func WithAttributes(username string, attrs map[string]any) Option {
	return func(s *state) {
		if u, ok := s.users[username]; ok {
			u.identity.Attributes = attrs
		}
	}
}

// WithName sets the backend name reported by Name.
func WithName(name string) Option {
	return func(s *state) { s.name = name }
}

// WithDelay makes every Verify wait for d or until ctx is done.
func WithDelay(d time.Duration) Option {
	return func(s *state) { s.delay = d }
}

// WithError makes every Verify fail with err.
func WithError(err error) Option {
	return func(s *state) { s.err = err }
}

// WithLifetime sets the lifetime of claims minted by the fake client.
func WithLifetime(d time.Duration) Option {
	return func(s *state) { s.lifetime = d }
}

// WithRateLimit sets how many checks per key and class the fake limiter
// admits in total. Zero admits everything.
func WithRateLimit(n int) Option {
	return func(s *state) { s.rateLimit = n }
}

// NewClient creates an *authkit.Client with all services wired to in-memory fakes.
//
// The fake verifier accepts any token string naming a registered user, and
// the fake issuer returns the subject as the token value, so a login
// round-trips through Verify.
func NewClient(opts ...Option) *authkit.Client {
	s := newState(opts)

	c, _ := authkit.NewClient(
		authkit.Config{Secret: "fake-secret-0123456789"},
		authkit.WithTokenVerifier(&fakeVerifier{s: s}),
		authkit.WithTokenIssuer(fakeIssuer{}),
		authkit.WithAuthenticator(&fakeAuthenticator{b: &Backend{s: s}}),
		authkit.WithRateLimiter(&fakeLimiter{s: s, counts: make(map[string]int)}),
	)
	return c
}

// --- CredentialBackend ---

// Backend is a scripted authkit.CredentialBackend.
type Backend struct{ s *state }

// compile-time check
var _ authkit.CredentialBackend = (*Backend)(nil)

// NewBackend creates a fake credential backend.
func NewBackend(opts ...Option) *Backend {
	return &Backend{s: newState(opts)}
}

// Name implements authkit.CredentialBackend.
func (b *Backend) Name() string { return b.s.name }

// Calls returns how many times Verify was invoked.
func (b *Backend) Calls() int { return int(b.s.calls.Load()) }

// Verify implements authkit.CredentialBackend.
func (b *Backend) Verify(ctx context.Context, username, password string) (*authkit.Identity, error) {
	b.s.calls.Add(1)
	if b.s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.s.delay):
		}
	}
	if b.s.err != nil {
		return nil, b.s.err
	}

	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	u, ok := b.s.users[username]
	if !ok || u.password != password {
		return nil, fmt.Errorf("authkit/fake: %w", authkit.ErrInvalidCredentials)
	}
	id := u.identity
	return &id, nil
}

// --- Authenticator ---

type fakeAuthenticator struct{ b *Backend }

func (f *fakeAuthenticator) Authenticate(ctx context.Context, username, password string) (*authkit.Claims, error) {
	return f.AuthenticateWith(ctx, "", username, password)
}

func (f *fakeAuthenticator) AuthenticateWith(ctx context.Context, provider, username, password string) (*authkit.Claims, error) {
	if provider != "" && provider != f.b.Name() {
		return nil, fmt.Errorf("authkit/fake: %q: %w", provider, authkit.ErrUnknownProvider)
	}
	id, err := f.b.Verify(ctx, username, password)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	return authkit.NewClaims(id.Subject, f.b.Name(), now+int64(f.b.s.lifetime/time.Second), now).
		WithGroups(id.Groups...).
		WithAttributes(id.Attributes), nil
}

func (f *fakeAuthenticator) Refresh(c *authkit.Claims) *authkit.Claims {
	return c.Renew(time.Now().Unix(), int64(f.b.s.lifetime/time.Second))
}

// --- TokenVerifier ---

type fakeVerifier struct{ s *state }

func (f *fakeVerifier) Verify(_ context.Context, token string) (*authkit.Claims, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()

	// Treat the token string as a username for simplicity
	u, ok := f.s.users[token]
	if !ok {
		return nil, fmt.Errorf("authkit/fake: unknown token %q: %w", token, authkit.ErrInvalidToken)
	}
	now := time.Now().Unix()
	return authkit.NewClaims(u.identity.Subject, f.s.name, now+int64(f.s.lifetime/time.Second), now).
		WithGroups(u.identity.Groups...).
		WithAttributes(u.identity.Attributes), nil
}

// --- TokenIssuer ---

type fakeIssuer struct{}

func (fakeIssuer) Issue(c *authkit.Claims) (*authkit.Token, error) {
	return &authkit.Token{
		Value:     c.Subject,
		ExpiresAt: c.ExpiresAt,
		TTL:       c.ExpiresAt - c.IssuedAt,
	}, nil
}

// --- RateLimiter ---

type fakeLimiter struct {
	s      *state
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakeLimiter) Check(class authkit.LimitClass, key string) error {
	if f.s.rateLimit <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	k := class.String() + "/" + key
	if f.counts[k] >= f.s.rateLimit {
		return fmt.Errorf("authkit/fake: %w", authkit.ErrRateLimited)
	}
	f.counts[k]++
	return nil
}
