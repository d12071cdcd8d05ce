package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	authkit "github.com/chimerakang/authkit-go"
)

// DefaultName is the backend name reported by a Provider.
const DefaultName = "local"

// Provider is an authkit.CredentialBackend over a Store.
//
// Unknown users, disabled accounts and wrong passwords all fail with
// authkit.ErrInvalidCredentials, and each costs exactly one argon2id
// derivation: an unknown username is checked against a dummy hash.
type Provider struct {
	store Store
	name  string

	dummyOnce sync.Once
	dummyHash string
}

// compile-time check
var _ authkit.CredentialBackend = (*Provider)(nil)

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName overrides the backend name.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// NewProvider creates a credential backend over store.
func NewProvider(store Store, opts ...ProviderOption) *Provider {
	p := &Provider{store: store, name: DefaultName}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements authkit.CredentialBackend.
func (p *Provider) Name() string { return p.name }

// Store returns the underlying store.
func (p *Provider) Store() Store { return p.store }

func (p *Provider) dummy() string {
	p.dummyOnce.Do(func() {
		// HashPassword only fails if the system RNG does; fall back to a
		// fixed well-formed hash so the timing path still runs.
		h, err := HashPassword("authkit-dummy-password")
		if err != nil {
			h = "$argon2id$v=19$m=19456,t=2,p=1$YXV0aGtpdGR1bW15c2FsdA$6sJvsPqHITzPtX5bJ8kYcK2C4bTqj8qKJ6uXf7KXr0M"
		}
		p.dummyHash = h
	})
	return p.dummyHash
}

// Verify implements authkit.CredentialBackend.
func (p *Provider) Verify(ctx context.Context, username, password string) (*authkit.Identity, error) {
	user, err := p.store.GetUser(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		_ = VerifyPassword(password, p.dummy())
		return nil, fmt.Errorf("authkit/local: %w", authkit.ErrInvalidCredentials)
	case err != nil:
		return nil, fmt.Errorf("authkit/local: lookup: %w", err)
	}

	verifyErr := VerifyPassword(password, user.PasswordHash)
	if verifyErr != nil || !user.Enabled {
		return nil, fmt.Errorf("authkit/local: %w", authkit.ErrInvalidCredentials)
	}
	return &authkit.Identity{Subject: user.Username, Groups: user.Groups}, nil
}

// AddUser hashes password and creates an enabled account.
func (p *Provider) AddUser(ctx context.Context, username, password string, groups ...string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return p.store.CreateUser(ctx, NewUserRecord(username, hash, groups...))
}

// SetPassword replaces the password of an existing account.
func (p *Provider) SetPassword(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return p.store.UpdatePassword(ctx, username, hash)
}
