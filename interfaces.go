package authkit

import "context"

// TokenVerifier verifies bearer tokens and extracts claims.
// Implementations: token/ (signature only), auth/ (cache in front of a codec), fake/.
type TokenVerifier interface {
	// Verify validates the token and returns the extracted claims.
	Verify(ctx context.Context, token string) (*Claims, error)
}

// TokenIssuer mints bearer tokens for claims.
type TokenIssuer interface {
	// Issue encodes and signs the claims.
	Issue(claims *Claims) (*Token, error)
}

// CredentialBackend verifies a username/password pair.
// Implementations: backend/local, fake/.
//
// A backend must not reveal through its error which part of the
// credentials was wrong; callers only learn that verification failed.
type CredentialBackend interface {
	// Name identifies the backend, e.g. "local" or "directory". It becomes
	// the Provider of the resulting claims.
	Name() string

	// Verify checks the credentials. It may block on I/O and must honour ctx.
	Verify(ctx context.Context, username, password string) (*Identity, error)
}

// Authenticator turns credentials into claims.
type Authenticator interface {
	// Authenticate verifies credentials against the default backend.
	Authenticate(ctx context.Context, username, password string) (*Claims, error)

	// AuthenticateWith verifies credentials against the named backend.
	// An empty provider selects the default backend.
	AuthenticateWith(ctx context.Context, provider, username, password string) (*Claims, error)

	// Refresh returns renewed claims for the same principal.
	Refresh(claims *Claims) *Claims
}

// RateLimiter admits or rejects requests per client key.
type RateLimiter interface {
	// Check returns nil if the request is admitted, or an error wrapping
	// ErrRateLimited.
	Check(class LimitClass, key string) error
}
