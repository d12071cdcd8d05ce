// Package authkit is a toolkit for issuing and validating signed session
// tokens, authenticating credentials against pluggable backends, caching
// validated tokens and enforcing per-client request-rate ceilings.
//
// The root package holds the claims model, the error kinds and the
// interfaces; concrete implementations live in subpackages and are injected
// into a Client via Option functions:
//
//	codec, err := token.NewCodec(cfg.Secret)
//	coord, err := auth.NewCoordinator(cfg.TokenLifetime, auth.WithBackend(local.NewProvider(store)))
//	client, err := authkit.NewClient(cfg,
//	    authkit.WithTokenVerifier(auth.NewValidator(codec, cache.New(cfg.CacheTTL))),
//	    authkit.WithTokenIssuer(codec),
//	    authkit.WithAuthenticator(coord),
//	    authkit.WithRateLimiter(ratelimit.NewLimits(cfg.GeneralRateLimit, cfg.AuthRateLimit)),
//	)
package authkit

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

const (
	// MinSecretLength is the shortest accepted signing secret, in bytes.
	MinSecretLength = 16

	// DefaultTokenLifetime is how long minted tokens stay valid.
	DefaultTokenLifetime = 24 * time.Hour

	// DefaultCacheTTL is how long a validated token is served from cache.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheMaxEntries bounds the validated-token cache.
	DefaultCacheMaxEntries = 10000

	// DefaultGeneralRateLimit is the general per-client ceiling, requests/second.
	DefaultGeneralRateLimit = 100

	// DefaultAuthRateLimit is the authentication-route ceiling, requests/second.
	DefaultAuthRateLimit = 5
)

// Config holds already-parsed settings. The toolkit never reads files or
// environment variables itself; see the config package for a loader.
type Config struct {
	// Secret is the HMAC signing key. At least MinSecretLength bytes.
	Secret string

	// Issuer, when set, is stamped into tokens and required on decode.
	Issuer string

	// TokenLifetime is the validity of minted tokens. Default: 24h.
	TokenLifetime time.Duration

	// CacheTTL bounds how long a validated token is served without
	// re-verification. Default: 5 minutes.
	CacheTTL time.Duration

	// CacheMaxEntries bounds the number of cached tokens. Default: 10000.
	CacheMaxEntries int

	// GeneralRateLimit is requests/second per client for all traffic.
	GeneralRateLimit int

	// AuthRateLimit is requests/second per client on authentication routes.
	AuthRateLimit int
}

// WithDefaults returns a copy of cfg with zero values replaced by defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.TokenLifetime == 0 {
		cfg.TokenLifetime = DefaultTokenLifetime
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheMaxEntries == 0 {
		cfg.CacheMaxEntries = DefaultCacheMaxEntries
	}
	if cfg.GeneralRateLimit == 0 {
		cfg.GeneralRateLimit = DefaultGeneralRateLimit
	}
	if cfg.AuthRateLimit == 0 {
		cfg.AuthRateLimit = DefaultAuthRateLimit
	}
	return cfg
}

// Validate reports the first unusable setting.
func (cfg Config) Validate() error {
	if len(cfg.Secret) < MinSecretLength {
		return fmt.Errorf("authkit: secret must be at least %d bytes: %w", MinSecretLength, ErrWeakSecret)
	}
	if cfg.TokenLifetime < time.Second {
		return fmt.Errorf("authkit: token lifetime must be at least 1s: %w", ErrInvalidConfig)
	}
	if cfg.CacheTTL < 0 {
		return fmt.Errorf("authkit: cache TTL must not be negative: %w", ErrInvalidConfig)
	}
	if cfg.CacheMaxEntries < 0 {
		return fmt.Errorf("authkit: cache size must not be negative: %w", ErrInvalidConfig)
	}
	return nil
}

// Client is the explicit context object handed to integration layers.
// It is built once at startup; nothing in the toolkit reaches for a global.
type Client struct {
	config   Config
	logger   *slog.Logger
	verifier TokenVerifier
	issuer   TokenIssuer
	authn    Authenticator
	limiter  RateLimiter
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenVerifier sets the token verification implementation.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(c *Client) { c.verifier = v }
}

// WithTokenIssuer sets the token minting implementation.
func WithTokenIssuer(i TokenIssuer) Option {
	return func(c *Client) { c.issuer = i }
}

// WithAuthenticator sets the credential authentication implementation.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) { c.authn = a }
}

// WithRateLimiter sets the admission control implementation.
func WithRateLimiter(l RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient validates cfg, applies defaults and returns a Client with the
// given services injected.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Config returns the client configuration with defaults applied.
func (c *Client) Config() Config { return c.config }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Verifier returns the token verifier, or nil if not configured.
func (c *Client) Verifier() TokenVerifier { return c.verifier }

// Issuer returns the token issuer, or nil if not configured.
func (c *Client) Issuer() TokenIssuer { return c.issuer }

// Authenticator returns the authenticator, or nil if not configured.
func (c *Client) Authenticator() Authenticator { return c.authn }

// RateLimiter returns the rate limiter, or nil if not configured.
func (c *Client) RateLimiter() RateLimiter { return c.limiter }

// Close releases all resources held by the client.
// Any injected service that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []any{c.verifier, c.issuer, c.authn, c.limiter}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
