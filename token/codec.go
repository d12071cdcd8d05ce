// Package token provides the HS256 JWT codec that mints and verifies
// authkit bearer tokens.
//
// Encoded tokens carry sub, provider, groups, iat, exp and jti claims plus
// every claims attribute flattened at the top level. Decoding verifies the
// signature in constant time before any payload field is trusted, and only
// then checks expiry, so a forged token can never short-circuit into an
// "expired" answer.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	authkit "github.com/chimerakang/authkit-go"
)

// Registered claim names. Attributes using one of these keys are not
// emitted; the registered value always wins.
const (
	claimSubject   = "sub"
	claimProvider  = "provider"
	claimGroups    = "groups"
	claimIssuedAt  = "iat"
	claimExpiresAt = "exp"
	claimTokenID   = "jti"
	claimIssuer    = "iss"
)

var reserved = map[string]bool{
	claimSubject: true, claimProvider: true, claimGroups: true,
	claimIssuedAt: true, claimExpiresAt: true, claimTokenID: true,
	claimIssuer: true,
}

// Codec signs and verifies tokens with a symmetric key. The key is fixed for
// the codec's lifetime; rotating keys means building a new Codec.
// A Codec is safe for concurrent use.
type Codec struct {
	key    []byte
	issuer string
	now    func() time.Time
	logger *slog.Logger
}

// compile-time checks
var (
	_ authkit.TokenVerifier = (*Codec)(nil)
	_ authkit.TokenIssuer   = (*Codec)(nil)
)

// Option configures the Codec.
type Option func(*Codec)

// WithClock sets the time source used for expiry checks. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithIssuer stamps iss into minted tokens and requires it on decode.
func WithIssuer(iss string) Option {
	return func(c *Codec) { c.issuer = iss }
}

// WithLogger sets a structured logger. Rejection details are logged at
// debug level only.
func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) { c.logger = l }
}

// NewCodec creates a codec signing with secret. Secrets shorter than
// authkit.MinSecretLength bytes are rejected with authkit.ErrWeakSecret.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if len(secret) < authkit.MinSecretLength {
		return nil, fmt.Errorf("authkit/token: secret must be at least %d bytes: %w",
			authkit.MinSecretLength, authkit.ErrWeakSecret)
	}
	c := &Codec{
		key:    []byte(secret),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Encode serializes and signs the claims. The same claims and key always
// produce the same string.
func (c *Codec) Encode(claims *authkit.Claims) (string, error) {
	m := make(jwt.MapClaims, len(claims.Attributes)+7)
	for k, v := range claims.Attributes {
		if reserved[k] {
			continue
		}
		m[k] = v
	}
	groups := claims.Groups
	if groups == nil {
		groups = []string{}
	}
	m[claimSubject] = claims.Subject
	m[claimProvider] = claims.Provider
	m[claimGroups] = groups
	m[claimIssuedAt] = claims.IssuedAt
	m[claimExpiresAt] = claims.ExpiresAt
	m[claimTokenID] = claims.TokenID
	if c.issuer != "" {
		m[claimIssuer] = c.issuer
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, m).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("authkit/token: encode: %w", err)
	}
	return s, nil
}

// Issue encodes the claims and returns the token with its expiry metadata.
func (c *Codec) Issue(claims *authkit.Claims) (*authkit.Token, error) {
	s, err := c.Encode(claims)
	if err != nil {
		return nil, err
	}
	return &authkit.Token{
		Value:     s,
		ExpiresAt: claims.ExpiresAt,
		TTL:       claims.ExpiresAt - claims.IssuedAt,
	}, nil
}

// Decode verifies s and returns its claims, checking expiry against the
// codec clock.
//
// Malformed, forged and badly shaped tokens all fail with
// authkit.ErrInvalidToken. A correctly signed token past its expiry fails
// with authkit.ErrTokenExpired.
func (c *Codec) Decode(s string) (*authkit.Claims, error) {
	return c.DecodeAt(s, c.now())
}

// DecodeAt is Decode with an explicit current time.
func (c *Codec) DecodeAt(s string, now time.Time) (*authkit.Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithJSONNumber(),
		jwt.WithoutClaimsValidation(),
	)

	m := jwt.MapClaims{}
	tok, err := parser.ParseWithClaims(s, m, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil || !tok.Valid {
		c.logger.Debug("token rejected", "stage", "signature", "error", err)
		return nil, invalid()
	}

	claims, err := claimsFromMap(m)
	if err != nil {
		c.logger.Debug("token rejected", "stage", "shape", "error", err)
		return nil, invalid()
	}
	if c.issuer != "" {
		if iss, _ := m[claimIssuer].(string); iss != c.issuer {
			c.logger.Debug("token rejected", "stage", "issuer", "issuer", iss)
			return nil, invalid()
		}
	}

	if claims.IsExpired(now.Unix()) {
		return nil, fmt.Errorf("authkit/token: %w", authkit.ErrTokenExpired)
	}
	return claims, nil
}

// Verify implements authkit.TokenVerifier.
func (c *Codec) Verify(_ context.Context, s string) (*authkit.Claims, error) {
	return c.Decode(s)
}

func invalid() error {
	return fmt.Errorf("authkit/token: %w", authkit.ErrInvalidToken)
}

// claimsFromMap rebuilds Claims from a verified payload. Any field with an
// unexpected shape is an error.
func claimsFromMap(m jwt.MapClaims) (*authkit.Claims, error) {
	c := &authkit.Claims{}

	sub, ok := m[claimSubject].(string)
	if !ok || sub == "" {
		return nil, errors.New("sub must be a non-empty string")
	}
	c.Subject = sub

	if v, present := m[claimProvider]; present {
		p, ok := v.(string)
		if !ok {
			return nil, errors.New("provider must be a string")
		}
		c.Provider = p
	}

	if v, present := m[claimGroups]; present && v != nil {
		raw, ok := v.([]any)
		if !ok {
			return nil, errors.New("groups must be an array")
		}
		for _, g := range raw {
			s, ok := g.(string)
			if !ok {
				return nil, errors.New("groups must contain only strings")
			}
			c.Groups = append(c.Groups, s)
		}
	}

	var err error
	if c.IssuedAt, err = unixSeconds(m, claimIssuedAt); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = unixSeconds(m, claimExpiresAt); err != nil {
		return nil, err
	}

	jti, ok := m[claimTokenID].(string)
	if !ok || jti == "" {
		return nil, errors.New("jti must be a non-empty string")
	}
	c.TokenID = jti

	for k, v := range m {
		if reserved[k] {
			continue
		}
		if c.Attributes == nil {
			c.Attributes = make(map[string]any)
		}
		c.Attributes[k] = plainNumbers(v)
	}
	return c, nil
}

// unixSeconds reads an integer claim exactly. Fractions and values outside
// int64 are rejected rather than rounded.
func unixSeconds(m jwt.MapClaims, name string) (int64, error) {
	n, ok := m[name].(json.Number)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%s must be whole seconds within int64: %w", name, err)
	}
	return v, nil
}

// plainNumbers turns json.Number values inside an attribute back into
// float64, the type encoding/json gives numbers in an untyped value.
func plainNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case []any:
		for i := range t {
			t[i] = plainNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = plainNumbers(t[k])
		}
		return t
	}
	return v
}

// ExtractBearer returns the token from an Authorization header value of
// the form "Bearer <token>".
func ExtractBearer(header string) (string, error) {
	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", fmt.Errorf("authkit/token: malformed authorization header: %w", authkit.ErrInvalidToken)
	}
	return strings.TrimSpace(tok), nil
}
