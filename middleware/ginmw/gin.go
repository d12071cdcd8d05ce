// Package ginmw provides Gin HTTP middleware and handlers for authkit.
//
// All middleware functions accept an *authkit.Client and use its interfaces
// (TokenVerifier, TokenIssuer, Authenticator, RateLimiter), with no direct
// dependency on any specific codec, cache or backend.
package ginmw

import (
	"net/http"

	"github.com/gin-gonic/gin"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/token"
)

// Context keys for storing authkit data in gin.Context.
const (
	KeySubject  = "authkit_subject"
	KeyProvider = "authkit_provider"
	KeyGroups   = "authkit_groups"
	KeyClaims   = "authkit_claims"
)

const tokenType = "Bearer"

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// LoginRequest is the JSON body accepted by LoginHandler.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Provider string `json:"provider,omitempty"`
}

// ClaimsView is the client-facing subset of claims.
type ClaimsView struct {
	Subject   string   `json:"sub"`
	Provider  string   `json:"provider"`
	Groups    []string `json:"groups"`
	ExpiresAt int64    `json:"exp"`
	IssuedAt  int64    `json:"iat"`
}

// TokenResponse is returned by LoginHandler and RefreshHandler.
type TokenResponse struct {
	Token     string     `json:"token"`
	TokenType string     `json:"token_type"`
	ExpiresIn int64      `json:"expires_in"`
	Claims    ClaimsView `json:"claims"`
}

// NewClaimsView builds the client-facing view of c.
func NewClaimsView(c *authkit.Claims) ClaimsView {
	groups := c.Groups
	if groups == nil {
		groups = []string{}
	}
	return ClaimsView{
		Subject:   c.Subject,
		Provider:  c.Provider,
		Groups:    groups,
		ExpiresAt: c.ExpiresAt,
		IssuedAt:  c.IssuedAt,
	}
}

// AuthOption configures Auth middleware behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedPaths map[string]bool
}

// WithExcludedPaths sets paths that skip authentication (e.g. health checks).
func WithExcludedPaths(paths ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

// Auth returns Gin middleware that verifies bearer tokens via client.Verifier().
// On success, it stores claims in the context (retrievable via GetSubject, GetClaims, etc.)
// and in the request context (authkit.ClaimsFromContext).
// Responds with 401 if the token is missing, invalid or expired.
func Auth(client *authkit.Client, opts ...AuthOption) gin.HandlerFunc {
	cfg := &authConfig{excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		tokenStr, err := token.ExtractBearer(c.GetHeader("Authorization"))
		if err != nil {
			abort(c, http.StatusUnauthorized, "missing_token", "missing authorization token")
			return
		}

		verifier := client.Verifier()
		if verifier == nil {
			abort(c, http.StatusInternalServerError, "internal", "token verifier not configured")
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), tokenStr)
		if err != nil {
			abortErr(c, err)
			return
		}

		c.Set(KeyClaims, claims)
		c.Set(KeySubject, claims.Subject)
		c.Set(KeyProvider, claims.Provider)
		c.Set(KeyGroups, claims.Groups)
		c.Request = c.Request.WithContext(authkit.WithClaims(c.Request.Context(), claims))

		c.Next()
	}
}

// Require returns Gin middleware that checks a guard against the claims.
// Requires Auth middleware to run first.
// Responds with 401 without claims and 403 if the guard fails.
func Require(guard authkit.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			abort(c, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		if !guard.Check(claims) {
			abortErr(c, authkit.ErrForbidden)
			return
		}
		c.Next()
	}
}

// RequireGroup is Require(authkit.RequireGroup(group)).
func RequireGroup(group string) gin.HandlerFunc {
	return Require(authkit.RequireGroup(group))
}

// RequireAnyGroup is Require(authkit.RequireAnyGroup(groups...)).
func RequireAnyGroup(groups ...string) gin.HandlerFunc {
	return Require(authkit.RequireAnyGroup(groups...))
}

// RateLimit returns Gin middleware that admits requests per client IP
// against class. Responds with 429 when the ceiling is exceeded.
// Without a configured limiter every request passes.
//
// The client IP is gin's ClientIP, so the engine must only trust real
// proxies (Engine.SetTrustedProxies). Gin trusts every peer by default,
// which lets callers pick their own key with X-Forwarded-For.
func RateLimit(client *authkit.Client, class authkit.LimitClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		c.Request = c.Request.WithContext(authkit.WithClientKey(c.Request.Context(), key))

		limiter := client.RateLimiter()
		if limiter == nil {
			c.Next()
			return
		}
		if err := limiter.Check(class, key); err != nil {
			client.Logger().Debug("rate limited", "class", class.String(), "client", key)
			c.Header("Retry-After", "1")
			abortErr(c, err)
			return
		}
		c.Next()
	}
}

// LoginHandler authenticates a LoginRequest and responds with a
// TokenResponse. Mount it behind RateLimit(client, authkit.LimitAuth).
func LoginHandler(client *authkit.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "invalid_request", "username and password are required")
			return
		}

		authn, issuer := client.Authenticator(), client.Issuer()
		if authn == nil || issuer == nil {
			abort(c, http.StatusInternalServerError, "internal", "authentication not configured")
			return
		}

		ctx := c.Request.Context()
		if authkit.ClientKeyFromContext(ctx) == "" {
			ctx = authkit.WithClientKey(ctx, c.ClientIP())
		}
		claims, err := authn.AuthenticateWith(ctx, req.Provider, req.Username, req.Password)
		if err != nil {
			abortErr(c, err)
			return
		}
		respondToken(c, client, issuer, claims)
	}
}

// RefreshHandler mints a renewed token for the authenticated caller.
// Requires Auth middleware to run first.
func RefreshHandler(client *authkit.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			abort(c, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		authn, issuer := client.Authenticator(), client.Issuer()
		if authn == nil || issuer == nil {
			abort(c, http.StatusInternalServerError, "internal", "authentication not configured")
			return
		}
		respondToken(c, client, issuer, authn.Refresh(claims))
	}
}

// MeHandler responds with the authenticated caller's claims view.
// Requires Auth middleware to run first.
func MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			abort(c, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}
		c.JSON(http.StatusOK, NewClaimsView(claims))
	}
}

func respondToken(c *gin.Context, client *authkit.Client, issuer authkit.TokenIssuer, claims *authkit.Claims) {
	tok, err := issuer.Issue(claims)
	if err != nil {
		client.Logger().Error("issue token", "subject", claims.Subject, "error", err)
		abort(c, http.StatusInternalServerError, "internal", "could not issue token")
		return
	}
	c.JSON(http.StatusOK, TokenResponse{
		Token:     tok.Value,
		TokenType: tokenType,
		ExpiresIn: tok.TTL,
		Claims:    NewClaimsView(claims),
	})
}

// --- Context helpers ---

// GetSubject returns the authenticated subject from the Gin context.
func GetSubject(c *gin.Context) string {
	return c.GetString(KeySubject)
}

// GetProvider returns the backend that authenticated the subject.
func GetProvider(c *gin.Context) string {
	return c.GetString(KeyProvider)
}

// GetGroups returns the subject's groups from the Gin context.
func GetGroups(c *gin.Context) []string {
	return c.GetStringSlice(KeyGroups)
}

// GetClaims returns the full claims from the Gin context.
func GetClaims(c *gin.Context) *authkit.Claims {
	v, _ := c.Get(KeyClaims)
	cl, _ := v.(*authkit.Claims)
	return cl
}

// --- internal helpers ---

var messages = map[string]string{
	"rate_limited":        "too many requests",
	"invalid_credentials": "invalid credentials",
	"token_expired":       "token expired",
	"invalid_token":       "invalid token",
	"forbidden":           "permission denied",
	"unknown_provider":    "unknown authentication provider",
	"timeout":             "authentication backend timed out",
}

func abortErr(c *gin.Context, err error) {
	code := authkit.ErrorCode(err)
	msg, ok := messages[code]
	if !ok {
		msg = "internal error"
	}
	abort(c, authkit.HTTPStatus(err), code, msg)
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: msg})
}
