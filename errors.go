package authkit

import (
	"context"
	"errors"
	"net/http"
)

// Error kinds surfaced by the toolkit. Compare with errors.Is; packages wrap
// these with their own prefix.
var (
	// ErrInvalidCredentials covers wrong passwords, unknown users and
	// disabled accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for malformed, forged or unverifiable tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a correctly signed token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrRateLimited is returned when a request exceeds its rate ceiling.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrForbidden is returned when authenticated claims fail a guard.
	ErrForbidden = errors.New("forbidden")

	// ErrUnknownProvider is returned when a login names a backend that is
	// not registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrWeakSecret is returned at construction for a signing secret below
	// the minimum length.
	ErrWeakSecret = errors.New("signing secret too short")

	// ErrInvalidConfig is returned at construction for unusable settings.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// IsTokenError reports whether err means the presented token is unusable.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired)
}

// HTTPStatus maps an error returned by the toolkit to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrInvalidCredentials), IsTokenError(err):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns a stable machine-readable code for err, suitable for
// API error bodies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
