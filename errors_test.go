package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{nil, http.StatusOK, "internal"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
		{ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
		{ErrForbidden, http.StatusForbidden, "forbidden"},
		{ErrUnknownProvider, http.StatusBadRequest, "unknown_provider"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{ErrInvalidConfig, http.StatusInternalServerError, "internal"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		wrapped := tt.err
		if tt.err != nil {
			wrapped = fmt.Errorf("authkit/test: %w", tt.err)
		}
		if got := HTTPStatus(wrapped); got != tt.status {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.status)
		}
		if tt.err == nil {
			continue
		}
		if got := ErrorCode(wrapped); got != tt.code {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}
}

func TestIsTokenError(t *testing.T) {
	if !IsTokenError(fmt.Errorf("x: %w", ErrInvalidToken)) || !IsTokenError(ErrTokenExpired) {
		t.Error("IsTokenError = false for a token error")
	}
	if IsTokenError(ErrInvalidCredentials) || IsTokenError(ErrRateLimited) {
		t.Error("IsTokenError = true for a non-token error")
	}
}

func TestRateLimitedIsNotAuthFailure(t *testing.T) {
	err := fmt.Errorf("authkit/ratelimit: %w", ErrRateLimited)
	if errors.Is(err, ErrInvalidCredentials) || IsTokenError(err) {
		t.Error("rate limit error matches an authentication error kind")
	}
}
