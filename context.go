package authkit

import "context"

type ctxKey string

const (
	ctxKeyClaims    ctxKey = "authkit_claims"
	ctxKeyClientKey ctxKey = "authkit_client_key"
)

// WithClaims stores verified claims in the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// ClaimsFromContext extracts verified claims from the context, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	v, _ := ctx.Value(ctxKeyClaims).(*Claims)
	return v
}

// SubjectFromContext returns the subject of the verified claims, or "".
func SubjectFromContext(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.Subject
	}
	return ""
}

// WithClientKey stores the rate-limit client key (usually the remote
// address) in the context.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKeyClientKey, key)
}

// ClientKeyFromContext extracts the client key from the context.
func ClientKeyFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyClientKey).(string)
	return v
}
