// Package grpcmw provides gRPC server interceptors for authkit.
//
// All interceptors accept an *authkit.Client and use its interfaces
// (TokenVerifier, RateLimiter), with no direct dependency on any specific
// codec, cache or backend.
package grpcmw

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/token"
)

// AuthOption configures auth interceptor behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedMethods map[string]bool
}

// WithExcludedMethods sets gRPC methods that skip authentication.
// Methods should be fully qualified (e.g. "/package.Service/Method").
func WithExcludedMethods(methods ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, m := range methods {
			cfg.excludedMethods[m] = true
		}
	}
}

func newAuthConfig(opts []AuthOption) *authConfig {
	cfg := &authConfig{excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// UnaryAuth returns a gRPC unary server interceptor that verifies bearer tokens.
// On success, it stores claims in the context via authkit.WithClaims.
func UnaryAuth(client *authkit.Client, opts ...AuthOption) grpc.UnaryServerInterceptor {
	cfg := newAuthConfig(opts)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		ctx, err := authenticate(ctx, client)
		if err != nil {
			return nil, err
		}

		return handler(ctx, req)
	}
}

// StreamAuth returns a gRPC stream server interceptor that verifies bearer tokens.
func StreamAuth(client *authkit.Client, opts ...AuthOption) grpc.StreamServerInterceptor {
	cfg := newAuthConfig(opts)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		ctx, err := authenticate(ss.Context(), client)
		if err != nil {
			return err
		}

		wrapped := &wrappedStream{ServerStream: ss, ctx: ctx}
		return handler(srv, wrapped)
	}
}

// UnaryRequire returns a gRPC unary server interceptor that checks a guard.
// Requires UnaryAuth to run first.
func UnaryRequire(guard authkit.Guard) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		claims := authkit.ClaimsFromContext(ctx)
		if claims == nil {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		if !guard.Check(claims) {
			return nil, Status(authkit.ErrForbidden).Err()
		}
		return handler(ctx, req)
	}
}

// UnaryRateLimit returns a gRPC unary server interceptor that admits calls
// per peer address against class.
func UnaryRateLimit(client *authkit.Client, class authkit.LimitClass) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := admit(ctx, client, class)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamRateLimit is UnaryRateLimit for streams; a stream counts once.
func StreamRateLimit(client *authkit.Client, class authkit.LimitClass) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := admit(ss.Context(), client, class)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// Status maps a toolkit error to a gRPC status with a generic message.
func Status(err error) *status.Status {
	switch {
	case err == nil:
		return status.New(codes.OK, "")
	case errors.Is(err, authkit.ErrRateLimited):
		return status.New(codes.ResourceExhausted, "too many requests")
	case errors.Is(err, authkit.ErrTokenExpired):
		return status.New(codes.Unauthenticated, "token expired")
	case errors.Is(err, authkit.ErrInvalidToken):
		return status.New(codes.Unauthenticated, "invalid token")
	case errors.Is(err, authkit.ErrInvalidCredentials):
		return status.New(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, authkit.ErrForbidden):
		return status.New(codes.PermissionDenied, "permission denied")
	case errors.Is(err, authkit.ErrUnknownProvider):
		return status.New(codes.InvalidArgument, "unknown authentication provider")
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, "canceled")
	default:
		return status.New(codes.Internal, "internal error")
	}
}

// --- internal helpers ---

func authenticate(ctx context.Context, client *authkit.Client) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}

	tokenStr := extractBearerFromMD(md)
	if tokenStr == "" {
		return ctx, status.Error(codes.Unauthenticated, "missing authorization token")
	}

	verifier := client.Verifier()
	if verifier == nil {
		return ctx, status.Error(codes.Internal, "token verifier not configured")
	}

	claims, err := verifier.Verify(ctx, tokenStr)
	if err != nil {
		return ctx, Status(err).Err()
	}

	return authkit.WithClaims(ctx, claims), nil
}

func admit(ctx context.Context, client *authkit.Client, class authkit.LimitClass) (context.Context, error) {
	key := peerKey(ctx)
	ctx = authkit.WithClientKey(ctx, key)

	limiter := client.RateLimiter()
	if limiter == nil {
		return ctx, nil
	}
	if err := limiter.Check(class, key); err != nil {
		client.Logger().Debug("rate limited", "class", class.String(), "client", key)
		return ctx, Status(err).Err()
	}
	return ctx, nil
}

// peerKey returns the peer host, or the full address when it has no port.
func peerKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func extractBearerFromMD(md metadata.MD) string {
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	tok, err := token.ExtractBearer(vals[0])
	if err != nil {
		return ""
	}
	return tok
}

// wrappedStream wraps grpc.ServerStream to override Context().
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
