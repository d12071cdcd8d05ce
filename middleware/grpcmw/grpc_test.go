package grpcmw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/fake"
)

func withToken(tok string) context.Context {
	md := metadata.Pairs("authorization", "Bearer "+tok)
	return metadata.NewIncomingContext(context.Background(), md)
}

func withPeer(ctx context.Context, addr string) context.Context {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	return peer.NewContext(ctx, &peer.Peer{Addr: tcp})
}

func TestAuthenticate_Success(t *testing.T) {
	client := fake.NewClient(fake.WithUser("alice", "password123", "admins"))

	ctx, err := authenticate(withToken("alice"), client)
	if err != nil {
		t.Fatalf("authenticate returned error: %v", err)
	}
	if sub := authkit.SubjectFromContext(ctx); sub != "alice" {
		t.Errorf("subject = %q, want alice", sub)
	}
	if c := authkit.ClaimsFromContext(ctx); c == nil || !c.HasGroup("admins") {
		t.Errorf("claims = %+v, want admins group", c)
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	client := fake.NewClient(fake.WithUser("alice", "password123"))

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"no metadata", context.Background()},
		{"empty metadata", metadata.NewIncomingContext(context.Background(), metadata.MD{})},
		{"no bearer scheme", metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic abc"))},
		{"empty bearer", withToken("")},
		{"unknown token", withToken("mallory")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := authenticate(tt.ctx, client)
			if status.Code(err) != codes.Unauthenticated {
				t.Errorf("code = %v, want Unauthenticated", status.Code(err))
			}
		})
	}
}

func TestUnaryAuth(t *testing.T) {
	client := fake.NewClient(fake.WithUser("alice", "password123"))
	interceptor := UnaryAuth(client, WithExcludedMethods("/health.Health/Check"))

	var gotSubject string
	handler := func(ctx context.Context, req any) (any, error) {
		gotSubject = authkit.SubjectFromContext(ctx)
		return "ok", nil
	}

	resp, err := interceptor(withToken("alice"), nil, &grpc.UnaryServerInfo{FullMethod: "/svc.Svc/Get"}, handler)
	if err != nil || resp != "ok" {
		t.Fatalf("resp, err = %v, %v; want ok, nil", resp, err)
	}
	if gotSubject != "alice" {
		t.Errorf("handler subject = %q, want alice", gotSubject)
	}

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc.Svc/Get"}, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}

	gotSubject = "unset"
	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/health.Health/Check"}, handler)
	if err != nil {
		t.Errorf("excluded method error = %v", err)
	}
	if gotSubject != "" {
		t.Errorf("excluded method subject = %q, want empty", gotSubject)
	}
}

type testStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *testStream) Context() context.Context { return s.ctx }

func TestStreamAuth(t *testing.T) {
	client := fake.NewClient(fake.WithUser("alice", "password123"))
	interceptor := StreamAuth(client)

	var gotSubject string
	handler := func(srv any, ss grpc.ServerStream) error {
		gotSubject = authkit.SubjectFromContext(ss.Context())
		return nil
	}

	info := &grpc.StreamServerInfo{FullMethod: "/svc.Svc/Watch"}
	if err := interceptor(nil, &testStream{ctx: withToken("alice")}, info, handler); err != nil {
		t.Fatalf("StreamAuth error: %v", err)
	}
	if gotSubject != "alice" {
		t.Errorf("stream subject = %q, want alice", gotSubject)
	}

	err := interceptor(nil, &testStream{ctx: withToken("nobody")}, info, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestUnaryRequire(t *testing.T) {
	client := fake.NewClient(
		fake.WithUser("alice", "pw", "admins"),
		fake.WithUser("bob", "pw", "users"),
	)
	auth := UnaryAuth(client)
	require := UnaryRequire(authkit.RequireGroup("admins"))
	info := &grpc.UnaryServerInfo{FullMethod: "/svc.Svc/Delete"}
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	chain := func(ctx context.Context) error {
		_, err := auth(ctx, nil, info, func(ctx context.Context, req any) (any, error) {
			return require(ctx, req, info, handler)
		})
		return err
	}

	if err := chain(withToken("alice")); err != nil {
		t.Errorf("admin error = %v, want nil", err)
	}
	if err := chain(withToken("bob")); status.Code(err) != codes.PermissionDenied {
		t.Errorf("non-admin code = %v, want PermissionDenied", status.Code(err))
	}

	_, err := require(context.Background(), nil, info, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("no claims code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestUnaryRateLimit(t *testing.T) {
	client := fake.NewClient(fake.WithRateLimit(2))
	interceptor := UnaryRateLimit(client, authkit.LimitAuth)
	info := &grpc.UnaryServerInfo{FullMethod: "/auth.Auth/Login"}

	var gotKey string
	handler := func(ctx context.Context, req any) (any, error) {
		gotKey = authkit.ClientKeyFromContext(ctx)
		return "ok", nil
	}

	ctx := withPeer(context.Background(), "10.0.0.1:5555")
	for i := 0; i < 2; i++ {
		if _, err := interceptor(ctx, nil, info, handler); err != nil {
			t.Fatalf("call %d error = %v", i+1, err)
		}
	}
	if gotKey != "10.0.0.1" {
		t.Errorf("client key = %q, want 10.0.0.1", gotKey)
	}
	_, err := interceptor(ctx, nil, info, handler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("third call code = %v, want ResourceExhausted", status.Code(err))
	}

	other := withPeer(context.Background(), "10.0.0.2:5555")
	if _, err := interceptor(other, nil, info, handler); err != nil {
		t.Errorf("other peer error = %v, want nil", err)
	}
}

func TestStreamRateLimit(t *testing.T) {
	client := fake.NewClient(fake.WithRateLimit(1))
	interceptor := StreamRateLimit(client, authkit.LimitGeneral)
	info := &grpc.StreamServerInfo{FullMethod: "/svc.Svc/Watch"}
	handler := func(srv any, ss grpc.ServerStream) error { return nil }

	ss := &testStream{ctx: withPeer(context.Background(), "10.0.0.1:1")}
	if err := interceptor(nil, ss, info, handler); err != nil {
		t.Fatalf("first stream error = %v", err)
	}
	if err := interceptor(nil, ss, info, handler); status.Code(err) != codes.ResourceExhausted {
		t.Errorf("second stream code = %v, want ResourceExhausted", status.Code(err))
	}
}

func TestPeerKey(t *testing.T) {
	if got := peerKey(context.Background()); got != "unknown" {
		t.Errorf("peerKey(no peer) = %q, want unknown", got)
	}
	if got := peerKey(withPeer(context.Background(), "[::1]:80")); got != "::1" {
		t.Errorf("peerKey(ipv6) = %q, want ::1", got)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{authkit.ErrInvalidToken, codes.Unauthenticated},
		{fmt.Errorf("wrap: %w", authkit.ErrTokenExpired), codes.Unauthenticated},
		{authkit.ErrInvalidCredentials, codes.Unauthenticated},
		{authkit.ErrForbidden, codes.PermissionDenied},
		{authkit.ErrRateLimited, codes.ResourceExhausted},
		{authkit.ErrUnknownProvider, codes.InvalidArgument},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := Status(tt.err).Code(); got != tt.want {
			t.Errorf("Status(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStatus_GenericMessages(t *testing.T) {
	err := fmt.Errorf("backend ldap: user alice not in directory: %w", authkit.ErrInvalidCredentials)
	if msg := Status(err).Message(); msg != "invalid credentials" {
		t.Errorf("message = %q, want generic text", msg)
	}
}
