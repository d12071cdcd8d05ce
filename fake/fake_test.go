package fake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/fake"
)

func setup(opts ...fake.Option) *authkit.Client {
	base := []fake.Option{
		fake.WithUser("alice", "password123", "users", "developers"),
		fake.WithUser("bob", "hunter2", "users"),
		fake.WithAttributes("alice", map[string]any{"email": "alice@example.com"}),
	}
	return fake.NewClient(append(base, opts...)...)
}

// --- TokenVerifier ---

func TestVerifier_ValidToken(t *testing.T) {
	c := setup()
	// Fake verifier treats token string as username
	claims, err := c.Verifier().Verify(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "alice")
	}
	if !claims.HasAllGroups("users", "developers") {
		t.Errorf("Groups = %v, want users and developers", claims.Groups)
	}
	if claims.Attributes["email"] != "alice@example.com" {
		t.Errorf("email = %v, want alice@example.com", claims.Attributes["email"])
	}
}

func TestVerifier_UnknownToken(t *testing.T) {
	c := setup()
	_, err := c.Verifier().Verify(context.Background(), "nonexistent")
	if !errors.Is(err, authkit.ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

// --- Authenticator ---

func TestAuthenticator_RoundTrip(t *testing.T) {
	c := setup()
	claims, err := c.Authenticator().Authenticate(context.Background(), "alice", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if claims.Provider != fake.Provider {
		t.Errorf("Provider = %q, want %q", claims.Provider, fake.Provider)
	}

	tok, err := c.Issuer().Issue(claims)
	if err != nil {
		t.Fatal(err)
	}
	if tok.TTL != int64(time.Hour/time.Second) {
		t.Errorf("TTL = %d, want 3600", tok.TTL)
	}
	verified, err := c.Verifier().Verify(context.Background(), tok.Value)
	if err != nil {
		t.Fatalf("Verify(issued) error: %v", err)
	}
	if verified.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", verified.Subject)
	}
}

func TestAuthenticator_Failures(t *testing.T) {
	c := setup()
	ctx := context.Background()

	if _, err := c.Authenticator().Authenticate(ctx, "alice", "wrong"); !errors.Is(err, authkit.ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := c.Authenticator().Authenticate(ctx, "nobody", "x"); !errors.Is(err, authkit.ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := c.Authenticator().AuthenticateWith(ctx, "ldap", "alice", "password123"); !errors.Is(err, authkit.ErrUnknownProvider) {
		t.Errorf("unknown provider error = %v, want ErrUnknownProvider", err)
	}
}

func TestAuthenticator_Refresh(t *testing.T) {
	c := setup()
	claims, err := c.Authenticator().Authenticate(context.Background(), "bob", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	renewed := c.Authenticator().Refresh(claims)
	if renewed.Subject != "bob" || renewed.TokenID == claims.TokenID {
		t.Errorf("Refresh = %+v, want same subject and new TokenID", renewed)
	}
}

// --- Backend ---

func TestBackend(t *testing.T) {
	b := fake.NewBackend(fake.WithName("directory"), fake.WithUser("carol", "pw", "admins"))
	if b.Name() != "directory" {
		t.Errorf("Name = %q, want directory", b.Name())
	}

	id, err := b.Verify(context.Background(), "carol", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if id.Subject != "carol" || len(id.Groups) != 1 {
		t.Errorf("Identity = %+v", id)
	}
	if b.Calls() != 1 {
		t.Errorf("Calls = %d, want 1", b.Calls())
	}
}

func TestBackend_DelayHonoursContext(t *testing.T) {
	b := fake.NewBackend(fake.WithDelay(time.Minute), fake.WithUser("carol", "pw"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Verify(ctx, "carol", "pw")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Verify error = %v, want DeadlineExceeded", err)
	}
}

func TestBackend_InjectedError(t *testing.T) {
	boom := errors.New("directory unreachable")
	b := fake.NewBackend(fake.WithError(boom))
	if _, err := b.Verify(context.Background(), "x", "y"); !errors.Is(err, boom) {
		t.Errorf("Verify error = %v, want %v", err, boom)
	}
}

// --- RateLimiter ---

func TestRateLimiter(t *testing.T) {
	c := setup(fake.WithRateLimit(2))
	rl := c.RateLimiter()

	for i := range 2 {
		if err := rl.Check(authkit.LimitAuth, "ip"); err != nil {
			t.Fatalf("call %d error = %v", i+1, err)
		}
	}
	if err := rl.Check(authkit.LimitAuth, "ip"); !errors.Is(err, authkit.ErrRateLimited) {
		t.Errorf("call 3 error = %v, want ErrRateLimited", err)
	}
	if err := rl.Check(authkit.LimitGeneral, "ip"); err != nil {
		t.Errorf("general class error = %v, want nil", err)
	}
	if err := rl.Check(authkit.LimitAuth, "other"); err != nil {
		t.Errorf("other key error = %v, want nil", err)
	}
}

func TestRateLimiter_Unlimited(t *testing.T) {
	c := setup()
	for range 100 {
		if err := c.RateLimiter().Check(authkit.LimitAuth, "ip"); err != nil {
			t.Fatalf("Check error = %v", err)
		}
	}
}
