package local

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/argon2"

	authkit "github.com/chimerakang/authkit-go"
)

func TestHashPassword_Format(t *testing.T) {
	h, err := HashPassword("password123")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=19456,t=2,p=1$") {
		t.Errorf("hash = %q, want argon2id PHC prefix", h)
	}
	if strings.Count(h, "$") != 5 {
		t.Errorf("hash = %q, want 5 separators", h)
	}
}

func TestHashPassword_Salted(t *testing.T) {
	a, err := HashPassword("same")
	if err != nil {
		t.Fatal(err)
	}
	b, err := HashPassword("same")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two hashes of the same password are identical")
	}
}

func TestHashPassword_Length(t *testing.T) {
	tests := []struct {
		name    string
		pw      string
		wantErr bool
	}{
		{"empty", "", true},
		{"one byte", "x", false},
		{"max", strings.Repeat("a", MaxPasswordLength), false},
		{"too long", strings.Repeat("a", MaxPasswordLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HashPassword(tt.pw)
			if tt.wantErr && !errors.Is(err, ErrInvalidPassword) {
				t.Errorf("HashPassword error = %v, want ErrInvalidPassword", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("HashPassword error = %v", err)
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	h, err := HashPassword("password123")
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyPassword("password123", h); err != nil {
		t.Errorf("VerifyPassword(correct) = %v, want nil", err)
	}
	if err := VerifyPassword("password124", h); !errors.Is(err, authkit.ErrInvalidCredentials) {
		t.Errorf("VerifyPassword(wrong) = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	good, err := HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(good, "$")

	tests := []string{
		"",
		"plaintext",
		"$2a$10$bcrypthashvalue",
		strings.Replace(good, "argon2id", "argon2i", 1),
		strings.Replace(good, "v=19", "v=16", 1),
		strings.Replace(good, "m=19456", "m=0", 1),
		strings.Join(parts[:5], "$"),
		strings.Join([]string{"", parts[1], parts[2], parts[3], "!!notbase64!!", parts[5]}, "$"),
	}
	for _, h := range tests {
		if err := VerifyPassword("pw", h); !errors.Is(err, ErrMalformedHash) {
			t.Errorf("VerifyPassword(%q) = %v, want ErrMalformedHash", h, err)
		}
	}
}

func TestVerifyPassword_ReadsStoredParameters(t *testing.T) {
	salt := []byte("0123456789abcdef")
	// hash made with weaker parameters than the current defaults
	key := argon2.IDKey([]byte("legacy"), salt, 1, 8*1024, 1, 32)
	h := encodeHash(8*1024, 1, 1, salt, key)

	if err := VerifyPassword("legacy", h); err != nil {
		t.Errorf("VerifyPassword(legacy params) = %v, want nil", err)
	}
}
