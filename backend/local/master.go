package local

import (
	"crypto/subtle"
	"fmt"

	authkit "github.com/chimerakang/authkit-go"
)

// MasterAuth checks a single administrative username and password,
// independent of the user store.
type MasterAuth struct {
	username string
	hash     string
}

// NewMasterAuth returns a validator for username and an argon2id hash made
// by HashPassword. An unparsable hash is rejected here rather than on the
// first login.
func NewMasterAuth(username, passwordHash string) (*MasterAuth, error) {
	if username == "" {
		return nil, fmt.Errorf("authkit/local: master username is empty: %w", authkit.ErrInvalidConfig)
	}
	if _, err := parseHash(passwordHash); err != nil {
		return nil, fmt.Errorf("authkit/local: master password: %w", err)
	}
	return &MasterAuth{username: username, hash: passwordHash}, nil
}

// Username returns the master username.
func (m *MasterAuth) Username() string { return m.username }

// Validate returns authkit.ErrInvalidCredentials unless both values match.
// The password is always verified so a wrong username costs the same.
func (m *MasterAuth) Validate(username, password string) error {
	nameOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	pwErr := VerifyPassword(password, m.hash)
	if !nameOK || pwErr != nil {
		return fmt.Errorf("authkit/local: %w", authkit.ErrInvalidCredentials)
	}
	return nil
}
