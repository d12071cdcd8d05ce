// Package local implements a credential backend over locally stored
// accounts with argon2id password hashes.
package local

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUserNotFound is returned by a Store for an unknown username.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned by CreateUser for a taken username.
	ErrUserExists = errors.New("user already exists")
)

// UserRecord is a stored account. PasswordHash is never exposed outside
// the backend.
type UserRecord struct {
	Username     string
	PasswordHash string
	Groups       []string
	Enabled      bool
	CreatedAt    int64 // unix seconds
	UpdatedAt    int64 // unix seconds
}

// NewUserRecord returns an enabled record stamped with the current time.
func NewUserRecord(username, passwordHash string, groups ...string) UserRecord {
	now := time.Now().Unix()
	return UserRecord{
		Username:     username,
		PasswordHash: passwordHash,
		Groups:       groups,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Store persists user records.
type Store interface {
	GetUser(ctx context.Context, username string) (*UserRecord, error)
	CreateUser(ctx context.Context, user UserRecord) error
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	UpdateGroups(ctx context.Context, username string, groups []string) error
	SetEnabled(ctx context.Context, username string, enabled bool) error
	DeleteUser(ctx context.Context, username string) error
	// ListUsers returns every record ordered by username.
	ListUsers(ctx context.Context) ([]UserRecord, error)
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]UserRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]UserRecord)}
}

func (s *MemoryStore) GetUser(ctx context.Context, username string) (*UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	u.Groups = slices.Clone(u.Groups)
	return &u, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Username]; ok {
		return ErrUserExists
	}
	user.Groups = slices.Clone(user.Groups)
	s.users[user.Username] = user
	return nil
}

func (s *MemoryStore) update(ctx context.Context, username string, fn func(*UserRecord)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().Unix()
	s.users[username] = u
	return nil
}

func (s *MemoryStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	return s.update(ctx, username, func(u *UserRecord) { u.PasswordHash = passwordHash })
}

func (s *MemoryStore) UpdateGroups(ctx context.Context, username string, groups []string) error {
	return s.update(ctx, username, func(u *UserRecord) { u.Groups = slices.Clone(groups) })
}

func (s *MemoryStore) SetEnabled(ctx context.Context, username string, enabled bool) error {
	return s.update(ctx, username, func(u *UserRecord) { u.Enabled = enabled })
}

func (s *MemoryStore) DeleteUser(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, username)
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]UserRecord, 0, len(s.users))
	for _, u := range s.users {
		u.Groups = slices.Clone(u.Groups)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
