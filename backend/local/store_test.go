package local

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStore_CRUD(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			alice := UserRecord{
				Username: "alice", PasswordHash: "h1", Groups: []string{"users", "developers"},
				Enabled: true, CreatedAt: 100, UpdatedAt: 100,
			}

			if err := s.CreateUser(ctx, alice); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
			if err := s.CreateUser(ctx, alice); !errors.Is(err, ErrUserExists) {
				t.Errorf("duplicate CreateUser error = %v, want ErrUserExists", err)
			}

			got, err := s.GetUser(ctx, "alice")
			if err != nil {
				t.Fatalf("GetUser: %v", err)
			}
			if diff := cmp.Diff(&alice, got); diff != "" {
				t.Errorf("GetUser mismatch (-want +got):\n%s", diff)
			}

			if err := s.UpdatePassword(ctx, "alice", "h2"); err != nil {
				t.Fatalf("UpdatePassword: %v", err)
			}
			if err := s.UpdateGroups(ctx, "alice", []string{"admins"}); err != nil {
				t.Fatalf("UpdateGroups: %v", err)
			}
			if err := s.SetEnabled(ctx, "alice", false); err != nil {
				t.Fatalf("SetEnabled: %v", err)
			}
			got, err = s.GetUser(ctx, "alice")
			if err != nil {
				t.Fatal(err)
			}
			if got.PasswordHash != "h2" || got.Enabled || !cmp.Equal(got.Groups, []string{"admins"}) {
				t.Errorf("after updates = %+v", got)
			}
			if got.UpdatedAt <= alice.UpdatedAt {
				t.Errorf("UpdatedAt = %d, want > %d", got.UpdatedAt, alice.UpdatedAt)
			}

			if err := s.DeleteUser(ctx, "alice"); err != nil {
				t.Fatalf("DeleteUser: %v", err)
			}
			if _, err := s.GetUser(ctx, "alice"); !errors.Is(err, ErrUserNotFound) {
				t.Errorf("GetUser after delete error = %v, want ErrUserNotFound", err)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			checks := map[string]error{
				"GetUser":        func() error { _, err := s.GetUser(ctx, "ghost"); return err }(),
				"UpdatePassword": s.UpdatePassword(ctx, "ghost", "h"),
				"UpdateGroups":   s.UpdateGroups(ctx, "ghost", nil),
				"SetEnabled":     s.SetEnabled(ctx, "ghost", true),
				"DeleteUser":     s.DeleteUser(ctx, "ghost"),
			}
			for op, err := range checks {
				if !errors.Is(err, ErrUserNotFound) {
					t.Errorf("%s error = %v, want ErrUserNotFound", op, err)
				}
			}
		})
	}
}

func TestStore_ListUsersOrdered(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, u := range []string{"carol", "alice", "bob"} {
				if err := s.CreateUser(ctx, NewUserRecord(u, "h")); err != nil {
					t.Fatal(err)
				}
			}
			users, err := s.ListUsers(ctx)
			if err != nil {
				t.Fatal(err)
			}
			names := make([]string, len(users))
			for i, u := range users {
				names[i] = u.Username
			}
			if diff := cmp.Diff([]string{"alice", "bob", "carol"}, names); diff != "" {
				t.Errorf("ListUsers order (-want +got):\n%s", diff)
			}
			for _, u := range users {
				if !u.Enabled || len(u.Groups) != 0 {
					t.Errorf("record %+v, want enabled with no groups", u)
				}
			}
		})
	}
}

func TestMemoryStore_CopiesGroups(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	groups := []string{"users"}
	if err := s.CreateUser(ctx, NewUserRecord("alice", "h", groups...)); err != nil {
		t.Fatal(err)
	}
	groups[0] = "admins"

	got, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	got.Groups[0] = "root"

	again, _ := s.GetUser(ctx, "alice")
	if diff := cmp.Diff([]string{"users"}, again.Groups); diff != "" {
		t.Errorf("stored groups changed through an alias (-want +got):\n%s", diff)
	}
}

func TestSQLite_InMemory(t *testing.T) {
	s, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:): %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.CreateUser(ctx, NewUserRecord("alice", "h", "users")); err != nil {
		t.Fatal(err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Errorf("ListUsers = %d records, want 1", len(users))
	}
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	want := NewUserRecord("alice", "h", "users")
	if err := s.CreateUser(ctx, want); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("record after reopen (-want +got):\n%s", diff)
	}
}
