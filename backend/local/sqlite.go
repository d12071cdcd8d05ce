package local

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("authkit/local: open sqlite: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and a private
	// ":memory:" database only exists on the connection that created it.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("authkit/local: migrations filesystem: %w", err)
	}
	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("authkit/local: create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("authkit/local: apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const userColumns = `username, password_hash, groups_json, enabled, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*UserRecord, error) {
	var (
		u      UserRecord
		groups string
	)
	if err := row.Scan(&u.Username, &u.PasswordHash, &groups, &u.Enabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(groups), &u.Groups); err != nil {
		return nil, fmt.Errorf("decode groups for %q: %w", u.Username, err)
	}
	return &u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("authkit/local: get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user UserRecord) error {
	groups, err := encodeGroups(user.Groups)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		user.Username, user.PasswordHash, groups, user.Enabled, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("authkit/local: create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) update(ctx context.Context, username, set string, arg any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+set+` = ?, updated_at = ? WHERE username = ?`,
		arg, time.Now().Unix(), username,
	)
	if err != nil {
		return fmt.Errorf("authkit/local: update %s: %w", set, err)
	}
	return requireOneRow(res)
}

func (s *SQLiteStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	return s.update(ctx, username, "password_hash", passwordHash)
}

func (s *SQLiteStore) UpdateGroups(ctx context.Context, username string, groups []string) error {
	enc, err := encodeGroups(groups)
	if err != nil {
		return err
	}
	return s.update(ctx, username, "groups_json", enc)
}

func (s *SQLiteStore) SetEnabled(ctx context.Context, username string, enabled bool) error {
	return s.update(ctx, username, "enabled", enabled)
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("authkit/local: delete user: %w", err)
	}
	return requireOneRow(res)
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("authkit/local: list users: %w", err)
	}
	defer rows.Close()

	var out []UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("authkit/local: list users: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authkit/local: list users: %w", err)
	}
	return out, nil
}

func encodeGroups(groups []string) (string, error) {
	if groups == nil {
		groups = []string{}
	}
	b, err := json.Marshal(groups)
	if err != nil {
		return "", fmt.Errorf("authkit/local: encode groups: %w", err)
	}
	return string(b), nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("authkit/local: rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
