package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, toMillis(u.CreatedAt))
	return mapConstraint(err, "create user")
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id=?`, id))
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email=?`,
		strings.ToLower(strings.TrimSpace(email))))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var createdAt int64
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// --- Profiles ---

// GetRole returns the stored role for userID, or ErrNotFound when the
// identity has no profile row.
func (s *SQLiteStore) GetRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM profiles WHERE id=?`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return role, err
}

// SetRole creates or replaces the profile row for userID.
func (s *SQLiteStore) SetRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, role, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET role=excluded.role, updated_at=excluded.updated_at`,
		userID, role, toMillis(time.Now()))
	return mapConstraint(err, "set role")
}

// --- Auth sessions ---

func (s *SQLiteStore) CreateAuthSession(ctx context.Context, as *AuthSession) error {
	if as.CreatedAt.IsZero() {
		as.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, client_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		as.ID, as.UserID, as.ClientHash, toMillis(as.CreatedAt), toMillis(as.ExpiresAt))
	return mapConstraint(err, "create auth session")
}

const authSessionColumns = `id, user_id, client_hash, created_at, last_used_at, expires_at`

func (s *SQLiteStore) GetAuthSession(ctx context.Context, id string) (*AuthSession, error) {
	return scanAuthSession(s.db.QueryRowContext(ctx,
		`SELECT `+authSessionColumns+` FROM auth_sessions WHERE id=?`, id))
}

// GetLatestAuthSession returns the newest unexpired session bound to clientHash.
func (s *SQLiteStore) GetLatestAuthSession(ctx context.Context, clientHash string, now time.Time) (*AuthSession, error) {
	return scanAuthSession(s.db.QueryRowContext(ctx,
		`SELECT `+authSessionColumns+` FROM auth_sessions
		 WHERE client_hash=? AND expires_at>?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		clientHash, toMillis(now)))
}

func scanAuthSession(row *sql.Row) (*AuthSession, error) {
	as := &AuthSession{}
	var createdAt, expiresAt int64
	var lastUsedAt *int64
	err := row.Scan(&as.ID, &as.UserID, &as.ClientHash, &createdAt, &lastUsedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	as.CreatedAt = fromMillis(createdAt)
	as.ExpiresAt = fromMillis(expiresAt)
	if lastUsedAt != nil {
		lu := fromMillis(*lastUsedAt)
		as.LastUsedAt = &lu
	}
	return as, nil
}

func (s *SQLiteStore) TouchAuthSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE auth_sessions SET last_used_at=? WHERE id=?`,
		toMillis(time.Now()), id)
	return err
}

func (s *SQLiteStore) DeleteAuthSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id=?`, id)
	return err
}

func (s *SQLiteStore) DeleteAuthSessionsByClient(ctx context.Context, clientHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE client_hash=?`, clientHash)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteExpiredAuthSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at<=?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
