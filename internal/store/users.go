package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const userColumns = `id, email, username, avatar_url, last_seen, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (User, error) {
	var (
		user      User
		avatarURL sql.NullString
		lastSeen  sql.NullInt64
		createdAt int64
	)
	dest := append([]any{&user.ID, &user.Email, &user.Username, &avatarURL, &lastSeen, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return User{}, err
	}
	user.AvatarURL = fromNullString(avatarURL)
	user.LastSeen = fromNullMillis(lastSeen)
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// CreateUser inserts a new account. Username defaults to the email's local part.
func (s *Store) CreateUser(ctx context.Context, email, username, passwordHash string) (User, error) {
	if err := s.ready(ctx); err != nil {
		return User{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if email == "" || passwordHash == "" {
		return User{}, fmt.Errorf("email and password hash are required: %w", ErrInvalidArgument)
	}
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}

	user := User{
		ID:        uuid.NewString(),
		Email:     email,
		Username:  username,
		CreatedAt: fromMillis(toMillis(s.now())),
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Username, passwordHash, toMillis(user.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("user %q: %w", email, ErrAlreadyExists)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	if err := s.ready(ctx); err != nil {
		return User{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetCredentials returns the user and stored password hash for an email.
func (s *Store) GetCredentials(ctx context.Context, email string) (User, string, error) {
	if err := s.ready(ctx); err != nil {
		return User{}, "", err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+`, password_hash FROM users WHERE email = ?`, email)
	var hash string
	user, err := scanUser(row, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, "", ErrNotFound
		}
		return User{}, "", fmt.Errorf("get credentials: %w", err)
	}
	return user, hash, nil
}

// TouchLastSeen stamps the user's last_seen.
func (s *Store) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE id = ?`, toMillis(at), userID); err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// RevokeToken records a token id as revoked until it would have expired anyway.
// Expired revocations are pruned on the way.
func (s *Store) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(jti) == "" {
		return fmt.Errorf("token id is required: %w", ErrInvalidArgument)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, toMillis(s.now())); err != nil {
			return fmt.Errorf("prune revoked tokens: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO revoked_tokens (jti, expires_at) VALUES (?, ?)`,
			jti, toMillis(expiresAt),
		); err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
		return nil
	})
}

// IsTokenRevoked reports whether a token id was revoked by logout.
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM revoked_tokens WHERE jti = ?`, jti).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return true, nil
}
