package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kindredhq/kindred/pkg/config"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// NewDB opens the PostgreSQL pool and verifies connectivity.
func NewDB(cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns / 2)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            UUID PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			bio           TEXT NOT NULL DEFAULT '',
			is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
			no_access     BOOLEAN NOT NULL DEFAULT FALSE,
			verified      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_tokens (
			token_hash TEXT PRIMARY KEY,
			user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			kind       TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS user_tokens_expires_at_idx ON user_tokens (expires_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure user tables: %w", err)
	}
	return nil
}

const userColumns = "id, email, name, password_hash, bio, is_admin, no_access, verified, created_at, updated_at"

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Bio,
		&u.IsAdmin, &u.NoAccess, &u.Verified, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, bio, is_admin, no_access, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Bio, u.IsAdmin, u.NoAccess, u.Verified, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return scanUser(row)
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)", email)
	return scanUser(row)
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, p Profile) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET name = $1, bio = $2, updated_at = $3 WHERE id = $4",
		p.Name, p.Bio, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3",
		passwordHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET verified = TRUE, updated_at = $1 WHERE id = $2",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark user verified: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) CreateToken(ctx context.Context, userID string, kind TokenKind, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_tokens (token_hash, user_id, kind, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		tokenHash, userID, string(kind), expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create %s token: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) ConsumeToken(ctx context.Context, kind TokenKind, tokenHash string) (string, error) {
	// DELETE ... RETURNING makes consumption atomic: two concurrent
	// submissions of the same link cannot both succeed.
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM user_tokens WHERE token_hash = $1 AND kind = $2
		RETURNING user_id, expires_at`,
		tokenHash, string(kind))

	var userID string
	var expiresAt time.Time
	err := row.Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return "", ErrInvalidToken
	} else if err != nil {
		return "", fmt.Errorf("failed to consume %s token: %w", kind, err)
	}

	if time.Now().After(expiresAt) {
		return "", ErrTokenExpired
	}
	return userID, nil
}

func (s *PostgresStore) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM user_tokens WHERE expires_at < $1", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged tokens: %w", err)
	}
	return n, nil
}

// PurgeUnverified deletes accounts that never completed the email round
// trip. Their tokens go with them via the foreign key cascade.
func (s *PostgresStore) PurgeUnverified(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM users WHERE verified = FALSE AND created_at < $1",
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge unverified users: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged users: %w", err)
	}
	return n, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
