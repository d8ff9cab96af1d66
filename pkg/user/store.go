package user

import (
	"context"
	"time"
)

// TokenKind distinguishes the single-use token tables rows.
type TokenKind string

const (
	TokenVerify TokenKind = "verify"
	TokenReset  TokenKind = "reset"
)

// Store defines account persistence. Lookups return ErrNotFound when no
// record matches.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id string, p Profile) error
	SetPassword(ctx context.Context, id, passwordHash string) error
	SetVerified(ctx context.Context, id string) error

	// CreateToken stores the hash of a single-use token. ConsumeToken
	// atomically removes it and returns the bound user id; a consumed or
	// unknown token yields ErrInvalidToken, a stale one ErrTokenExpired.
	CreateToken(ctx context.Context, userID string, kind TokenKind, tokenHash string, expiresAt time.Time) error
	ConsumeToken(ctx context.Context, kind TokenKind, tokenHash string) (string, error)

	// PurgeExpiredTokens removes tokens past their expiry and returns how
	// many were deleted. Run from the maintenance scheduler.
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}
