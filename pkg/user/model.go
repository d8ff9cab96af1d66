package user

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when registering an email that already
	// has an account.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidToken is returned when a verification or reset token does
	// not resolve to a pending record.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a token resolved but is past its
	// expiry.
	ErrTokenExpired = errors.New("token expired")
)

// User is an account record. IsAdmin and NoAccess drive authorization
// decisions; Verified gates login until the email round trip completes.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Bio          string    `json:"bio,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	NoAccess     bool      `json:"no_access"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the subset of User a user may edit themselves.
type Profile struct {
	Name string
	Bio  string
}
