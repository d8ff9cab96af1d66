package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no session exists for a given key.
var ErrNotFound = errors.New("session not found")

// Flash is a one-shot message rendered on the next page load
type Flash struct {
	Kind    string `json:"kind"` // "error" or "success"
	Message string `json:"message"`
}

// Session represents an authenticated user session. It is identified by an
// opaque key assigned at login and stored under that key in Redis with a TTL.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	NoAccess  bool      `json:"no_access,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Flashes   []Flash   `json:"flashes,omitempty"`
}

// Expired reports whether the session is past its expiry. The store's TTL
// normally removes expired sessions before this is ever observed.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// AddFlash queues a one-shot message for the next rendered page.
func (s *Session) AddFlash(kind, message string) {
	s.Flashes = append(s.Flashes, Flash{Kind: kind, Message: message})
}

// PopFlashes returns queued flashes and clears them.
func (s *Session) PopFlashes() []Flash {
	f := s.Flashes
	s.Flashes = nil
	return f
}

// Store defines how sessions are stored and retrieved. Get returns
// ErrNotFound when no record exists for the key.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
