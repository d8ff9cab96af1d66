package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Manager handles the HTTP side of sessions: cookie issuance, lookup and
// teardown. The cookie value is the opaque session key; the same key is
// what a websocket client presents during the challenge handshake.
type Manager struct {
	store        Store
	cookieName   string
	cookieSecure bool
	ttl          time.Duration
}

// NewManager creates a session manager over the given store.
func NewManager(store Store, cookieName string, cookieSecure bool, ttl time.Duration) *Manager {
	return &Manager{
		store:        store,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
		ttl:          ttl,
	}
}

// Store exposes the underlying session store.
func (m *Manager) Store() Store { return m.store }

// Login creates a session for the user and sets the session cookie. The
// account flags are snapshotted into the session so the gate can read them
// without a user lookup per request.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, userID, email string, isAdmin, noAccess bool) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     email,
		IsAdmin:   isAdmin,
		NoAccess:  noAccess,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    s.ID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	return s, nil
}

// Logout destroys the request's session and clears the cookie.
func (m *Manager) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(m.cookieName)
	if err == nil && cookie.Value != "" {
		if err := m.store.Delete(ctx, cookie.Value); err != nil {
			return err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Current resolves the request's session from its cookie. Returns
// ErrNotFound when there is no cookie or no live session behind it.
func (m *Manager) Current(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNotFound
	}
	return m.store.Get(r.Context(), cookie.Value)
}

// Save persists mutations (e.g. flash messages) back to the store.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	return m.store.Save(ctx, s)
}
