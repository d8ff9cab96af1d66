package authz

import (
	"errors"
	"net/http"

	"github.com/kindredhq/kindred/pkg/httputil"
	"github.com/kindredhq/kindred/pkg/session"
)

// HTTPGuard renders gate denials for the HTTP transport: a structured 401
// for clients that accept JSON, otherwise a flashed error and a redirect to
// the login view.
type HTTPGuard struct {
	gate       *Gate
	sessions   *session.Manager
	loginRoute string
}

// NewHTTPGuard creates the HTTP-side guard.
func NewHTTPGuard(gate *Gate, sessions *session.Manager, loginRoute string) *HTTPGuard {
	return &HTTPGuard{
		gate:       gate,
		sessions:   sessions,
		loginRoute: loginRoute,
	}
}

// Resolve loads the request's principal from its session cookie. A missing
// or dead session yields a nil principal; a store failure is logged and
// likewise yields nil, so the gate fails closed.
func (h *HTTPGuard) Resolve(r *http.Request) (*Principal, *session.Session) {
	sess, err := h.sessions.Current(r)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			h.gate.logger.WithError(err).Error("session lookup failed during authorization")
		}
		return nil, nil
	}
	return &Principal{
		ID:       sess.UserID,
		Email:    sess.Email,
		IsAdmin:  sess.IsAdmin,
		NoAccess: sess.NoAccess,
	}, sess
}

// Require wraps a handler with the gate. On allow, the principal is
// attached to the request context.
func (h *HTTPGuard) Require(rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, sess := h.Resolve(r)

			decision := h.gate.Authorize("http", principal, rule)
			if !decision.Allowed {
				h.deny(w, r, sess, decision.Reason)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func (h *HTTPGuard) deny(w http.ResponseWriter, r *http.Request, sess *session.Session, reason string) {
	if httputil.WantsJSON(r) {
		httputil.WriteUnauthorized(w, reason)
		return
	}

	// Flash an error for the next rendered page when a session exists to
	// carry it, then bounce to login.
	if sess != nil {
		sess.AddFlash("error", "You are not authorized to access this page")
		if err := h.sessions.Save(r.Context(), sess); err != nil {
			h.gate.logger.WithError(err).Error("failed to persist denial flash")
		}
	}
	http.Redirect(w, r, h.loginRoute, http.StatusFound)
}
