package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindredhq/kindred/pkg/session"
)

func setupHTTPGuard(t *testing.T) (*HTTPGuard, *session.Manager, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewRedisStore(client)
	sessions := session.NewManager(store, "kindred_session", false, time.Hour)

	guard := NewHTTPGuard(testGate(), sessions, "/login")

	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return guard, sessions, cleanup
}

// loginSession creates a live session and returns its cookie
func loginSession(t *testing.T, sessions *session.Manager, isAdmin bool) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	_, err := sessions.Login(context.Background(), rec, "u1", "u1@example.com", isAdmin, false)
	require.NoError(t, err)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func TestHTTPGuard_DenyJSON(t *testing.T) {
	guard, _, cleanup := setupHTTPGuard(t)
	defer cleanup()

	handler := guard.Require(Rule{Resource: "profile"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest("GET", "/profile", nil)
	req.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"not authenticated"}`, w.Body.String())
}

func TestHTTPGuard_DenyHTMLRedirectsToLogin(t *testing.T) {
	guard, _, cleanup := setupHTTPGuard(t)
	defer cleanup()

	handler := guard.Require(Rule{Resource: "profile"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest("GET", "/profile", nil)
	req.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestHTTPGuard_DenyFlashesWhenSessionExists(t *testing.T) {
	guard, sessions, cleanup := setupHTTPGuard(t)
	defer cleanup()

	cookie := loginSession(t, sessions, false)

	handler := guard.Require(Rule{Resource: "admin panel", RequireAdmin: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Accept", "text/html")
	req.AddCookie(cookie)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)

	// the denial flash is queued on the session for the next page render
	sess, err := sessions.Store().Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.Len(t, sess.Flashes, 1)
	assert.Equal(t, "error", sess.Flashes[0].Kind)
}

func TestHTTPGuard_AllowInjectsPrincipal(t *testing.T) {
	guard, sessions, cleanup := setupHTTPGuard(t)
	defer cleanup()

	cookie := loginSession(t, sessions, true)

	var got *Principal
	handler := guard.Require(Rule{Resource: "admin panel", RequireAdmin: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = PrincipalFrom(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest("GET", "/admin", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)
	assert.True(t, got.IsAdmin)
}

func TestHTTPGuard_DeadSessionIsUnauthenticated(t *testing.T) {
	guard, _, cleanup := setupHTTPGuard(t)
	defer cleanup()

	handler := guard.Require(Rule{Resource: "profile"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest("GET", "/profile", nil)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: "kindred_session", Value: "no-such-session"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
