package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/kindredhq/kindred/pkg/audit"
	"github.com/kindredhq/kindred/pkg/authz"
	"github.com/kindredhq/kindred/pkg/config"
	"github.com/kindredhq/kindred/pkg/observability"
	"github.com/kindredhq/kindred/pkg/pubsub"
	"github.com/kindredhq/kindred/pkg/realtime"
	"github.com/kindredhq/kindred/pkg/session"
	"github.com/kindredhq/kindred/pkg/user"
)

// wireEnvelope mirrors the socket wire format for client-side assertions.
type wireEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    int64           `json:"id,omitempty"`
}

// The upgrade must work behind the full middleware stack, whose logging
// and metrics wrappers replace the ResponseWriter. Both wrappers have to
// keep http.Hijacker reachable or the upgrader rejects every connection.
func TestSocketUpgradeThroughRouter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sessions := session.NewManager(session.NewRedisStore(client), "kindred_session", false, time.Hour)
	gate := authz.NewGate(logger, audit.NopLogger{}, nil)
	guard := authz.NewHTTPGuard(gate, sessions, "/login")

	bridge := pubsub.NewSingleNode(logger)
	t.Cleanup(func() { _ = bridge.Close() })
	registry := realtime.NewRegistry(bridge, logger, nil)
	authorizer := realtime.NewAuthorizer(sessions.Store(), time.Second, logger, audit.NopLogger{}, nil)
	socket := realtime.NewServer(config.RealtimeConfig{
		ChallengeTimeout: time.Second,
		WriteTimeout:     time.Second,
		MaxMessageSize:   8192,
	}, authorizer, registry, gate, logger, nil, "test")

	templates, err := NewTemplates("views", false, logger)
	require.NoError(t, err)

	store := newFakeUserStore()
	users := user.NewService(store, nopMailer{}, nil, logger, "http://localhost:8080", 48*time.Hour, 2*time.Hour)
	cfg := config.WebConfig{BaseURL: "http://localhost:8080", LoginRoute: "/login"}
	srv := NewServer(cfg, users, sessions, guard, templates, logger, audit.NopLogger{}, metrics)

	ts := httptest.NewServer(srv.Router(socket))
	t.Cleanup(ts.Close)

	key := uuid.NewString()
	now := time.Now().UTC()
	require.NoError(t, sessions.Store().Create(context.Background(), &session.Session{
		ID:        key,
		UserID:    "u1",
		Email:     "ada@example.com",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "upgrade failed behind the middleware stack")
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env wireEnvelope
	require.NoError(t, ws.ReadJSON(&env))
	require.Equal(t, "challenge", env.Event)

	keyJSON, err := json.Marshal(key)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(wireEnvelope{Event: "challenge", Data: keyJSON}))

	require.NoError(t, ws.ReadJSON(&env))
	require.Equal(t, "authorized", env.Event)
}
