package realtime

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kindredhq/kindred/pkg/authz"
	"github.com/kindredhq/kindred/pkg/config"
	"github.com/kindredhq/kindred/pkg/observability"
	"github.com/kindredhq/kindred/pkg/pubsub"
)

// Server upgrades HTTP requests to websocket connections, runs the
// handshake, and binds the event surface of authorized connections.
type Server struct {
	cfg        config.RealtimeConfig
	authorizer *Authorizer
	registry   *Registry
	gate       *authz.Gate
	logger     *observability.Logger
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
	version    string
}

// NewServer builds the websocket endpoint handler.
func NewServer(cfg config.RealtimeConfig, authorizer *Authorizer, registry *Registry, gate *authz.Gate, logger *observability.Logger, metrics *observability.Metrics, version string) *Server {
	return &Server{
		cfg:        cfg,
		authorizer: authorizer,
		registry:   registry,
		gate:       gate,
		logger:     logger,
		metrics:    metrics,
		version:    version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Session binding happens through the challenge, not the
			// upgrade request, so cross-origin upgrades are accepted.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and drives the connection until it
// disconnects. Connections that fail the handshake are closed here; an
// authorized connection lives until the peer goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := NewConn(ws, s.logger, s.cfg.WriteTimeout, s.cfg.MaxMessageSize)
	trace.SpanFromContext(r.Context()).AddEvent("websocket upgraded",
		trace.WithAttributes(attribute.String("conn.id", conn.ID())))
	if s.metrics != nil {
		s.metrics.ConnectionsActive.Inc()
		conn.OnDisconnect(func() { s.metrics.ConnectionsActive.Dec() })
	}
	conn.OnDisconnect(func() { s.registry.Unregister(conn) })

	ctx := r.Context()

	go func() {
		_, err := s.authorizer.Authorize(ctx, conn, func(principal *authz.Principal) {
			s.bindEvents(conn, principal)
		})
		if err != nil {
			_ = conn.Close()
		}
	}()

	// Blocks with the read loop; handlers registered above run from it.
	conn.Run()
}

// bindEvents installs the post-handshake event surface. Until this runs the
// connection only understands "challenge".
func (s *Server) bindEvents(conn *Conn, principal *authz.Principal) {
	conn.On("subscribe", func(data json.RawMessage, ack AckFunc) {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			ack(authz.SocketError{Error: "Not Allowed", Reason: "wrong response format"})
			return
		}

		ch := pubsub.Channel(name)
		if !ch.Valid() {
			s.logger.WithFields(map[string]interface{}{
				"conn_id": conn.ID(),
				"channel": name,
			}).Warn("subscribe to unknown channel refused")
			ack(authz.SocketError{Error: "Not Allowed", Reason: "unknown channel"})
			return
		}

		rule := authz.Rule{Resource: "socket:subscribe:" + name}
		s.gate.GuardSocket(principal, rule, func(payload interface{}) { ack(payload) }, func() {
			if err := s.registry.Register(context.Background(), ch, conn); err != nil {
				s.logger.WithError(err).WithField("conn_id", conn.ID()).Error("channel subscription failed")
				ack(authz.SocketError{Error: "Not Allowed", Reason: "subscription failed"})
				return
			}
			ack(map[string]bool{"subscribed": true})
		})
	})

	conn.On("version", func(_ json.RawMessage, ack AckFunc) {
		ack(map[string]string{"version": s.version})
	})
}
