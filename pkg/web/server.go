package web

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kindredhq/kindred/pkg/audit"
	"github.com/kindredhq/kindred/pkg/authz"
	"github.com/kindredhq/kindred/pkg/config"
	"github.com/kindredhq/kindred/pkg/httputil"
	"github.com/kindredhq/kindred/pkg/observability"
	"github.com/kindredhq/kindred/pkg/session"
	"github.com/kindredhq/kindred/pkg/user"
)

// maxFormBytes caps request bodies on the form endpoints.
const maxFormBytes = 64 << 10

// Server owns the server-rendered routes.
type Server struct {
	cfg       config.WebConfig
	users     *user.Service
	sessions  *session.Manager
	guard     *authz.HTTPGuard
	templates *Templates
	logger    *observability.Logger
	auditor   audit.Logger
	metrics   *observability.Metrics
}

// NewServer builds the web surface.
func NewServer(cfg config.WebConfig, users *user.Service, sessions *session.Manager, guard *authz.HTTPGuard, templates *Templates, logger *observability.Logger, auditor audit.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		users:     users,
		sessions:  sessions,
		guard:     guard,
		templates: templates,
		logger:    logger,
		auditor:   auditor,
		metrics:   metrics,
	}
}

// Router wires all routes. socketHandler, when non-nil, serves the
// realtime endpoint under the same middleware stack.
func (s *Server) Router(socketHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(httputil.RequestIDMiddleware)
	r.Use(httputil.RecoveryMiddleware(s.logger))
	r.Use(httputil.LoggingMiddleware(s.logger))
	if s.metrics != nil {
		r.Use(s.metrics.HTTPMiddleware)
	}
	r.Use(httputil.MaxBytesMiddleware(maxFormBytes))

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)

	r.HandleFunc("/register", s.handleRegisterForm).Methods(http.MethodGet)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/verify", s.handleVerify).Methods(http.MethodGet)

	r.HandleFunc("/login", s.handleLoginForm).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	r.HandleFunc("/forgot", s.handleForgotForm).Methods(http.MethodGet)
	r.HandleFunc("/forgot", s.handleForgot).Methods(http.MethodPost)
	r.HandleFunc("/reset", s.handleResetForm).Methods(http.MethodGet)
	r.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)

	requireUser := s.guard.Require(authz.Rule{Resource: "web:profile"})
	r.Handle("/profile", requireUser(http.HandlerFunc(s.handleProfileForm))).Methods(http.MethodGet)
	r.Handle("/profile", requireUser(http.HandlerFunc(s.handleProfile))).Methods(http.MethodPost)

	if socketHandler != nil {
		r.Handle("/socket", socketHandler)
	}

	if s.cfg.StaticDir != "" {
		r.PathPrefix("/static/").Handler(
			http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))
	}

	return r
}
