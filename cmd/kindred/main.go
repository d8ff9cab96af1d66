// Command kindred runs the community web server: the server-rendered
// pages, the realtime websocket endpoint, and the operational endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kindredhq/kindred/pkg/audit"
	"github.com/kindredhq/kindred/pkg/authz"
	"github.com/kindredhq/kindred/pkg/config"
	"github.com/kindredhq/kindred/pkg/mailer"
	"github.com/kindredhq/kindred/pkg/observability"
	"github.com/kindredhq/kindred/pkg/pubsub"
	"github.com/kindredhq/kindred/pkg/realtime"
	"github.com/kindredhq/kindred/pkg/session"
	"github.com/kindredhq/kindred/pkg/user"
	"github.com/kindredhq/kindred/pkg/web"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kindred: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)
	logger.WithField("version", version).Info("starting kindred")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	// Backing stores.
	redisClient, err := session.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	db, err := user.NewDB(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	var auditor audit.Logger = audit.NopLogger{}
	if cfg.Web.AuditLogPath != "" {
		fileAuditor, err := audit.NewFileLogger(cfg.Web.AuditLogPath)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer fileAuditor.Close()
		auditor = fileAuditor
	}

	// Fan-out bridge: in-process for one node, Redis PUBSUB when peers
	// must see each other's messages.
	var bridge *pubsub.Bridge
	if cfg.Realtime.MultiNode {
		bridge = pubsub.NewMultiNode(redisClient, logger)
	} else {
		bridge = pubsub.NewSingleNode(logger)
	}
	bridge.Start(ctx)
	defer bridge.Close()

	// Domain services.
	sessions := session.NewManager(session.NewRedisStore(redisClient), cfg.Web.CookieName, cfg.Web.CookieSecure, cfg.Web.SessionTTL)

	pgStore := user.NewPostgresStore(db)
	if err := pgStore.EnsureSchema(ctx); err != nil {
		return err
	}
	var userStore user.Store = user.NewCachedStore(pgStore, 1024, time.Minute)

	var mail mailer.Mailer
	if cfg.Mail.Enabled {
		mail = mailer.NewSMTP(cfg.Mail)
	} else {
		mail = mailer.NewLogMailer(logger)
	}

	users := user.NewService(userStore, mail, bridge, logger, cfg.Web.BaseURL, cfg.Web.VerifyTokenTTL, cfg.Web.ResetTokenTTL)
	gate := authz.NewGate(logger, auditor, metrics)
	guard := authz.NewHTTPGuard(gate, sessions, cfg.Web.LoginRoute)

	// Realtime endpoint.
	registry := realtime.NewRegistry(bridge, logger, metrics)
	authorizer := realtime.NewAuthorizer(sessions.Store(), cfg.Realtime.ChallengeTimeout, logger, auditor, metrics)
	socket := realtime.NewServer(cfg.Realtime, authorizer, registry, gate, logger, metrics, version)

	// Web surface.
	templates, err := web.NewTemplates(cfg.Web.TemplateDir, cfg.Web.DevMode, logger)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	webServer := web.NewServer(cfg.Web, users, sessions, guard, templates, logger, auditor, metrics)
	router := webServer.Router(socket)

	health := observability.NewHealthChecker(db, redisClient)
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(router, "kindred")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("server shutdown was not clean")
		}
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("trace flush failed")
		}
		return nil
	})

	return g.Wait()
}
