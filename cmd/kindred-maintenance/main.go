// Command kindred-maintenance runs the scheduled cleanup jobs: expired
// verification and reset tokens, and accounts that never verified.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/kindredhq/kindred/pkg/config"
	"github.com/kindredhq/kindred/pkg/user"
)

var (
	tokenSchedule      = flag.String("token-schedule", "30 * * * *", "Cron schedule for expired token cleanup (default: half past every hour)")
	unverifiedSchedule = flag.String("unverified-schedule", "45 2 * * *", "Cron schedule for unverified account cleanup (default: 02:45 UTC)")
	unverifiedMaxAge   = flag.Duration("unverified-max-age", 7*24*time.Hour, "Age past which an unverified account is removed")
	runOnce            = flag.Bool("run-once", false, "Run all cleanup jobs once and exit")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := user.NewDB(cfg.Postgres)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	store := user.NewPostgresStore(db)

	purgeTokens := func() {
		n, err := store.PurgeExpiredTokens(context.Background())
		if err != nil {
			logger.WithError(err).Error("Token cleanup failed")
			return
		}
		logger.WithField("deleted", n).Info("Expired tokens purged")
	}

	purgeUnverified := func() {
		n, err := store.PurgeUnverified(context.Background(), *unverifiedMaxAge)
		if err != nil {
			logger.WithError(err).Error("Unverified account cleanup failed")
			return
		}
		logger.WithField("deleted", n).Info("Stale unverified accounts purged")
	}

	if *runOnce {
		purgeTokens()
		purgeUnverified()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*tokenSchedule, purgeTokens); err != nil {
		logger.Fatalf("Failed to schedule token cleanup: %v", err)
	}
	if _, err := c.AddFunc(*unverifiedSchedule, purgeUnverified); err != nil {
		logger.Fatalf("Failed to schedule unverified account cleanup: %v", err)
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"token_schedule":      *tokenSchedule,
		"unverified_schedule": *unverifiedSchedule,
	}).Info("Maintenance scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	<-c.Stop().Done()
}
