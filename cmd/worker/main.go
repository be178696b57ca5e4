// Command worker runs the session sweeps on a fixed interval against the shared Postgres store.
// Run exactly one worker per deployment.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth-platform/backend/internal/app"
	"auth-platform/backend/internal/audit"
	"auth-platform/backend/internal/config"
	healthcheck "auth-platform/backend/internal/health"
	"auth-platform/backend/internal/logging"
	"auth-platform/backend/internal/session/scheduler"
	sessionsvc "auth-platform/backend/internal/session/service"
	"auth-platform/backend/internal/telemetry/metrics"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("auth-service-worker", version, "json", os.Stderr).Error("config", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, providers, err := app.Telemetry(ctx, cfg, "worker", version)
	if err != nil {
		logging.Setup(cfg.ServiceName, version, cfg.LogFormat, os.Stderr).Error("otel", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	if cfg.DatabaseURL == "" {
		logger.Error("worker: DATABASE_URL is required; in-memory sessions are swept by the server itself")
		return 1
	}
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logging.Error(ctx, logger, "open stores", err)
		return 1
	}
	defer stores.Close()

	issuer, err := app.NewTokenIssuer(cfg, logger)
	if err != nil {
		logging.Error(ctx, logger, "token issuer", err)
		return 1
	}
	notifier, closeNotifier := app.NewNotifier(cfg, logger)
	defer func() { _ = closeNotifier() }()

	checker := healthcheck.NewChecker(2*time.Second, logger).Add("database", stores.Ping)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, checker.Ready, logger)
	if cfg.MetricsAddr != "" {
		if _, err := metricsSrv.Start(); err != nil {
			logging.Error(ctx, logger, "metrics server", err)
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Stop(sctx)
		}()
	}

	mgr := sessionsvc.NewManager(stores.Sessions, stores.Users, issuer, notifier, app.ManagerConfig(cfg),
		sessionsvc.WithLogger(logger),
		sessionsvc.WithMetrics(metricsSrv.Collector()),
		sessionsvc.WithAudit(audit.NewLogger(stores.Audit, nil, logger)),
	)
	scheduler.New(cfg.SweepEvery(), logger, app.SweepJobs(mgr, logger)...).Start(ctx)
	logger.Info("worker stopped")
	return 0
}
