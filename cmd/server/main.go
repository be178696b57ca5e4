// Command server serves AuthService over gRPC and exposes /metrics and health probes.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/health"

	"auth-platform/backend/internal/accounts"
	"auth-platform/backend/internal/app"
	"auth-platform/backend/internal/audit"
	"auth-platform/backend/internal/config"
	healthcheck "auth-platform/backend/internal/health"
	identityhandler "auth-platform/backend/internal/identity/handler"
	identityservice "auth-platform/backend/internal/identity/service"
	"auth-platform/backend/internal/logging"
	"auth-platform/backend/internal/policy/engine"
	"auth-platform/backend/internal/security"
	"auth-platform/backend/internal/server"
	"auth-platform/backend/internal/server/interceptors"
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
		logging.Setup("auth-service", version, "json", os.Stderr).Error("config", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, providers, err := app.Telemetry(ctx, cfg, "", version)
	if err != nil {
		logging.Setup(cfg.ServiceName, version, cfg.LogFormat, os.Stderr).Error("otel", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Warn("otel shutdown", "error", err)
		}
	}()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logging.Error(ctx, logger, "open stores", err)
		return 1
	}
	defer stores.Close()

	staging, err := app.NewStaging(ctx, cfg, logger)
	if err != nil {
		logging.Error(ctx, logger, "open registration staging", err)
		return 1
	}
	defer func() { _ = staging.Close() }()

	notifier, closeNotifier := app.NewNotifier(cfg, logger)
	defer func() { _ = closeNotifier() }()

	issuer, err := app.NewTokenIssuer(cfg, logger)
	if err != nil {
		logging.Error(ctx, logger, "token issuer", err)
		return 1
	}
	policy, err := engine.NewAuthorizer(ctx, "")
	if err != nil {
		logging.Error(ctx, logger, "policy", err)
		return 1
	}

	checker := healthcheck.NewChecker(2*time.Second, logger).
		Add("database", stores.Ping).
		Add("registration_staging", staging.Ping).
		Add("policy", policy.HealthCheck)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, checker.Ready, logger)
	auditLog := audit.NewLogger(stores.Audit, interceptors.ClientIP, logger)

	mgr := sessionsvc.NewManager(stores.Sessions, stores.Users, issuer, notifier, app.ManagerConfig(cfg),
		sessionsvc.WithLogger(logger),
		sessionsvc.WithMetrics(metricsSrv.Collector()),
		sessionsvc.WithAudit(auditLog),
	)

	authOpts := []identityservice.Option{
		identityservice.WithLogger(logger),
		identityservice.WithAudit(auditLog),
		identityservice.WithRegistrationTTL(cfg.RegistrationStagingTTL()),
	}
	if cfg.AccountServiceURL != "" {
		if cfg.ServiceJWTSecret == "" {
			logger.Error("SERVICE_JWT_SECRET is required when ACCOUNT_SERVICE_URL is set")
			return 1
		}
		tokens := security.NewServiceTokenIssuer([]byte(cfg.ServiceJWTSecret), cfg.ServiceName, cfg.ServiceTokenTTL())
		authOpts = append(authOpts, identityservice.WithAccounts(accounts.NewClient(cfg.AccountServiceURL, tokens, 10*time.Second)))
	}
	authSvc := identityservice.NewAuthService(stores.Users, mgr, staging.Cache, notifier,
		security.NewHasher(cfg.BcryptCost), policy, authOpts...)

	gate := interceptors.NewGate(issuer, mgr, interceptors.WithActivity(mgr), interceptors.WithGateLogger(logger))
	healthSrv := health.NewServer()
	grpcSrv := server.NewServer(server.Deps{Auth: authSvc, Gate: gate, Health: healthSrv, Logger: logger})
	go checker.Watch(ctx, healthSrv, identityhandler.ServiceName, 15*time.Second)

	// In-memory sessions live in this process, so the sweeps must too.
	if !stores.Persistent() {
		sched := scheduler.New(cfg.SweepEvery(), logger, app.SweepJobs(mgr, logger)...)
		go sched.Start(ctx)
	}

	var metricsErr <-chan error
	if cfg.MetricsAddr != "" {
		metricsErr, err = metricsSrv.Start()
		if err != nil {
			logging.Error(ctx, logger, "metrics server", err)
			return 1
		}
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("listen", "addr", cfg.GRPCAddr, "error", err)
		return 1
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", "addr", lis.Addr().String())
		serveErr <- grpcSrv.Serve(lis)
	}()

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.Error("gRPC server stopped", "error", err)
		code = 1
	case err := <-metricsErr:
		logger.Error("metrics server stopped", "error", err)
		code = 1
	}

	healthSrv.Shutdown()
	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		grpcSrv.Stop()
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Stop(sctx); err != nil {
		logger.Warn("metrics shutdown", "error", err)
	}
	logger.Info("server stopped")
	return code
}
