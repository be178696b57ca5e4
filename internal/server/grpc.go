// Package server assembles the gRPC server: interceptors, the auth service and the standard health service.
package server

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	identityhandler "auth-platform/backend/internal/identity/handler"
	identityservice "auth-platform/backend/internal/identity/service"
	"auth-platform/backend/internal/server/interceptors"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps holds the dependencies of the registered services.
type Deps struct {
	// Auth serves AuthService. If nil, every auth RPC returns Unimplemented.
	Auth *identityservice.AuthService
	// Gate authenticates bearer tokens on non-public methods. Required by NewServer.
	Gate *interceptors.Gate
	// Health backs grpc.health.v1.Health. If nil, a server reporting SERVING is created.
	Health *health.Server
	Logger *slog.Logger
}

// NewServer returns a gRPC server with tracing, request logging and bearer authentication installed and
// every service registered.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(logger, map[string]bool{healthCheckMethod: true}),
			interceptors.AuthUnary(deps.Gate, PublicMethods()),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterServices(s, deps)
	return s
}

// PublicMethods returns the methods that may be called without a bearer token.
func PublicMethods() map[string]bool {
	out := map[string]bool{healthCheckMethod: true}
	for m := range identityhandler.PublicMethods {
		out[m] = true
	}
	return out
}

// RegisterServices registers AuthService and the health service with s.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	identityhandler.Register(s, identityhandler.NewAuthServer(deps.Auth))
	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
}
