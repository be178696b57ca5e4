// Package health aggregates dependency probes into one readiness signal for the metrics listener and the
// standard gRPC health service.
package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe reports whether one dependency is usable.
type Probe func(ctx context.Context) error

// Checker runs named probes with a shared deadline.
type Checker struct {
	probes  map[string]Probe
	order   []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker returns a Checker whose probes each run under timeout.
func NewChecker(timeout time.Duration, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{probes: map[string]Probe{}, timeout: timeout, logger: logger}
}

// Add registers probe under name. A later Add with the same name replaces it.
func (c *Checker) Add(name string, probe Probe) *Checker {
	if _, ok := c.probes[name]; !ok {
		c.order = append(c.order, name)
	}
	c.probes[name] = probe
	return c
}

// Check runs every probe and joins the failures.
func (c *Checker) Check(ctx context.Context) error {
	var errs []error
	for _, name := range c.order {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.probes[name](pctx)
		cancel()
		if err != nil {
			errs = append(errs, oops.Code("HEALTH_PROBE_FAILED").With("probe", name).Wrap(err))
		}
	}
	return errors.Join(errs...)
}

// Ready runs Check in the background context and logs a failure.
func (c *Checker) Ready() bool {
	if err := c.Check(context.Background()); err != nil {
		c.logger.Warn("readiness check failed", "error", err)
		return false
	}
	return true
}

// Watch publishes the result of Check for service to srv every interval until ctx is canceled.
func (c *Checker) Watch(ctx context.Context, srv *health.Server, service string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.publish(ctx, srv, service)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Checker) publish(ctx context.Context, srv *health.Server, service string) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		c.logger.WarnContext(ctx, "dependency unhealthy", "service", service, "error", err)
	}
	srv.SetServingStatus(service, status)
}
