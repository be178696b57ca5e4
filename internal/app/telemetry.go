package app

import (
	"context"
	"log/slog"
	"os"

	"auth-platform/backend/internal/config"
	"auth-platform/backend/internal/logging"
	telemetryotel "auth-platform/backend/internal/telemetry/otel"
)

// Telemetry starts the OTel providers and returns a logger that writes to stderr and to the OTel log
// pipeline. Callers must call Shutdown on the returned providers.
func Telemetry(ctx context.Context, cfg *config.Config, component, version string) (*slog.Logger, *telemetryotel.Providers, error) {
	service := cfg.ServiceName
	if component != "" {
		service += "-" + component
	}
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    service,
		ServiceVersion: version,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, nil, err
	}
	providers.SetGlobal()

	local := logging.Setup(service, version, cfg.LogFormat, os.Stderr)
	if cfg.OTLPEndpoint == "" {
		return local, providers, nil
	}
	logger := slog.New(telemetryotel.Tee(local.Handler(), telemetryotel.NewLogHandler(providers.LoggerProvider)))
	return logger, providers, nil
}
