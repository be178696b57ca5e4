// migrate runs DB migrations from embedded SQL.
package main

import (
	"flag"
	"os"

	"auth-platform/backend/internal/config"
	"auth-platform/backend/internal/db/migrate"
	"auth-platform/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Number of migrations to apply; 0 applies all")
	flag.Parse()

	logger := logging.Setup("auth-service-migrate", "", "text", os.Stderr)
	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env or set DATABASE_URL")
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction, *steps); err != nil {
		logger.Error("migrate", "direction", *direction, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "direction", *direction, "steps", *steps)
}
