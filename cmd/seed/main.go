// seed creates the first ADMIN user so BlockUser can be exercised. Idempotent: skips when the username exists.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"

	"auth-platform/backend/internal/config"
	"auth-platform/backend/internal/db"
	"auth-platform/backend/internal/logging"
	"auth-platform/backend/internal/security"
	userdomain "auth-platform/backend/internal/user/domain"
	userrepo "auth-platform/backend/internal/user/repository"
)

func main() {
	username := flag.String("username", "admin", "Admin username")
	email := flag.String("email", "admin@example.com", "Admin email")
	password := flag.String("password", os.Getenv("SEED_ADMIN_PASSWORD"), "Admin password (default $SEED_ADMIN_PASSWORD)")
	flag.Parse()

	logger := logging.Setup("auth-service-seed", "", "text", os.Stderr)
	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env or set DATABASE_URL")
		os.Exit(1)
	}
	if *password == "" {
		logger.Error("an admin password is required (-password or SEED_ADMIN_PASSWORD)")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	users := userrepo.NewPostgresRepository(pool)

	existing, err := users.GetByUsername(ctx, *username)
	if err != nil {
		logger.Error("seed check", "error", err)
		os.Exit(1)
	}
	if existing != nil {
		logger.Info("seed already applied; skipping", "username", *username)
		return
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash(*password)
	if err != nil {
		logger.Error("hash password", "error", err)
		os.Exit(1)
	}
	admin := &userdomain.User{
		ID:           uuid.NewString(),
		Username:     *username,
		Email:        *email,
		PasswordHash: hash,
		Role:         userdomain.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := admin.Validate(); err != nil {
		logger.Error("invalid admin", "error", err)
		os.Exit(1)
	}
	if err := users.Create(ctx, admin); err != nil {
		logger.Error("create admin", "error", err)
		os.Exit(1)
	}
	logger.Info("admin created", "username", admin.Username, "id", admin.ID)
}
