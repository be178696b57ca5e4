// Package app builds the process dependencies shared by the server and the worker from Config.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	auditrepo "auth-platform/backend/internal/audit/repository"
	"auth-platform/backend/internal/config"
	"auth-platform/backend/internal/db"
	"auth-platform/backend/internal/notification"
	"auth-platform/backend/internal/registration"
	"auth-platform/backend/internal/security"
	sessionrepo "auth-platform/backend/internal/session/repository"
	sessionsvc "auth-platform/backend/internal/session/service"
	userrepo "auth-platform/backend/internal/user/repository"
)

// Stores holds the user, session and audit repositories. Pool is nil when the in-memory backend is used.
type Stores struct {
	Users    userrepo.Repository
	Sessions sessionrepo.Repository
	Audit    auditrepo.Repository
	Pool     *pgxpool.Pool
}

// OpenStores connects to Postgres when DATABASE_URL is set and falls back to in-memory repositories otherwise.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		sessions := sessionrepo.NewMemoryRepository()
		return &Stores{
			Users:    userrepo.NewMemoryRepository(sessions),
			Sessions: sessions,
			Audit:    auditrepo.NewMemoryRepository(),
		}, nil
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, oops.Code("DB_UNAVAILABLE").Wrap(err)
	}
	return &Stores{
		Users:    userrepo.NewPostgresRepository(pool),
		Sessions: sessionrepo.NewPostgresRepository(pool),
		Audit:    auditrepo.NewPostgresRepository(pool),
		Pool:     pool,
	}, nil
}

// Persistent reports whether the stores outlive the process.
func (s *Stores) Persistent() bool {
	return s.Pool != nil
}

// Ping checks the database; the in-memory backend is always reachable.
func (s *Stores) Ping(ctx context.Context) error {
	if s.Pool == nil {
		return nil
	}
	return s.Pool.Ping(ctx)
}

// Close releases the pool.
func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// NewTokenIssuer builds the user token issuer. Outside production a missing key falls back to a random
// per-process HMAC secret, so tokens do not survive a restart.
func NewTokenIssuer(cfg *config.Config, logger *slog.Logger) (*security.TokenIssuer, error) {
	secret := cfg.JWTSecret
	if secret == "" && cfg.JWTPrivateKey == "" && !cfg.IsProduction() {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, oops.Code("KEY_GENERATION_FAILED").Wrap(err)
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("JWT_SECRET not set; using an ephemeral signing key")
	}
	issuer, err := security.NewIssuerFromConfig(secret, cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return nil, oops.Code("TOKEN_ISSUER_INVALID").Wrap(err)
	}
	return issuer, nil
}

// NewNotifier publishes to Kafka when brokers are configured and logs notifications otherwise. The returned
// function closes the underlying writer.
func NewNotifier(cfg *config.Config, logger *slog.Logger) (notification.Gateway, func() error) {
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set; notifications are logged only")
		return notification.NewLogGateway(logger), func() error { return nil }
	}
	gw := notification.NewKafkaGateway(brokers, cfg.NotificationTopic, cfg.NotifyCallTimeout(), logger)
	return gw, gw.Close
}

// Staging is the registration cache with its backend's probe and closer.
type Staging struct {
	Cache *registration.Cache
	Ping  func(ctx context.Context) error
	Close func() error
}

// NewStaging stages pending registrations in Redis when REDIS_ADDR is set and in memory otherwise.
func NewStaging(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Staging, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set; pending registrations are kept in memory")
		return &Staging{
			Cache: registration.NewCache(registration.NewMemoryStore()),
			Ping:  func(context.Context) error { return nil },
			Close: func() error { return nil },
		}, nil
	}
	client, err := registration.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	return &Staging{
		Cache: registration.NewCache(registration.NewRedisStore(client)),
		Ping:  func(ctx context.Context) error { return pingRedis(ctx, client) },
		Close: client.Close,
	}, nil
}

func pingRedis(ctx context.Context, client redis.UniversalClient) error {
	return client.Ping(ctx).Err()
}

// ManagerConfig maps Config onto the session manager settings.
func ManagerConfig(cfg *config.Config) sessionsvc.Config {
	inactive, revoke, retain := cfg.Thresholds()
	return sessionsvc.Config{
		AccessTTL:           cfg.AccessTTL(),
		RefreshTTL:          cfg.RefreshTTL(),
		InactivityThreshold: inactive,
		RevocationThreshold: revoke,
		RetentionThreshold:  retain,
		StoreTimeout:        cfg.StoreCallTimeout(),
		NotifyTimeout:       cfg.NotifyCallTimeout(),
		NotifyStrict:        cfg.NotifyStrict,
	}
}
