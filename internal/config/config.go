// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// MetricsAddr serves /metrics and /healthz; empty disables the observability listener.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores (not allowed in production).
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTSecret is the HMAC key for HS256 user tokens. Ignored when JWTPrivateKey is set.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// ServiceJWTSecret signs service-to-service tokens for the account service call.
	ServiceJWTSecret string `mapstructure:"SERVICE_JWT_SECRET"`
	// ServiceJWTTTL is the service token lifetime.
	ServiceJWTTTL string `mapstructure:"SERVICE_JWT_TTL"`
	// ServiceName is the service_name claim and the OTel resource name.
	ServiceName string `mapstructure:"SERVICE_NAME"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// RedisAddr selects the Redis registration staging backend; empty uses the in-memory backend.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// RegistrationTTL is how long a pending registration and its code live.
	RegistrationTTL string `mapstructure:"REGISTRATION_TTL"`

	// KafkaBrokers is a comma-separated list of brokers for the notification topic. Empty logs notifications instead.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// NotificationTopic is the Kafka topic consumed by the notification service.
	NotificationTopic string `mapstructure:"NOTIFICATION_TOPIC"`
	// NotifyStrict makes a notification failure abort the calling operation.
	NotifyStrict bool `mapstructure:"NOTIFY_STRICT"`

	// AccountServiceURL is the base URL of the account service. Empty skips the registration hand-off.
	AccountServiceURL string `mapstructure:"ACCOUNT_SERVICE_URL"`

	InactivityThreshold string `mapstructure:"INACTIVITY_THRESHOLD"`
	RevocationThreshold string `mapstructure:"REVOCATION_THRESHOLD"`
	RetentionThreshold  string `mapstructure:"RETENTION_THRESHOLD"`
	// SweepInterval is the worker ticker period.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	// StoreTimeout bounds every storage call; NotifyTimeout bounds every notification publish.
	StoreTimeout  string `mapstructure:"STORE_TIMEOUT"`
	NotifyTimeout string `mapstructure:"NOTIFY_TIMEOUT"`

	// OTLPEndpoint is the OTLP gRPC collector (host:port or URL). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9100")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("SERVICE_JWT_SECRET", "")
	v.SetDefault("SERVICE_JWT_TTL", "5m")
	v.SetDefault("SERVICE_NAME", "auth-service")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REGISTRATION_TTL", "5m")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("NOTIFICATION_TOPIC", "auth-notifications-topic")
	v.SetDefault("NOTIFY_STRICT", true)
	v.SetDefault("ACCOUNT_SERVICE_URL", "")
	v.SetDefault("INACTIVITY_THRESHOLD", "2h")
	v.SetDefault("REVOCATION_THRESHOLD", "24h")
	v.SetDefault("RETENTION_THRESHOLD", "24h")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("NOTIFY_TIMEOUT", "5s")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		return nil, errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	if (cfg.JWTPrivateKey == "") != (cfg.JWTPublicKey == "") {
		return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}

	if cfg.IsProduction() {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL is required when APP_ENV=production")
		}
		if len(cfg.KafkaBrokersList()) == 0 {
			return nil, errors.New("config: KAFKA_BROKERS is required when APP_ENV=production")
		}
		if cfg.JWTSecret == "" && cfg.JWTPrivateKey == "" {
			return nil, errors.New("config: JWT_SECRET or JWT_PRIVATE_KEY is required when APP_ENV=production")
		}
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// ServiceTokenTTL returns the service token lifetime, 5m by default.
func (c *Config) ServiceTokenTTL() time.Duration {
	return parseDuration(c.ServiceJWTTTL, 5*time.Minute)
}

// RegistrationStagingTTL returns the pending registration lifetime, 5m by default.
func (c *Config) RegistrationStagingTTL() time.Duration {
	return parseDuration(c.RegistrationTTL, 5*time.Minute)
}

// Thresholds returns the inactivity, revocation and retention sweep thresholds.
func (c *Config) Thresholds() (inactive, revoke, retain time.Duration) {
	return parseDuration(c.InactivityThreshold, 2*time.Hour),
		parseDuration(c.RevocationThreshold, 24*time.Hour),
		parseDuration(c.RetentionThreshold, 24*time.Hour)
}

// SweepEvery returns the sweep ticker period, 5m by default.
func (c *Config) SweepEvery() time.Duration {
	return parseDuration(c.SweepInterval, 5*time.Minute)
}

// StoreCallTimeout returns the per-call storage deadline.
func (c *Config) StoreCallTimeout() time.Duration {
	return parseDuration(c.StoreTimeout, 5*time.Second)
}

// NotifyCallTimeout returns the per-call notification deadline.
func (c *Config) NotifyCallTimeout() time.Duration {
	return parseDuration(c.NotifyTimeout, 5*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
