package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.GRPCAddr != ":8080" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":8080")
	}
	if cfg.JWTAccessTTL != "15m" {
		t.Errorf("JWTAccessTTL = %q, want %q", cfg.JWTAccessTTL, "15m")
	}
	if cfg.JWTRefreshTTL != "168h" {
		t.Errorf("JWTRefreshTTL = %q, want %q", cfg.JWTRefreshTTL, "168h")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.NotificationTopic != "auth-notifications-topic" {
		t.Errorf("NotificationTopic = %q, want default", cfg.NotificationTopic)
	}
	if !cfg.NotifyStrict {
		t.Error("NotifyStrict should default to true")
	}
	if cfg.ServiceName != "auth-service" {
		t.Errorf("ServiceName = %q, want auth-service", cfg.ServiceName)
	}
	if cfg.RegistrationStagingTTL() != 5*time.Minute {
		t.Errorf("RegistrationStagingTTL = %v, want 5m", cfg.RegistrationStagingTTL())
	}
	inactive, revoke, retain := cfg.Thresholds()
	if inactive != 2*time.Hour || revoke != 24*time.Hour || retain != 24*time.Hour {
		t.Errorf("Thresholds = %v/%v/%v, want 2h/24h/24h", inactive, revoke, retain)
	}
	if cfg.SweepEvery() != 5*time.Minute {
		t.Errorf("SweepEvery = %v, want 5m", cfg.SweepEvery())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":9090")
	os.Setenv("BCRYPT_COST", "14")
	os.Setenv("NOTIFY_STRICT", "false")
	os.Setenv("INACTIVITY_THRESHOLD", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, want 14", cfg.BcryptCost)
	}
	if cfg.NotifyStrict {
		t.Error("NotifyStrict should be false")
	}
	if inactive, _, _ := cfg.Thresholds(); inactive != 30*time.Minute {
		t.Errorf("inactivity threshold = %v, want 30m", inactive)
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "4", 4, false},
		{"valid max", "31", 31, false},
		{"valid middle", "12", 12, false},
		{"too low", "3", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("GRPC_ADDR", ":8080")
			os.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")
	os.Setenv("JWT_SECRET", "short")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject a JWT_SECRET shorter than 32 bytes")
	}
}

func TestLoad_KeyPairMustBeComplete(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")
	os.Setenv("JWT_PRIVATE_KEY", "/keys/private.pem")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject JWT_PRIVATE_KEY without JWT_PUBLIC_KEY")
	}
}

func TestLoad_ProductionRequiresBackends(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")
	os.Setenv("APP_ENV", "production")
	os.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when DATABASE_URL is empty in production")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
	if err.Error() != "config: DATABASE_URL is required when APP_ENV=production" {
		t.Errorf("error = %q, want database message", err.Error())
	}

	os.Setenv("DATABASE_URL", "postgres://localhost/auth")
	if _, err := Load(); err == nil {
		t.Fatal("Load should return error when KAFKA_BROKERS is empty in production")
	}

	os.Setenv("KAFKA_BROKERS", "kafka:9092")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction should be true")
	}
}

func TestAccessTTL_ValidDuration(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")
	os.Setenv("JWT_ACCESS_TTL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ttl := cfg.AccessTTL(); ttl != 30*time.Minute {
		t.Errorf("AccessTTL = %v, want %v", ttl, 30*time.Minute)
	}
}

func TestAccessTTL_Fallbacks(t *testing.T) {
	for _, v := range []string{"invalid", "0", "-5m"} {
		t.Run(v, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("GRPC_ADDR", ":8080")
			os.Setenv("JWT_ACCESS_TTL", v)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if ttl := cfg.AccessTTL(); ttl != 15*time.Minute {
				t.Errorf("AccessTTL = %v, want %v (default)", ttl, 15*time.Minute)
			}
		})
	}
}

func TestRefreshTTL_ValidDuration(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")
	os.Setenv("JWT_REFRESH_TTL", "336h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ttl := cfg.RefreshTTL(); ttl != 14*24*time.Hour {
		t.Errorf("RefreshTTL = %v, want %v", ttl, 14*24*time.Hour)
	}
}

func TestRefreshTTL_InvalidDuration(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":8080")
	os.Setenv("JWT_REFRESH_TTL", "invalid")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ttl := cfg.RefreshTTL(); ttl != 168*time.Hour {
		t.Errorf("RefreshTTL = %v, want %v (default)", ttl, 168*time.Hour)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	cfg := &Config{KafkaBrokers: " a:9092, ,b:9092 "}
	want := []string{"a:9092", "b:9092"}
	if got := cfg.KafkaBrokersList(); !reflect.DeepEqual(got, want) {
		t.Errorf("KafkaBrokersList = %v, want %v", got, want)
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil brokers")
	}
}
