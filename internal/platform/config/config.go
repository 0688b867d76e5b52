package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database captures PostgreSQL connection configuration. An empty URL means
// the in-memory mirror store is used instead.
type Database struct {
	URL            string
	MaxConnections int
}

// Redis captures the optional rate-limit counter backend.
type Redis struct {
	URL string
}

// Kafka captures the optional audit sink. Empty brokers disable it.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Security holds secrets the service refuses to start without.
type Security struct {
	// KeyEncryptionKey is the custody codec passphrase. An HSM or KMS
	// would hold this in a production deployment.
	KeyEncryptionKey string
	JWTSigningKey    string
	// SessionsPerMinute limits session creation per client IP.
	SessionsPerMinute int
}

// Config is the full service configuration, built from EVS_* environment
// variables so main stays lean.
type Config struct {
	ListenAddr    string
	LogLevel      string
	SweepInterval time.Duration
	Database      Database
	Redis         Redis
	Kafka         Kafka
	Security      Security
}

// FromEnv builds a Config from environment variables. Only the custody
// passphrase and JWT key are mandatory; everything else has a development
// default.
func FromEnv() (Config, error) {
	kek := os.Getenv("EVS_KEY_ENCRYPTION_KEY")
	if kek == "" {
		return Config{}, fmt.Errorf("EVS_KEY_ENCRYPTION_KEY must be set for encrypting ephemeral keys")
	}
	jwtKey := os.Getenv("EVS_JWT_SECRET")
	if jwtKey == "" {
		return Config{}, fmt.Errorf("EVS_JWT_SECRET must be set for API authentication")
	}

	cfg := Config{
		ListenAddr:    envOr("EVS_LISTEN_ADDR", "127.0.0.1:8080"),
		LogLevel:      envOr("EVS_LOG_LEVEL", "info"),
		SweepInterval: envDurationOr("EVS_SWEEP_INTERVAL", 30*time.Second),
		Database: Database{
			URL:            os.Getenv("EVS_DATABASE_URL"),
			MaxConnections: envIntOr("EVS_DATABASE_MAX_CONNECTIONS", 10),
		},
		Redis: Redis{
			URL: os.Getenv("EVS_REDIS_URL"),
		},
		Kafka: Kafka{
			Brokers: splitNonEmpty(os.Getenv("EVS_KAFKA_BROKERS")),
			Topic:   envOr("EVS_KAFKA_AUDIT_TOPIC", "evault.audit"),
		},
		Security: Security{
			KeyEncryptionKey:  kek,
			JWTSigningKey:     jwtKey,
			SessionsPerMinute: envIntOr("EVS_RATE_LIMIT_SESSIONS_PER_MINUTE", 60),
		},
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
