package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "carelink/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	DatabaseURL   string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	Redis    RedisConfig
	Registry RegistryConfig
	Audit    AuditConfig

	// OverdueAfter marks pending referrals with no recent follow-up as
	// needing attention in list projections.
	OverdueAfter time.Duration

	// DraftTTL bounds how long an unsubmitted form draft is kept.
	DraftTTL time.Duration
}

// RedisConfig holds connection settings for the optional Redis cache.
// An empty URL disables Redis-backed features (registry cache, form drafts).
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RegistryConfig points at the external client registry.
type RegistryConfig struct {
	BaseURL string
	// CacheTTL enforces retention for denormalized registry data; lookups
	// are cached at most this long.
	CacheTTL time.Duration
}

// AuditConfig controls the async audit mirror. Brokers empty means the Kafka
// publisher is disabled; the in-record audit log is always written regardless.
type AuditConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:          envOr("CARELINK_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("CARELINK_DATABASE_URL"),
		JWTSigningKey: envOr("CARELINK_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     envOr("CARELINK_JWT_ISSUER", "carelink"),
		JWTAudience:   envOr("CARELINK_JWT_AUDIENCE", "carelink-dashboard"),
		Redis: RedisConfig{
			URL:          os.Getenv("CARELINK_REDIS_URL"),
			PoolSize:     envIntOr("CARELINK_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("CARELINK_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDurationOr("CARELINK_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("CARELINK_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("CARELINK_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Registry: RegistryConfig{
			BaseURL:  os.Getenv("CARELINK_REGISTRY_URL"),
			CacheTTL: envDurationOr("CARELINK_REGISTRY_CACHE_TTL", 5*time.Minute),
		},
		Audit: AuditConfig{
			Brokers: splitNonEmpty(os.Getenv("CARELINK_AUDIT_BROKERS")),
			Topic:   envOr("CARELINK_AUDIT_TOPIC", "carelink.audit"),
		},
		OverdueAfter: envDurationOr("CARELINK_OVERDUE_AFTER", 7*24*time.Hour),
		DraftTTL:     envDurationOr("CARELINK_DRAFT_TTL", 24*time.Hour),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return platformstrings.DedupeAndTrim(strings.Split(s, ","))
}
