// Package config builds process configuration from environment variables so
// main stays lean. Defaults are development-friendly; production deployments
// override everything through the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all process-level configuration.
type Config struct {
	Addr          string
	PostgresURL   string
	Redis         RedisConfig
	Kafka         KafkaConfig
	JWTSigningKey string
	JWTIssuer     string

	// Collaborator endpoints.
	DirectoryURL string // identity directory base URL
	FeedURL      string // connector account feed base URL

	// Reconciliation tuning.
	WorkerLimit      int           // default per-connector worker bound when policy does not set one
	AccountTimeout   time.Duration // per-account evaluation deadline
	LookupMaxRetries int           // transient candidate-lookup retries before a failure event
	OutboxInterval   time.Duration // audit outbox relay poll interval
}

// RedisConfig holds connection settings for the candidate-lookup cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// KafkaConfig holds settings for the audit relay producer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:          getEnv("CORRELATE_ADDR", ":8080"),
		PostgresURL:   os.Getenv("CORRELATE_POSTGRES_URL"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     getEnv("JWT_ISSUER", "identity-platform"),
		DirectoryURL:  os.Getenv("CORRELATE_DIRECTORY_URL"),
		FeedURL:       os.Getenv("CORRELATE_FEED_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("CORRELATE_REDIS_URL"),
			PoolSize:     getEnvInt("CORRELATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("CORRELATE_REDIS_MIN_IDLE", 2),
			DialTimeout:  getEnvDuration("CORRELATE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("CORRELATE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("CORRELATE_REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     getEnvDuration("CORRELATE_CANDIDATE_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("CORRELATE_KAFKA_BROKERS")),
			Topic:   getEnv("CORRELATE_KAFKA_AUDIT_TOPIC", "correlation.audit"),
		},
		WorkerLimit:      getEnvInt("CORRELATE_WORKER_LIMIT", 8),
		AccountTimeout:   getEnvDuration("CORRELATE_ACCOUNT_TIMEOUT", 30*time.Second),
		LookupMaxRetries: getEnvInt("CORRELATE_LOOKUP_MAX_RETRIES", 3),
		OutboxInterval:   getEnvDuration("CORRELATE_OUTBOX_INTERVAL", 2*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
