package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Aggregation provider
	ProviderBaseURL  string
	ProviderClientID string
	ProviderSecret   string
	WebhookSecret    string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Sync workers
	SyncWorkers   int
	SyncQueueSize int
	SyncJobDelay  time.Duration

	// Cache
	AccountsCacheTTL time.Duration
	ReportCacheTTL   time.Duration

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// JWT / Auth
	JWTSecret    string
	JWTAccessTTL time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ProviderBaseURL:  getEnv("PROVIDER_BASE_URL", "http://localhost:8091"),
		ProviderClientID: getEnv("PROVIDER_CLIENT_ID", ""),
		ProviderSecret:   getEnv("PROVIDER_SECRET", ""),
		WebhookSecret:    getEnv("PROVIDER_WEBHOOK_SECRET", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("PROVIDER_MAX_CONCURRENCY", 8),

		SyncWorkers:   getEnvInt("SYNC_WORKERS", 4),
		SyncQueueSize: getEnvInt("SYNC_QUEUE_SIZE", 64),
		SyncJobDelay:  getEnvDuration("SYNC_JOB_DELAY", 0),

		AccountsCacheTTL: getEnvDuration("ACCOUNTS_CACHE_TTL", 5*time.Minute),
		ReportCacheTTL:   getEnvDuration("REPORT_CACHE_TTL", 1*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		JWTSecret:    getEnv("JWT_SECRET", "ledger-default-dev-secret-change-me"),
		JWTAccessTTL: getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
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
		if i, err := strconv.Atoi(v); err == nil {
			return i
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
