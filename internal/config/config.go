package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	Port    string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver      string
	DBConnection  string
	DBAutoMigrate bool

	// Security
	JWTSecret string
	JWTExpiry time.Duration

	// Logging
	LogLevel string // Optional override: debug, info, warn, error

	// API write rate limit (0 disables)
	WriteRateLimit  int
	WriteRateWindow time.Duration

	// Observability (optional)
	SentryDSN string

	// Repository
	RepoTimeout time.Duration // Clamped to 8s..15s by the repository layer

	// Change feed
	FeedBackoffBase time.Duration
	FeedBackoffMax  time.Duration
	FeedRetryBudget int

	// Notifications
	NotifyDefaultTTL time.Duration

	// Dashboard
	DashboardWindowDays int

	// Snapshot storage (S3-compatible, optional: empty bucket keeps snapshots in memory)
	SnapshotRegion    string
	SnapshotBucket    string
	SnapshotAccessKey string
	SnapshotSecretKey string
	SnapshotEndpoint  string // Optional: for S3-compatible services (MinIO, R2, etc.)
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "healthsync"),
		AppEnv:  envRequired("APP_ENV"), // Required: 'development' or 'production'
		Port:    envString("PORT", "8090"),

		// Database
		DBDriver:      envString("DB_DRIVER", "sqlite"),
		DBConnection:  envString("DB_CONNECTION", "./data/healthsync.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"),
		DBAutoMigrate: envBool("DB_AUTO_MIGRATE", true),

		// Security
		JWTSecret: envRequired("JWT_SECRET"),
		JWTExpiry: envDuration("JWT_EXPIRY", 7*24*time.Hour),

		// Logging
		LogLevel: envString("LOG_LEVEL", ""),

		// API write rate limit
		WriteRateLimit:  envInt("WRITE_RATE_LIMIT", 120),
		WriteRateWindow: envDuration("WRITE_RATE_WINDOW", time.Minute),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// Repository
		RepoTimeout: envDuration("REPO_TIMEOUT", 10*time.Second),

		// Change feed
		FeedBackoffBase: envDuration("FEED_BACKOFF_BASE", 1*time.Second),
		FeedBackoffMax:  envDuration("FEED_BACKOFF_MAX", 30*time.Second),
		FeedRetryBudget: envInt("FEED_RETRY_BUDGET", 6),

		// Notifications
		NotifyDefaultTTL: envDuration("NOTIFY_DEFAULT_TTL", 5*time.Second),

		// Dashboard
		DashboardWindowDays: envInt("DASHBOARD_WINDOW_DAYS", 30),

		// Snapshot storage
		SnapshotRegion:    envString("SNAPSHOT_S3_REGION", "us-east-1"),
		SnapshotBucket:    envString("SNAPSHOT_S3_BUCKET", ""),
		SnapshotAccessKey: envString("SNAPSHOT_S3_ACCESS_KEY", ""),
		SnapshotSecretKey: envString("SNAPSHOT_S3_SECRET_KEY", ""),
		SnapshotEndpoint:  envString("SNAPSHOT_S3_ENDPOINT", ""),
	}

	// Production: validate required services
	if cfg.IsProduction() {
		validateProduction(cfg)
	}

	return cfg
}

// validateProduction ensures settings that only matter outside development are sane.
func validateProduction(cfg *Config) {
	if len(cfg.JWTSecret) < 32 {
		slog.Error("production deployment requires a JWT_SECRET of at least 32 bytes")
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return i
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SnapshotsEnabled reports whether cache snapshots go to S3.
func (c *Config) SnapshotsEnabled() bool {
	return c.SnapshotBucket != ""
}

// Sanitized returns a copy of the config with only public/safe fields.
// All secrets and credentials are excluded.
func (c *Config) Sanitized() *Config {
	return &Config{
		AppName:             c.AppName,
		AppEnv:              c.AppEnv,
		Port:                c.Port,
		JWTExpiry:           c.JWTExpiry,
		LogLevel:            c.LogLevel,
		RepoTimeout:         c.RepoTimeout,
		FeedBackoffBase:     c.FeedBackoffBase,
		FeedBackoffMax:      c.FeedBackoffMax,
		FeedRetryBudget:     c.FeedRetryBudget,
		NotifyDefaultTTL:    c.NotifyDefaultTTL,
		DashboardWindowDays: c.DashboardWindowDays,
		SnapshotEndpoint:    c.SnapshotEndpoint,
	}
}
