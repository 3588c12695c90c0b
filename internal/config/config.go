// Package config provides application configuration through environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// ServerHost is the host address the server will bind to.
	ServerHost string
	// ServerPort is the port number the server will listen on.
	ServerPort int
	// ServerProvider selects, by name, which configured provider this process fronts.
	ServerProvider string
	// ServerDrainSeconds bounds how long graceful shutdown waits for in-flight requests.
	ServerDrainSeconds time.Duration

	// DatabasePath is the on-disk SQLite file path for the credential and statistics stores.
	DatabasePath string
	// DatabaseMaxKeys is the pool capacity gate for auto-enrollment.
	DatabaseMaxKeys int

	// ProvidersConfigPath points at the YAML file describing the configured providers.
	ProvidersConfigPath string

	// LogLevel is the logging level (e.g., "debug", "info", "warn", "error").
	LogLevel string

	// PresentedKeyRateLimitSeconds is the minimum interval between admissions for one presenter.
	PresentedKeyRateLimitSeconds int

	// AuthFailureBlockMinutes is how long a credential is blocked after a 401.
	AuthFailureBlockMinutes int
	// AuthFailureDeleteThreshold is the consecutive-401 count that deletes a credential.
	AuthFailureDeleteThreshold int

	// ThrottleBackoffBaseMinutes is the base B in the 2^(n-1) * B backoff formula.
	ThrottleBackoffBaseMinutes int
	// ThrottleDeleteThreshold is the consecutive-429 count that deletes a credential.
	ThrottleDeleteThreshold int

	// StatsRetentionDays is how many days of daily statistics the janitor retains.
	StatsRetentionDays int
	// StatsCleanupIntervalMinutes is how often the janitor runs.
	StatsCleanupIntervalMinutes int
	// StatsAutoCleanup controls whether the janitor runs automatically at startup.
	StatsAutoCleanup bool
	// StatsCacheExpirySeconds is the hot cache refresh interval S (floored at 60s internally).
	StatsCacheExpirySeconds int

	// EncryptionKey is the 64-hex-char at-rest encryption key, if supplied via environment.
	EncryptionKey string
	// EncryptionKeyFilePath is where a generated key is persisted when EncryptionKey is unset.
	EncryptionKeyFilePath string

	// SSLEnabled controls whether the server terminates TLS directly.
	SSLEnabled bool
	// SSLCertPath is the TLS certificate file path.
	SSLCertPath string
	// SSLKeyPath is the TLS private key file path.
	SSLKeyPath string

	// MetricsEnabled indicates whether metrics collection is enabled.
	MetricsEnabled bool
	// MetricsNamespace is the namespace for the application metrics.
	MetricsNamespace string
	// MetricsPort is the port number for the metrics server.
	MetricsPort int

	// CORSEnabled indicates whether CORS is enabled.
	CORSEnabled bool
	// CORSAllowOrigins is a comma-separated list of allowed origins for CORS.
	CORSAllowOrigins string
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	loadDotEnv()

	return &Config{
		ServerHost:         env.GetString("SERVER_HOST", "0.0.0.0"),
		ServerPort:         env.GetInt("SERVER_PORT", 8080),
		ServerProvider:     env.GetString("SERVER_PROVIDER", ""),
		ServerDrainSeconds: env.GetDuration("SERVER_DRAIN_SECONDS", 30, time.Second),

		DatabasePath:    env.GetString("DATABASE_PATH", "./key-commune.db"),
		DatabaseMaxKeys: env.GetInt("DATABASE_MAX_KEYS", 200),

		ProvidersConfigPath: env.GetString("PROVIDERS_CONFIG_PATH", "./providers.yaml"),

		LogLevel: env.GetString("LOG_LEVEL", "info"),

		PresentedKeyRateLimitSeconds: env.GetInt("BLOCKING_PRESENTED_KEY_RATE_LIMIT_SECONDS", 1),

		AuthFailureBlockMinutes:    env.GetInt("BLOCKING_AUTH_FAILURE_BLOCK_MINUTES", 1440),
		AuthFailureDeleteThreshold: env.GetInt("BLOCKING_AUTH_FAILURE_DELETE_THRESHOLD", 3),

		ThrottleBackoffBaseMinutes: env.GetInt("BLOCKING_THROTTLE_BACKOFF_BASE_MINUTES", 1),
		ThrottleDeleteThreshold:    env.GetInt("BLOCKING_THROTTLE_DELETE_THRESHOLD", 10),

		StatsRetentionDays:          env.GetInt("STATS_RETENTION_DAYS", 90),
		StatsCleanupIntervalMinutes: env.GetInt("STATS_CLEANUP_INTERVAL_MINUTES", 60),
		StatsAutoCleanup:            env.GetBool("STATS_AUTO_CLEANUP", true),
		StatsCacheExpirySeconds:     env.GetInt("STATS_CACHE_EXPIRY_SECONDS", 60),

		EncryptionKey:         env.GetString("ENCRYPTION_KEY", ""),
		EncryptionKeyFilePath: env.GetString("ENCRYPTION_KEY_FILE_PATH", "./encryption.key"),

		SSLEnabled:  env.GetBool("SSL_ENABLED", false),
		SSLCertPath: env.GetString("SSL_CERT_PATH", ""),
		SSLKeyPath:  env.GetString("SSL_KEY_PATH", ""),

		MetricsEnabled:   env.GetBool("METRICS_ENABLED", true),
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "key_commune"),
		MetricsPort:      env.GetInt("METRICS_PORT", 8081),

		CORSEnabled:      env.GetBool("CORS_ENABLED", false),
		CORSAllowOrigins: env.GetString("CORS_ALLOW_ORIGINS", ""),
	}
}

// GetGinMode returns the appropriate Gin mode based on log level.
func (c *Config) GetGinMode() string {
	if c.LogLevel == "debug" {
		return "debug"
	}
	return "release"
}

// CacheRefreshInterval floors the configured cache expiry at 60 seconds, per the
// hot cache's documented minimum refresh interval.
func (c *Config) CacheRefreshInterval() time.Duration {
	seconds := c.StatsCacheExpirySeconds
	if seconds < 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
