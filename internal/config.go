package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// SMTP Configuration (operator alerts)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	AlertEmails  []string // Alerts are logged only when empty

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string // Base directory for local file storage
	LocalStorageURL  string // Base URL for accessing local files

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string // Optional custom domain URL
	R2Endpoint        string // Optional S3-compatible endpoint override

	// Inspection backends
	InspectorProvider    string // "http" or "mock"
	InternalInspectorURL string
	ScopitoAPIURL        string
	ScopitoAPIKey        string
	DispatchTimeout      time.Duration

	// Queue sweeps
	PendingAlertTimeout time.Duration
	StuckJobTimeout     time.Duration
	ReaperInterval      time.Duration

	// Archival
	ArchiveReadConcurrency int
	LockStrict             bool // Atomic conditional create for lock markers

	// Callback authentication. Callbacks are open when empty.
	CallbackToken string

	// POST /inspect/start requests per client per minute
	EnqueueRateLimit int

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// SMTP defaults for Mailhog (development)
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "alerts@panelcheck.local"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Panelcheck Alerts"),
		AlertEmails:  getEnvList("ALERT_EMAILS"),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		// Backends default to the in-process mock for development
		InspectorProvider:    getEnv("INSPECTOR_PROVIDER", "mock"),
		InternalInspectorURL: getEnv("INTERNAL_INSPECTOR_URL", ""),
		ScopitoAPIURL:        getEnv("SCOPITO_API_URL", "https://api.scopito.com/v1"),
		ScopitoAPIKey:        getEnv("SCOPITO_API_KEY", ""),
		DispatchTimeout:      getEnvDuration("DISPATCH_TIMEOUT", 30*time.Second),

		// Sweep timeouts are configured in seconds
		PendingAlertTimeout: getEnvSeconds("PENDING_ALERT_TIMEOUT", time.Hour),
		StuckJobTimeout:     getEnvSeconds("STUCK_JOB_TIMEOUT", 2*time.Hour),
		ReaperInterval:      getEnvDuration("REAPER_INTERVAL", time.Hour),

		ArchiveReadConcurrency: getEnvInt("ARCHIVE_READ_CONCURRENCY", 8),
		LockStrict:             getEnvBool("LOCK_STRICT", false),

		CallbackToken:    getEnv("CALLBACK_TOKEN", ""),
		EnqueueRateLimit: getEnvInt("ENQUEUE_RATE_LIMIT", 30),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" && cfg.R2Endpoint == "" {
			return fmt.Errorf("R2_ACCOUNT_ID or R2_ENDPOINT is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	// Validate inspection backend configuration
	if cfg.InspectorProvider == "http" {
		if cfg.InternalInspectorURL == "" {
			return fmt.Errorf("INTERNAL_INSPECTOR_URL is required when INSPECTOR_PROVIDER is 'http'")
		}
		if cfg.ScopitoAPIKey == "" {
			return fmt.Errorf("SCOPITO_API_KEY is required when INSPECTOR_PROVIDER is 'http'")
		}
	} else if cfg.InspectorProvider != "mock" {
		return fmt.Errorf("INSPECTOR_PROVIDER must be either 'http' or 'mock', got: %s", cfg.InspectorProvider)
	}

	if cfg.DispatchTimeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT must be positive")
	}
	if cfg.PendingAlertTimeout <= 0 || cfg.StuckJobTimeout <= 0 {
		return fmt.Errorf("PENDING_ALERT_TIMEOUT and STUCK_JOB_TIMEOUT must be positive")
	}
	if cfg.ReaperInterval < time.Second {
		return fmt.Errorf("REAPER_INTERVAL must be at least 1s, got: %s", cfg.ReaperInterval)
	}
	if cfg.ArchiveReadConcurrency < 1 {
		return fmt.Errorf("ARCHIVE_READ_CONCURRENCY must be at least 1, got: %d", cfg.ArchiveReadConcurrency)
	}
	if cfg.EnqueueRateLimit < 1 {
		return fmt.Errorf("ENQUEUE_RATE_LIMIT must be at least 1, got: %d", cfg.EnqueueRateLimit)
	}
	return nil
}

// IsProduction reports whether the server runs behind TLS in production.
func (cfg *Config) IsProduction() bool {
	return cfg.Env == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvSeconds reads a whole number of seconds.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if s, err := strconv.Atoi(value); err == nil {
			return time.Duration(s) * time.Second
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
