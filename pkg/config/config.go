package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Storage       StorageConfig
	Import        ImportConfig
	Observability ObservabilityConfig
	LogLevel      string
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	AllowedOrigins     []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type AuthConfig struct {
	JWTSecret string
}

// StorageConfig selects where uploads are staged.
type StorageConfig struct {
	Type      string // local | gcs
	LocalPath string
	GCSBucket string
	GCSPrefix string
}

// ImportConfig tunes the ingestion pipeline.
type ImportConfig struct {
	MaxUploadBytes      int64
	LargeFileBytes      int64
	LargeFileRows       int
	PreviewMaxLines     int
	BatchSize           int
	ProgressEvery       int
	FallbackConcurrency int
	UploadTTL           time.Duration
	SessionGrace        time.Duration
	ReaperSchedule      string
	CategoryMapFile     string
	Currency            string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
}

// MaxImportBatchSize keeps one bulk insert under the Postgres bind parameter
// limit.
const MaxImportBatchSize = 5000

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 100),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 200),
			AllowedOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5469),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "echo-import"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "local"),
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./data/uploads"),
			GCSBucket: getEnv("STORAGE_GCS_BUCKET", ""),
			GCSPrefix: getEnv("STORAGE_GCS_PREFIX", "imports"),
		},
		Import: ImportConfig{
			MaxUploadBytes:      getEnvAsInt64("IMPORT_MAX_UPLOAD_BYTES", 50<<20),
			LargeFileBytes:      getEnvAsInt64("IMPORT_LARGE_FILE_BYTES", 5<<20),
			LargeFileRows:       getEnvAsInt("IMPORT_LARGE_FILE_ROWS", 10000),
			PreviewMaxLines:     getEnvAsInt("IMPORT_PREVIEW_MAX_LINES", 50),
			BatchSize:           getEnvAsInt("IMPORT_BATCH_SIZE", 500),
			ProgressEvery:       getEnvAsInt("IMPORT_PROGRESS_EVERY", 100),
			FallbackConcurrency: getEnvAsInt("IMPORT_FALLBACK_CONCURRENCY", 8),
			UploadTTL:           getEnvAsDuration("IMPORT_UPLOAD_TTL", time.Hour),
			SessionGrace:        getEnvAsDuration("IMPORT_SESSION_GRACE", 5*time.Minute),
			ReaperSchedule:      getEnv("IMPORT_REAPER_SCHEDULE", "@every 1m"),
			CategoryMapFile:     getEnv("IMPORT_CATEGORY_MAP_FILE", ""),
			Currency:            getEnv("IMPORT_CURRENCY", "BRL"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.Storage.Type == "gcs" && cfg.Storage.GCSBucket == "" {
		return nil, errors.New("STORAGE_GCS_BUCKET is required when STORAGE_TYPE=gcs")
	}
	if cfg.Import.BatchSize <= 0 || cfg.Import.ProgressEvery <= 0 || cfg.Import.FallbackConcurrency <= 0 {
		return nil, errors.New("import batch size, progress interval and fallback concurrency must be positive")
	}
	if cfg.Import.BatchSize > MaxImportBatchSize {
		return nil, fmt.Errorf("IMPORT_BATCH_SIZE must be at most %d", MaxImportBatchSize)
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
