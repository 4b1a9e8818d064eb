package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration. Loaded once at startup and
// handed to components at construction; nothing reads the environment after
// Load returns.
type Config struct {
	Directories   DirectoryConfig
	Database      DatabaseConfig
	Import        ImportConfig
	Locking       LockConfig
	Approval      ApprovalConfig
	Observability ObservabilityConfig
}

// DirectoryConfig describes the inbox layout the triggers watch.
type DirectoryConfig struct {
	Inbox     string
	Processed string
	Errored   string
	Reports   string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ImportConfig carries the tunables of the matching and upsert engines.
type ImportConfig struct {
	// MatchThreshold is the minimum schema-match confidence, clamped to
	// [0.5, 0.95] by Load.
	MatchThreshold float64
	// IdentityCutoff is the minimum additive confidence score for an
	// identity-field candidate. Its scale differs from MatchThreshold on
	// purpose; the two are tuned independently.
	IdentityCutoff int
	BatchSize      int
	// ContentOnlyFingerprint drops the row ordinal from fingerprints so
	// content-identical rows collapse. Off by default.
	ContentOnlyFingerprint bool
	OperationTimeout       time.Duration
	ScanSchedule           string
}

type LockConfig struct {
	Dir         string
	WaitTimeout time.Duration
	StaleAfter  time.Duration
}

type ApprovalConfig struct {
	Required      bool
	ApproverEmail string
	ResendAPIKey  string
	FromAddress   string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

// Load reads configuration from environment variables, folding in a .env
// file from the working directory when one exists.
func Load() (*Config, error) {
	// A missing .env is not an error; variables already set win either way.
	_ = godotenv.Load()

	cfg := &Config{
		Directories: DirectoryConfig{
			Inbox:     getEnv("IMPORT_INBOX_DIR", "./inbox"),
			Processed: getEnv("IMPORT_PROCESSED_DIR", "./processed"),
			Errored:   getEnv("IMPORT_ERROR_DIR", "./errored"),
			Reports:   getEnv("IMPORT_REPORTS_DIR", "./reports"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "schemaflow"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Import: ImportConfig{
			MatchThreshold:         getEnvAsFloat("SCHEMA_MATCH_THRESHOLD", 0.8),
			IdentityCutoff:         getEnvAsInt("IDENTITY_CUTOFF", 70),
			BatchSize:              getEnvAsInt("IMPORT_BATCH_SIZE", 100),
			ContentOnlyFingerprint: getEnvAsBool("CONTENT_ONLY_FINGERPRINT", false),
			OperationTimeout:       getEnvAsDuration("IMPORT_OPERATION_TIMEOUT", 30*time.Minute),
			ScanSchedule:           getEnv("IMPORT_SCAN_SCHEDULE", "*/10 * * * *"),
		},
		Locking: LockConfig{
			Dir:         getEnv("LOCK_DIR", os.TempDir()),
			WaitTimeout: getEnvAsDuration("LOCK_WAIT_TIMEOUT", 5*time.Minute),
			StaleAfter:  getEnvAsDuration("LOCK_STALE_AFTER", 24*time.Hour),
		},
		Approval: ApprovalConfig{
			Required:      getEnvAsBool("SCHEMA_APPROVAL_REQUIRED", true),
			ApproverEmail: getEnv("SCHEMA_APPROVER_EMAIL", ""),
			ResendAPIKey:  getEnv("RESEND_API_KEY", ""),
			FromAddress:   getEnv("NOTIFY_FROM_ADDRESS", "importer@localhost"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
	}

	// The matcher is meaningless below 0.5 and unreachable above 0.95.
	if cfg.Import.MatchThreshold < 0.5 {
		cfg.Import.MatchThreshold = 0.5
	}
	if cfg.Import.MatchThreshold > 0.95 {
		cfg.Import.MatchThreshold = 0.95
	}
	if cfg.Import.BatchSize < 1 {
		cfg.Import.BatchSize = 100
	}

	return cfg, nil
}

// DSN returns the database connection string.
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
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
