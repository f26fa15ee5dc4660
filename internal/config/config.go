// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/tradeapproval/internal/database"
	"github.com/aristath/tradeapproval/internal/utils"
	"github.com/aristath/tradeapproval/pkg/logger"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir        string // Base directory for the database, principals and backups (always absolute)
	DatabaseURL    string // postgres:// selects Postgres; empty means SQLite under DataDir
	PrincipalsFile string
	LogLevel       string
	Port           int
	DevMode        bool

	// GuardTerminalUpdates rejects updates on EXECUTED and CANCELLED trades
	GuardTerminalUpdates bool

	// StreamOriginPatterns are the host patterns allowed to open the event
	// stream cross-origin. Same-origin clients are always accepted.
	StreamOriginPatterns []string

	WALCheckpointSchedule string
	MaintenanceSchedule   string
	Backup                *BackupConfig

	// Pool tunes the Postgres connection pool (DB_* variables)
	Pool database.PoolConfig
}

// BackupConfig holds the S3-compatible backup target
type BackupConfig struct {
	Schedule        string
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Enabled reports whether a backup bucket is configured
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRADEAPP_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:               absDataDir,
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		PrincipalsFile:        getEnv("PRINCIPALS_FILE", filepath.Join(absDataDir, "principals.yaml")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		Port:                  getEnvAsInt("GO_PORT", 8001),
		DevMode:               getEnvAsBool("DEV_MODE", false),
		GuardTerminalUpdates:  getEnvAsBool("GUARD_TERMINAL_UPDATES", false),
		StreamOriginPatterns:  utils.ParseCSV(getEnv("STREAM_ORIGIN_PATTERNS", "")),
		WALCheckpointSchedule: getEnv("WAL_CHECKPOINT_SCHEDULE", "@every 15m"),
		MaintenanceSchedule:   getEnv("MAINTENANCE_SCHEDULE", "0 0 2 * * *"),
		Backup: &BackupConfig{
			Schedule:        getEnv("BACKUP_SCHEDULE", "@daily"),
			Bucket:          getEnv("BACKUP_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
			Region:          getEnv("BACKUP_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	pool, err := loadPoolConfig()
	if err != nil {
		return nil, err
	}
	cfg.Pool = pool

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadPoolConfig overlays DB_* variables on the default pool settings.
// Unparseable values are errors.
func loadPoolConfig() (database.PoolConfig, error) {
	pool := database.DefaultPoolConfig()

	maxConns, err := getEnvAsInt32("DB_MAX_CONNS", pool.MaxConns)
	if err != nil {
		return pool, err
	}
	minConns, err := getEnvAsInt32("DB_MIN_CONNS", pool.MinConns)
	if err != nil {
		return pool, err
	}
	pool.MaxConns = maxConns
	pool.MinConns = minConns

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"DB_MAX_CONN_LIFETIME", &pool.MaxConnLifetime},
		{"DB_MAX_CONN_IDLE_TIME", &pool.MaxConnIdleTime},
		{"DB_HEALTHCHECK_PERIOD", &pool.HealthCheckPeriod},
	}
	for _, d := range durations {
		value, err := getEnvAsDuration(d.key, *d.target)
		if err != nil {
			return pool, err
		}
		*d.target = value
	}

	return pool, nil
}

// UsePostgres reports whether DatabaseURL selects the Postgres backend
func (c *Config) UsePostgres() bool {
	return database.IsPostgresURL(c.DatabaseURL)
}

// SQLitePath is the trades database file used when Postgres is not selected
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "trades.db")
}

// BackupDir is where local backup archives are staged
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid GO_PORT %d", c.Port)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if c.DatabaseURL != "" && !c.UsePostgres() {
		return fmt.Errorf("DATABASE_URL must be a postgres:// or postgresql:// url")
	}

	if c.UsePostgres() {
		if err := validatePool(c.Pool); err != nil {
			return err
		}
	}

	if c.Backup != nil && c.Backup.Enabled() {
		var missing []string
		if c.Backup.Endpoint == "" {
			missing = append(missing, "BACKUP_ENDPOINT")
		}
		if c.Backup.AccessKeyID == "" {
			missing = append(missing, "BACKUP_ACCESS_KEY_ID")
		}
		if c.Backup.SecretAccessKey == "" {
			missing = append(missing, "BACKUP_SECRET_ACCESS_KEY")
		}
		if len(missing) > 0 {
			return fmt.Errorf("backup bucket configured but missing %s", strings.Join(missing, ", "))
		}
		if c.Backup.RetentionDays < 1 {
			return fmt.Errorf("BACKUP_RETENTION_DAYS must be at least 1")
		}
	}

	return nil
}

func validatePool(p database.PoolConfig) error {
	if p.MaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1")
	}
	if p.MinConns < 0 || p.MinConns > p.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d)", p.MaxConns)
	}
	if p.MaxConnLifetime <= 0 || p.MaxConnIdleTime <= 0 || p.HealthCheckPeriod <= 0 {
		return fmt.Errorf("DB_MAX_CONN_LIFETIME, DB_MAX_CONN_IDLE_TIME and DB_HEALTHCHECK_PERIOD must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) (int32, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return int32(n), nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
