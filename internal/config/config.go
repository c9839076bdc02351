package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Paths     Paths     `yaml:"paths"`
	Migration Migration `yaml:"migration"`
	Safety    Safety    `yaml:"safety"`
	LogLevel  string    `yaml:"log_level"`
	// LogRetentionDays is recorded for the external log-rotation job;
	// this engine does not enforce it.
	LogRetentionDays int `yaml:"log_retention_days"`
}

// Paths holds the filesystem locations the engine touches
type Paths struct {
	SourceRoot   string `yaml:"source_root"`
	ArchiveRoot  string `yaml:"archive_root"`
	Registry     string `yaml:"registry"`
	ProgressFile string `yaml:"progress_file"`
	ReportDir    string `yaml:"report_dir"`
}

// Migration holds scheduling and queue configuration
type Migration struct {
	Category           string `yaml:"category"`
	Limit              int    `yaml:"limit"`
	BatchSize          int    `yaml:"batch_size"`
	Concurrency        int    `yaml:"concurrency"`
	DryRun             bool   `yaml:"dry_run"`
	TransferRetries    int    `yaml:"transfer_retries"`
	RetryBackoffMs     int    `yaml:"retry_backoff_ms"`
	TransferTimeoutMin int    `yaml:"transfer_timeout_min"`
	BatchPauseMs       int    `yaml:"batch_pause_ms"`
	MetricsAddr        string `yaml:"metrics_addr"`
}

// Safety holds the data-safety toggles
type Safety struct {
	Backup         bool `yaml:"backup"`
	DeleteSource   bool `yaml:"delete_source"`
	VerifyChecksum bool `yaml:"verify_checksum"`
	SkipCorrupted  bool `yaml:"skip_corrupted"`
	MaxAttempts    int  `yaml:"max_attempts"`
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file plus process environment, and command line flags,
// in that order of precedence.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel:         "info",
		LogRetentionDays: 30,
		Paths: Paths{
			Registry:     "./registry.db",
			ProgressFile: "./progress.json",
			ReportDir:    "./reports",
		},
		Migration: Migration{
			BatchSize:          25,
			Concurrency:        4,
			TransferRetries:    2,
			RetryBackoffMs:     500,
			TransferTimeoutMin: 30,
			BatchPauseMs:       2000,
		},
		Safety: Safety{
			Backup:         true,
			VerifyChecksum: true,
			MaxAttempts:    5,
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv overrides settings from PROJECTS2NAS_* variables, with a
// local .env file loaded first when present.
func loadFromEnv(cfg *Config) {
	_ = godotenv.Load()

	setString(&cfg.Paths.SourceRoot, "PROJECTS2NAS_SOURCE_ROOT")
	setString(&cfg.Paths.ArchiveRoot, "PROJECTS2NAS_ARCHIVE_ROOT")
	setString(&cfg.Paths.Registry, "PROJECTS2NAS_REGISTRY")
	setString(&cfg.Paths.ProgressFile, "PROJECTS2NAS_PROGRESS_FILE")
	setString(&cfg.Paths.ReportDir, "PROJECTS2NAS_REPORT_DIR")

	setString(&cfg.Migration.Category, "PROJECTS2NAS_CATEGORY")
	setInt(&cfg.Migration.Limit, "PROJECTS2NAS_LIMIT")
	setInt(&cfg.Migration.BatchSize, "PROJECTS2NAS_BATCH_SIZE")
	setInt(&cfg.Migration.Concurrency, "PROJECTS2NAS_CONCURRENCY")
	setBool(&cfg.Migration.DryRun, "PROJECTS2NAS_DRY_RUN")
	setString(&cfg.Migration.MetricsAddr, "PROJECTS2NAS_METRICS_ADDR")

	setBool(&cfg.Safety.Backup, "PROJECTS2NAS_BACKUP")
	setBool(&cfg.Safety.DeleteSource, "PROJECTS2NAS_DELETE_SOURCE")
	setBool(&cfg.Safety.VerifyChecksum, "PROJECTS2NAS_VERIFY_CHECKSUM")
	setBool(&cfg.Safety.SkipCorrupted, "PROJECTS2NAS_SKIP_CORRUPTED")
	setInt(&cfg.Safety.MaxAttempts, "PROJECTS2NAS_MAX_ATTEMPTS")

	setString(&cfg.LogLevel, "PROJECTS2NAS_LOG_LEVEL")
	setInt(&cfg.LogRetentionDays, "PROJECTS2NAS_LOG_RETENTION_DAYS")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	if flags.Changed("source-root") {
		cfg.Paths.SourceRoot, _ = flags.GetString("source-root")
	}
	if flags.Changed("archive-root") {
		cfg.Paths.ArchiveRoot, _ = flags.GetString("archive-root")
	}
	if flags.Changed("registry") {
		cfg.Paths.Registry, _ = flags.GetString("registry")
	}
	if flags.Changed("progress-file") {
		cfg.Paths.ProgressFile, _ = flags.GetString("progress-file")
	}
	if flags.Changed("report-dir") {
		cfg.Paths.ReportDir, _ = flags.GetString("report-dir")
	}

	if flags.Changed("category") {
		cfg.Migration.Category, _ = flags.GetString("category")
	}
	if flags.Changed("limit") {
		cfg.Migration.Limit, _ = flags.GetInt("limit")
	}
	if flags.Changed("batch-size") {
		cfg.Migration.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("concurrency") {
		cfg.Migration.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("dry-run") {
		cfg.Migration.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("transfer-retries") {
		cfg.Migration.TransferRetries, _ = flags.GetInt("transfer-retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Migration.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("transfer-timeout-min") {
		cfg.Migration.TransferTimeoutMin, _ = flags.GetInt("transfer-timeout-min")
	}
	if flags.Changed("metrics-addr") {
		cfg.Migration.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	if flags.Changed("backup") {
		cfg.Safety.Backup, _ = flags.GetBool("backup")
	}
	if flags.Changed("delete-source") {
		cfg.Safety.DeleteSource, _ = flags.GetBool("delete-source")
	}
	if flags.Changed("verify-checksum") {
		cfg.Safety.VerifyChecksum, _ = flags.GetBool("verify-checksum")
	}
	if flags.Changed("skip-corrupted") {
		cfg.Safety.SkipCorrupted, _ = flags.GetBool("skip-corrupted")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Paths.SourceRoot == "" {
		return fmt.Errorf("source root is required")
	}
	if c.Paths.ArchiveRoot == "" {
		return fmt.Errorf("archive root is required")
	}
	if c.Paths.Registry == "" {
		return fmt.Errorf("registry path is required")
	}

	if c.Migration.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Migration.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Migration.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if c.Migration.TransferRetries < 0 {
		return fmt.Errorf("transfer retries must not be negative")
	}
	if c.Safety.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}

	return nil
}
