package config

// Package config provides structures and utilities for managing the import
// engine configuration.

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// RetryConfig holds the retry policy for transient store failures.
type RetryConfig struct {
	MaxAttempts       int   `yaml:"max_attempts"`        // MaxAttempts is the total number of attempts per group, first try included.
	BackoffScheduleMs []int `yaml:"backoff_schedule_ms"` // BackoffScheduleMs is the wait before each retry, in milliseconds; the last entry doubles past the end.
	// RetryableErrors is a list of error names (registered sentinels, type names
	// or message substrings) treated as transient in addition to the built-in
	// rate-limit/timeout detection.
	RetryableErrors []string `yaml:"retryable_errors"`
}

// ImportConfig holds configuration for one import run.
type ImportConfig struct {
	// JobName is the name recorded on the persisted job record.
	JobName string `yaml:"job_name"`
	// EntityKind selects the rule set ("order" or "sku").
	EntityKind string `yaml:"entity_kind"`
	// UpsertMode controls handling of pre-existing business keys: "skip", "fail" or "update".
	UpsertMode string `yaml:"upsert_mode"`
	// WaveSize bounds the number of groups processed concurrently.
	// Zero selects the entity kind's default (5 for orders, 10 for SKUs).
	WaveSize int `yaml:"wave_size"`
	// PausePollIntervalMs is how often a paused job is re-checked at a wave boundary.
	PausePollIntervalMs int `yaml:"pause_poll_interval_ms"`
	// Retry is the transient-failure retry configuration.
	Retry RetryConfig `yaml:"retry"`
}

// MongoConfig holds the connection settings for the document-store backend.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	// Backend is "memory" or "mongo".
	Backend string `yaml:"backend"`
	Mongo   MongoConfig `yaml:"mongo"`
}

// SQLConfig holds the connection settings for the SQL job repository.
type SQLConfig struct {
	// Driver is "sqlite", "postgres" or "mysql".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// JobRepositoryConfig selects and configures the job tracker backend.
type JobRepositoryConfig struct {
	// Backend is "inmemory" or "sql".
	Backend string    `yaml:"backend"`
	SQL     SQLConfig `yaml:"sql"`
}

// ReportStorageConfig selects where the failed-rows report is placed.
type ReportStorageConfig struct {
	// Backend is "local" or "gcs".
	Backend string `yaml:"backend"`
	// Bucket is the GCS bucket name; ignored for the local backend.
	Bucket string `yaml:"bucket"`
	// BaseDir is the directory (or object prefix) under which reports are written.
	BaseDir string `yaml:"base_dir"`
}

// ReportConfig configures the failed-rows report.
type ReportConfig struct {
	Enabled bool `yaml:"enabled"`
	// Compression is the parquet compression codec ("SNAPPY", "GZIP" or "NONE").
	Compression string              `yaml:"compression"`
	Storage     ReportStorageConfig `yaml:"storage"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// GroupageConfig holds all configuration under the "groupage" top-level key.
type GroupageConfig struct {
	System        SystemConfig        `yaml:"system"`
	Import        ImportConfig        `yaml:"import"`
	Store         StoreConfig         `yaml:"store"`
	JobRepository JobRepositoryConfig `yaml:"job_repository"`
	Report        ReportConfig        `yaml:"report"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Groupage GroupageConfig `yaml:"groupage"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Groupage: GroupageConfig{
			System: SystemConfig{
				Logging: LoggingConfig{Level: "INFO"},
			},
			Import: ImportConfig{
				JobName:             "import",
				EntityKind:          "order",
				UpsertMode:          "skip",
				WaveSize:            0, // entity kind default
				PausePollIntervalMs: 1000,
				Retry: RetryConfig{
					MaxAttempts:       3,
					BackoffScheduleMs: []int{500, 1000, 2000},
					RetryableErrors: []string{
						"context.DeadlineExceeded",
					},
				},
			},
			Store: StoreConfig{
				Backend: "memory",
			},
			JobRepository: JobRepositoryConfig{
				Backend: "inmemory",
				SQL: SQLConfig{
					Driver: "sqlite",
					DSN:    "groupage.db",
				},
			},
			Report: ReportConfig{
				Enabled:     true,
				Compression: "SNAPPY",
				Storage: ReportStorageConfig{
					Backend: "local",
					BaseDir: "reports",
				},
			},
		},
	}
}
