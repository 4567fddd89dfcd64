package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/quayside/groupage/pkg/importer/support/util/exception"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

const moduleName = "config"

// EmbeddedConfig holds the raw content of the configuration file, typically
// passed from main.go via go:embed.
type EmbeddedConfig []byte

// LoadConfig loads configuration in three layers: defaults from NewConfig,
// the embedded YAML (with ${VAR} environment placeholders expanded), and a
// .env file loaded up front so placeholders can reference it.
// This function is intended to be called only once during application startup.
func LoadConfig(envFilePath string, embedded EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	if len(embedded) > 0 {
		// Expand ${VAR} / $VAR placeholders before parsing so secrets and
		// connection strings can live outside the embedded file.
		expanded := []byte(os.ExpandEnv(string(embedded)))
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, exception.NewImportError(exception.KindUnknown, moduleName,
				"failed to unmarshal embedded config", err, false)
		}
	}

	// Registered error names referenced from retry configuration are validated
	// here so a typo fails startup instead of silently never matching.
	for _, name := range cfg.Groupage.Import.Retry.RetryableErrors {
		if !exception.IsErrorTypeRegistered(name) {
			logger.Debugf("Retryable error '%s' is not a registered sentinel; it will be matched by type name or message substring.", name)
		}
	}

	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It also sets the global logger level from the loaded configuration.
func NewConfigProvider(embedded EmbeddedConfig) (*Config, error) {
	cfg, err := LoadConfig("", embedded)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Groupage.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Groupage.System.Logging.Level)

	return cfg, nil
}
