package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigurationError describes an invalid option or option combination.
// It is raised by Load, before any record is touched.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/deidentify/")
	viper.AddConfigPath("$HOME/.deidentify/")

	viper.SetEnvPrefix("DEID")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// validateConfig validates the loaded configuration. Jurisdiction codes
// themselves are validated against the pattern library when the regulation
// manager is constructed.
func validateConfig(config *Config) error {
	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return &ConfigurationError{Field: "logging.level", Reason: fmt.Sprintf("%q must be debug, info, warn, or error", config.Logging.Level)}
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return &ConfigurationError{Field: "logging.format", Reason: fmt.Sprintf("%q must be json or console", config.Logging.Format)}
	}

	if len(config.Deid.Jurisdictions) == 0 {
		return &ConfigurationError{Field: "deid.jurisdictions", Reason: "at least one jurisdiction code (or ALL) is required"}
	}

	if config.Deid.DateShiftRange <= 0 || config.Deid.DateShiftRange > 365 {
		return &ConfigurationError{Field: "deid.date_shift_range", Reason: fmt.Sprintf("%d must be between 1 and 365", config.Deid.DateShiftRange)}
	}

	if config.Mapping.Path == "" {
		return &ConfigurationError{Field: "mapping.path", Reason: "mapping artifact path is required"}
	}

	if config.Deid.EnableEncryption && config.Mapping.KeyPath == "" {
		return &ConfigurationError{Field: "mapping.key_path", Reason: "key path is required when encryption is enabled"}
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return &ConfigurationError{Field: "cache.redis_url", Reason: "redis URL is required when the cache is enabled"}
	}

	if config.Audit.Enabled && config.Audit.DatabaseURL == "" {
		return &ConfigurationError{Field: "audit.database_url", Reason: "database URL is required when auditing is enabled"}
	}

	return nil
}

// Watch starts watching the configuration file for changes.
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
