package config

import "time"

// Config represents the main configuration structure.
type Config struct {
	Deid    DeidConfig    `yaml:"deid" mapstructure:"deid"`
	Mapping MappingConfig `yaml:"mapping" mapstructure:"mapping"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Audit   AuditConfig   `yaml:"audit" mapstructure:"audit"`
}

// DeidConfig is the configuration surface consumed by the engine. It is
// immutable once loaded; invalid combinations are rejected by Load.
type DeidConfig struct {
	EnableEncryption           bool     `yaml:"enable_encryption" mapstructure:"enable_encryption"`
	EnableDateShifting         bool     `yaml:"enable_date_shifting" mapstructure:"enable_date_shifting"`
	EnableValidation           bool     `yaml:"enable_validation" mapstructure:"enable_validation"`
	Jurisdictions              []string `yaml:"jurisdictions" mapstructure:"jurisdictions"`
	EnableJurisdictionPatterns bool     `yaml:"enable_jurisdiction_patterns" mapstructure:"enable_jurisdiction_patterns"`
	DateShiftRange             int      `yaml:"date_shift_range" mapstructure:"date_shift_range"`
	DateShiftSeed              int64    `yaml:"date_shift_seed" mapstructure:"date_shift_seed"`
	ProcessSubdirs             bool     `yaml:"process_subdirs" mapstructure:"process_subdirs"`
}

// MappingConfig locates the mapping artifact and its key material. Both
// live outside the output tree: the artifact is a secret, not output.
type MappingConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	KeyPath string `yaml:"key_path" mapstructure:"key_path"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string            `yaml:"level" mapstructure:"level"`
	Format string            `yaml:"format" mapstructure:"format"` // json or console
	File   LoggingFileConfig `yaml:"file" mapstructure:"file"`
}

// LoggingFileConfig contains file logging configuration.
type LoggingFileConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Path     string `yaml:"path" mapstructure:"path"`
	MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
	MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
	Compress bool   `yaml:"compress" mapstructure:"compress"`
}

// CacheConfig enables the optional Redis pseudonym cache.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// AuditConfig enables the optional Postgres run-summary sink.
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// GetDefaults returns a configuration with sensible defaults.
func GetDefaults() *Config {
	return &Config{
		Deid: DeidConfig{
			EnableEncryption:           true,
			EnableDateShifting:         true,
			EnableValidation:           true,
			Jurisdictions:              []string{"ALL"},
			EnableJurisdictionPatterns: true,
			DateShiftRange:             60,
			ProcessSubdirs:             true,
		},
		Mapping: MappingConfig{
			Path:    "mappings/deid-mappings.enc",
			KeyPath: "mappings/deid-mappings.key",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File: LoggingFileConfig{
				Enabled:  false,
				Path:     "logs/deidentify.log",
				MaxSize:  100, // MB
				MaxAge:   30,  // days
				Compress: true,
			},
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     24 * time.Hour,
			KeyPrefix:      "deid:mapping:",
		},
		Audit: AuditConfig{
			Enabled:         false,
			DatabaseURL:     "postgres://localhost:5432/deidentify?sslmode=disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
	}
}
