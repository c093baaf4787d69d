package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDefaults(t *testing.T) {
	config := GetDefaults()

	if err := validateConfig(config); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if !config.Deid.EnableEncryption {
		t.Error("encryption must default to on")
	}
	if !config.Deid.EnableDateShifting {
		t.Error("date shifting must default to on")
	}
	if !config.Deid.EnableValidation {
		t.Error("post-run validation must default to on")
	}
	if len(config.Deid.Jurisdictions) != 1 || config.Deid.Jurisdictions[0] != "ALL" {
		t.Errorf("default jurisdictions = %v, want [ALL]", config.Deid.Jurisdictions)
	}
	if config.Cache.Enabled || config.Audit.Enabled {
		t.Error("external services must default to off")
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"BadLogLevel", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"BadLogFormat", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"NoJurisdictions", func(c *Config) { c.Deid.Jurisdictions = nil }, "deid.jurisdictions"},
		{"ZeroShiftRange", func(c *Config) { c.Deid.DateShiftRange = 0 }, "deid.date_shift_range"},
		{"HugeShiftRange", func(c *Config) { c.Deid.DateShiftRange = 1000 }, "deid.date_shift_range"},
		{"NoMappingPath", func(c *Config) { c.Mapping.Path = "" }, "mapping.path"},
		{"EncryptionWithoutKey", func(c *Config) {
			c.Deid.EnableEncryption = true
			c.Mapping.KeyPath = ""
		}, "mapping.key_path"},
		{"CacheWithoutURL", func(c *Config) {
			c.Cache.Enabled = true
			c.Cache.RedisURL = ""
		}, "cache.redis_url"},
		{"AuditWithoutURL", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.DatabaseURL = ""
		}, "audit.database_url"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := GetDefaults()
			tc.mutate(config)
			err := validateConfig(config)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tc.field {
				t.Errorf("field = %s, want %s", cfgErr.Field, tc.field)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
deid:
  enable_encryption: false
  enable_date_shifting: false
  jurisdictions: ["US", "UK"]
  date_shift_range: 30
logging:
  level: debug
  format: console
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if config.Deid.EnableEncryption {
		t.Error("enable_encryption not overridden")
	}
	if config.Deid.DateShiftRange != 30 {
		t.Errorf("date_shift_range = %d, want 30", config.Deid.DateShiftRange)
	}
	if len(config.Deid.Jurisdictions) != 2 {
		t.Errorf("jurisdictions = %v", config.Deid.Jurisdictions)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("logging.level = %s", config.Logging.Level)
	}
	// Unset keys keep their defaults.
	if config.Mapping.Path == "" {
		t.Error("mapping.path default lost")
	}
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
deid:
  jurisdictions: ["US"]
  date_shift_range: 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	updates := make(chan *Config, 1)
	if err := Watch(config, func(updated *Config) {
		select {
		case updates <- updated:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	changed := `
deid:
  jurisdictions: ["US"]
  date_shift_range: 45
`
	if err := os.WriteFile(path, []byte(changed), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case updated := <-updates:
		if updated.Deid.DateShiftRange != 45 {
			t.Errorf("date_shift_range after change = %d, want 45", updated.Deid.DateShiftRange)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no configuration update observed")
	}
}
