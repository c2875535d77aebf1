// Package config loads the settings for a tally deployment.
//
// Settings come from, in increasing order of precedence: built-in defaults, a YAML file,
// and TALLY_* environment variables. Environment variables may themselves be provided by
// .env files, which never override variables already set in the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkbrsn/tally"
)

// Environment variables read by Load.
const (
	EnvMetricsSource   = "TALLY_METRICS_SOURCE"
	EnvMetricsURL      = "TALLY_METRICS_URL"
	EnvMetricsUserID   = "TALLY_METRICS_USER_ID"
	EnvMetricsAPIKey   = "TALLY_METRICS_API_KEY"
	EnvLoggingSource   = "TALLY_LOGGING_SOURCE"
	EnvLoggingURL      = "TALLY_LOGGING_URL"
	EnvLoggingUserID   = "TALLY_LOGGING_USER_ID"
	EnvLoggingAPIKey   = "TALLY_LOGGING_API_KEY"
	EnvReportingPeriod = "TALLY_REPORTING_PERIOD"
	EnvListen          = "TALLY_LISTEN"
	EnvDatabaseURL     = "DATABASE_URL"
)

// Config is the full configuration of a tally deployment: the sinks plus the settings of
// the process that hosts them.
type Config struct {
	tally.Config `yaml:",inline"`

	// ReportingPeriod is how often metrics are flushed. Default: 10s
	ReportingPeriod time.Duration `yaml:"reportingPeriod"`

	// Listen is the address the demo server binds. Default: :8080
	Listen string `yaml:"listen"`

	// DatabaseURL is an optional Postgres connection string.
	DatabaseURL string `yaml:"databaseUrl"`
}

// Default returns the configuration used as a base before the file and environment
// are applied. It has no sinks and so does not validate on its own.
func Default() *Config {
	return &Config{
		ReportingPeriod: tally.DefaultReportingPeriod,
		Listen:          ":8080",
	}
}

// Load reads envFiles into the process environment, then the YAML file at path, then
// applies environment overrides and validates the result. With no envFiles a .env in
// the working directory is loaded if present. An empty path skips the file.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// applyEnv overrides file values with the non-empty TALLY_* variables.
func (c *Config) applyEnv() error {
	for name, dst := range map[string]*string{
		EnvMetricsSource: &c.Metrics.Source,
		EnvMetricsURL:    &c.Metrics.URL,
		EnvMetricsUserID: &c.Metrics.UserID,
		EnvMetricsAPIKey: &c.Metrics.APIKey,
		EnvLoggingSource: &c.Logging.Source,
		EnvLoggingURL:    &c.Logging.URL,
		EnvLoggingUserID: &c.Logging.UserID,
		EnvLoggingAPIKey: &c.Logging.APIKey,
		EnvListen:        &c.Listen,
		EnvDatabaseURL:   &c.DatabaseURL,
	} {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvReportingPeriod); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvReportingPeriod, err)
		}
		c.ReportingPeriod = d
	}
	return nil
}

// Validate checks the sinks and the reporting period.
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.ReportingPeriod <= 0 {
		return fmt.Errorf("reportingPeriod must be positive, got %s", c.ReportingPeriod)
	}
	return nil
}
