package tally

import (
	"errors"
	"fmt"
	"net/url"
)

// SinkConfig holds the static settings for one remote sink.
type SinkConfig struct {
	// Source is stamped on every metric line (tag "source") and log stream (label "component").
	Source string `yaml:"source"`
	URL    string `yaml:"url"`
	UserID string `yaml:"userId"`
	APIKey string `yaml:"apiKey"`
}

// Validate checks that the SinkConfig can be used to push.
func (c SinkConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is empty")
	}
	if c.URL == "" {
		return errors.New("url is empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}

// bearer returns the value of the Authorization header for the sink.
func (c SinkConfig) bearer() string {
	return "Bearer " + c.UserID + ":" + c.APIKey
}

// Config is the read-only configuration for the metrics and log sinks.
type Config struct {
	Metrics SinkConfig `yaml:"metrics"`
	Logging SinkConfig `yaml:"logging"`
}

// Validate checks both sink configurations.
func (c Config) Validate() error {
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
