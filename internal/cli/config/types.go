// Package config loads lookcheck's CLI configuration.
//
// Values are layered from defaults, a lookcheck.yaml file, LOOKCHECK_
// environment variables and explicitly set command-line flags, in increasing
// order of precedence.
package config

import (
	"context"
	"time"

	"github.com/leapstack-labs/lookcheck/pkg/looker"
)

// Config holds all CLI configuration options.
type Config struct {
	BaseURL      string `koanf:"base_url"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	Port         int    `koanf:"port"`
	APIVersion   string `koanf:"api_version"`
	Project      string `koanf:"project"`
	RemoteReset  bool   `koanf:"remote_reset"`
	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`
	// Timeout is the per-request timeout in seconds.
	Timeout int `koanf:"timeout"`
	// PollInterval is the query task poll interval in milliseconds.
	PollInterval int `koanf:"poll_interval"`
}

// Default configuration values.
const (
	DefaultPort         = 19999
	DefaultAPIVersion   = looker.DefaultAPIVersion
	DefaultOutput       = "text"
	DefaultTimeout      = 300
	DefaultPollInterval = 500
)

// TimeoutDuration returns Timeout as a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// PollIntervalDuration returns PollInterval as a duration.
func (c *Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// LookerConfig returns the API client configuration.
func (c *Config) LookerConfig() looker.Config {
	return looker.Config{
		BaseURL:      c.BaseURL,
		Port:         c.Port,
		APIVersion:   c.APIVersion,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Timeout:      c.TimeoutDuration(),
		MaxRetries:   looker.DefaultMaxRetries,
	}
}

type configKey struct{}

// WithConfig returns a context carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config stored by WithConfig, or nil.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(configKey{}).(*Config)
	return cfg
}
