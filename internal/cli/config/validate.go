package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/leapstack-labs/lookcheck/pkg/core"
)

// Validate checks that everything needed to run a validator is set.
func (c *Config) Validate() error {
	if err := c.ValidateConnection(); err != nil {
		return err
	}
	if c.Project == "" {
		return missing("project")
	}
	return nil
}

// ValidateConnection checks only the settings needed to reach the API.
func (c *Config) ValidateConnection() error {
	switch {
	case c.BaseURL == "":
		return missing("base_url")
	case c.ClientID == "":
		return missing("client_id")
	case c.ClientSecret == "":
		return missing("client_secret")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return core.ConfigErrorf("invalid-base-url",
			"The base URL is not valid.",
			"Expected a URL like https://company.looker.com, got %q.", c.BaseURL)
	}
	if c.Port < 0 || c.Port > 65535 {
		return core.ConfigErrorf("invalid-port", "The port is not valid.", "Port %d is out of range.", c.Port)
	}
	if c.Timeout <= 0 {
		return core.ConfigErrorf("invalid-timeout", "The timeout must be positive.", "Got %d seconds.", c.Timeout)
	}
	if c.PollInterval <= 0 {
		return core.ConfigErrorf("invalid-poll-interval", "The poll interval must be positive.",
			"Got %d milliseconds.", c.PollInterval)
	}
	return nil
}

func missing(key string) error {
	flag := "--" + strings.ReplaceAll(key, "_", "-")
	return core.ConfigError("missing-"+strings.ReplaceAll(key, "_", "-"),
		fmt.Sprintf("No %s was provided.", strings.ReplaceAll(key, "_", " ")),
		fmt.Sprintf("Set it with %s, the %s%s environment variable or in lookcheck.yaml.",
			flag, EnvPrefix, strings.ToUpper(key)))
}
