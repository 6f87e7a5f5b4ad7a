package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "lookcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_ONE", "value_one")
	t.Setenv("TEST_VAR_TWO", "value_two")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single variable", input: "${TEST_VAR_ONE}", expected: "value_one"},
		{name: "multiple variables", input: "${TEST_VAR_ONE}/${TEST_VAR_TWO}", expected: "value_one/value_two"},
		{name: "unset variable stays as-is", input: "${UNSET_VARIABLE}", expected: "${UNSET_VARIABLE}"},
		{name: "no variables", input: "plain string", expected: "plain string"},
		{name: "empty string", input: "", expected: ""},
		{name: "mixed set and unset", input: "${TEST_VAR_ONE}:${UNSET_VAR}", expected: "value_one:${UNSET_VAR}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Empty(t, GetConfigFileUsed())
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "4.0", cfg.APIVersion)
	assert.Equal(t, "text", cfg.OutputFormat)
	assert.Equal(t, 300*time.Second, cfg.TimeoutDuration())
	assert.Equal(t, 500*time.Millisecond, cfg.PollIntervalDuration())
	assert.False(t, cfg.RemoteReset)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `base_url: https://company.looker.com/
client_id: abc
client_secret: ${TEST_LOOKCHECK_SECRET}
port: 443
project: eye_exam
remote_reset: true
poll_interval: 250
`)
	t.Setenv("TEST_LOOKCHECK_SECRET", "shh")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, path, GetConfigFileUsed())
	assert.Equal(t, "https://company.looker.com", cfg.BaseURL)
	assert.Equal(t, "abc", cfg.ClientID)
	assert.Equal(t, "shh", cfg.ClientSecret)
	assert.Equal(t, 443, cfg.Port)
	assert.Equal(t, "eye_exam", cfg.Project)
	assert.True(t, cfg.RemoteReset)
	assert.Equal(t, 250*time.Millisecond, cfg.PollIntervalDuration())

	lc := cfg.LookerConfig()
	assert.Equal(t, "https://company.looker.com", lc.BaseURL)
	assert.Equal(t, 443, lc.Port)
	assert.Equal(t, "shh", lc.ClientSecret)
	assert.Equal(t, 300*time.Second, lc.Timeout)
}

func TestLoadConfig_FindsFileInParent(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "project: from_parent\n")
	child := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(child, 0755))
	t.Chdir(child)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "from_parent", cfg.Project)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoadConfig_FlagPrecedence(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "project: from_file\n")
	t.Setenv("LOOKCHECK_PROJECT", "from_env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("project", "", "project")
	require.NoError(t, flags.Set("project", "from_flag"))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "from_flag", cfg.Project, "flag value should override config file and env var")
}

func TestLoadConfig_EnvPrecedenceOverFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "project: from_file\nport: 443\n")
	t.Setenv("LOOKCHECK_PROJECT", "from_env")
	t.Setenv("LOOKCHECK_PORT", "8443")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Project)
	assert.Equal(t, 8443, cfg.Port)
}

func TestLoadConfig_FlagNotSetUsesEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "project: from_file\n")
	t.Setenv("LOOKCHECK_PROJECT", "from_env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("project", "default", "project")

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Project, "env var should be used when flag is not set")
}

func TestLoadConfig_KebabFlags(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "verbose: false\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("base-url", "", "")
	flags.Int("poll-interval", DefaultPollInterval, "")
	flags.Bool("remote-reset", false, "")
	require.NoError(t, flags.Set("base-url", "https://flag.looker.com"))
	require.NoError(t, flags.Set("poll-interval", "100"))
	require.NoError(t, flags.Set("remote-reset", "true"))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "https://flag.looker.com", cfg.BaseURL)
	assert.Equal(t, 100, cfg.PollInterval)
	assert.True(t, cfg.RemoteReset)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			BaseURL:      "https://company.looker.com",
			ClientID:     "id",
			ClientSecret: "secret",
			Port:         DefaultPort,
			Project:      "eye_exam",
			Timeout:      DefaultTimeout,
			PollInterval: DefaultPollInterval,
		}
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		wantName string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no base url", mutate: func(c *Config) { c.BaseURL = "" }, wantName: "missing-base-url"},
		{name: "no client id", mutate: func(c *Config) { c.ClientID = "" }, wantName: "missing-client-id"},
		{name: "no client secret", mutate: func(c *Config) { c.ClientSecret = "" }, wantName: "missing-client-secret"},
		{name: "no project", mutate: func(c *Config) { c.Project = "" }, wantName: "missing-project"},
		{name: "relative url", mutate: func(c *Config) { c.BaseURL = "company.looker.com" }, wantName: "invalid-base-url"},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantName: "invalid-port"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, wantName: "invalid-timeout"},
		{name: "zero poll interval", mutate: func(c *Config) { c.PollInterval = 0 }, wantName: "invalid-poll-interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantName == "" {
				require.NoError(t, err)
				return
			}
			var ce *core.Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, core.KindConfig, ce.Kind)
			assert.Equal(t, tt.wantName, ce.Name)
		})
	}
}

func TestConfig_ValidateConnectionSkipsProject(t *testing.T) {
	cfg := Config{
		BaseURL:      "https://company.looker.com",
		ClientID:     "id",
		ClientSecret: "secret",
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
	}
	require.NoError(t, cfg.ValidateConnection())
	require.Error(t, cfg.Validate())
}

func TestMissingMentionsEnvVar(t *testing.T) {
	err := missing("client_secret")
	assert.Contains(t, err.Error(), "--client-secret")
	assert.Contains(t, err.Error(), "LOOKCHECK_CLIENT_SECRET")
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	logger := slog.New(slog.DiscardHandler)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))
	assert.Equal(t, logger, ctx.Value(LoggerKey()))
}
