// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/lookcheck/internal/cli/config"
	"github.com/leapstack-labs/lookcheck/internal/testutil"
	"github.com/leapstack-labs/lookcheck/pkg/looker/lookertest"
	"github.com/spf13/cobra"
)

// NewTestConfig returns a valid configuration pointing at a fake Looker
// instance. The returned config polls every millisecond.
func NewTestConfig(s *lookertest.Server, project string) *config.Config {
	return &config.Config{
		BaseURL:      s.URL,
		ClientID:     lookertest.ClientID,
		ClientSecret: lookertest.ClientSecret,
		APIVersion:   config.DefaultAPIVersion,
		Project:      project,
		OutputFormat: config.DefaultOutput,
		Timeout:      config.DefaultTimeout,
		PollInterval: 1,
	}
}

// Result is the captured outcome of a command run.
type Result struct {
	Out    string
	ErrOut string
	Err    error
}

// Execute runs cmd with args the way the root command would: cfg and a test
// logger are placed in the command context.
func Execute(t *testing.T, cmd *cobra.Command, cfg *config.Config, args ...string) Result {
	t.Helper()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	ctx := config.WithLogger(context.Background(), testutil.NewTestLogger(t))
	ctx = config.WithConfig(ctx, cfg)
	err := cmd.ExecuteContext(ctx)

	return Result{Out: out.String(), ErrOut: errOut.String(), Err: err}
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContains checks that the string contains the expected substring.
func AssertContains(t *testing.T, s, expected string) {
	t.Helper()
	if !strings.Contains(s, expected) {
		t.Errorf("string %q does not contain expected %q", s, expected)
	}
}

// AssertNotContains checks that the string does not contain the substring.
func AssertNotContains(t *testing.T, s, unexpected string) {
	t.Helper()
	if strings.Contains(s, unexpected) {
		t.Errorf("string %q unexpectedly contains %q", s, unexpected)
	}
}
