package commands

import (
	"encoding/json"
	"testing"

	clitest "github.com/leapstack-labs/lookcheck/internal/cli/testutil"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
	"github.com/leapstack-labs/lookcheck/pkg/looker/lookertest"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *lookertest.Server {
	t.Helper()
	return lookertest.New(t, lookertest.MustLoadFixture("eye_exam"))
}

func requireKind(t *testing.T, err error, kind core.ErrorKind, name string) {
	t.Helper()
	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, kind, ce.Kind)
	if name != "" {
		assert.Equal(t, name, ce.Name)
	}
}

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewConnectCommand(), "connect", nil},
		{NewSQLCommand(), "sql", []string{"branch", "commit", "ephemeral", "explores", "ignore-hidden", "mode", "concurrency",
			"chunk-size", "profile", "runtime-threshold", "incremental", "target"}},
		{NewContentCommand(), "content", []string{"branch", "commit", "ephemeral", "explores", "incremental", "target",
			"exclude-personal", "folders"}},
		{NewAssertCommand(), "assert", []string{"branch", "commit", "ephemeral", "explores", "concurrency"}},
		{NewLookMLCommand(), "lookml", []string{"branch", "commit", "ephemeral", "severity"}},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			assert.NotEmpty(t, tt.cmd.Long, "Long should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

func TestRefFlags(t *testing.T) {
	tests := []struct {
		name     string
		flags    refFlags
		want     string
		wantName string
	}{
		{name: "production", flags: refFlags{}, want: ""},
		{name: "branch", flags: refFlags{Branch: "feature"}, want: "feature"},
		{name: "commit", flags: refFlags{Commit: "a1b2c3d"}, want: "a1b2c3d"},
		{name: "both", flags: refFlags{Branch: "feature", Commit: "a1b2c3d"}, wantName: "conflicting-refs"},
		{name: "not a commit", flags: refFlags{Commit: "feature"}, wantName: "invalid-commit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.ref()
			if tt.wantName != "" {
				requireKind(t, err, core.KindConfig, tt.wantName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnect(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "")

	res := clitest.Execute(t, NewConnectCommand(), cfg)
	require.NoError(t, res.Err)
	clitest.AssertContains(t, res.Out, "Connected to "+s.URL)
	clitest.AssertContains(t, res.Out, lookertest.Release)
	clitest.AssertNoANSI(t, res.Out)
}

func TestConnect_JSON(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "")
	cfg.OutputFormat = "json"

	res := clitest.Execute(t, NewConnectCommand(), cfg)
	require.NoError(t, res.Err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.Out), &got))
	assert.Equal(t, lookertest.Release, got["looker_version"])
}

func TestConnect_BadCredentials(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "")
	cfg.ClientSecret = "wrong"

	res := clitest.Execute(t, NewConnectCommand(), cfg)
	var apiErr *looker.APIError
	require.ErrorAs(t, res.Err, &apiErr)
}

func TestSQL_ProductionFails(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "eye_exam")

	res := clitest.Execute(t, NewSQLCommand(), cfg)
	requireKind(t, res.Err, core.KindValidation, "validation-failed")
	assert.Equal(t, core.ExitValidation, core.ExitCode(res.Err))

	clitest.AssertContains(t, res.Out, "[batch mode] [concurrency = 10]")
	clitest.AssertContains(t, res.Out, "✓ eye_exam.users passed")
	clitest.AssertContains(t, res.Out, "✗ eye_exam.users__fail failed")
	clitest.AssertContains(t, res.Out, "- eye_exam.empty_explore skipped (no dimensions)")
	clitest.AssertContains(t, res.Out, "Unrecognized name: frist_name")
	clitest.AssertContains(t, res.Out, "--mode hybrid")
}

func TestSQL_HybridFindsDimension(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "eye_exam")

	res := clitest.Execute(t, NewSQLCommand(), cfg, "--mode", "hybrid", "--explores", "eye_exam/users__fail")
	requireKind(t, res.Err, core.KindValidation, "")

	clitest.AssertContains(t, res.Out, "eye_exam.users__fail.first_name")
	clitest.AssertContains(t, res.Out, "LookML: ")
	clitest.AssertNotContains(t, res.Out, "eye_exam.users passed")
	clitest.AssertNotContains(t, res.Out, "--mode single")
}

func TestSQL_BranchPasses(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "eye_exam")

	res := clitest.Execute(t, NewSQLCommand(), cfg, "--branch", "feature")
	require.NoError(t, res.Err)
	clitest.AssertContains(t, res.Out, "✓ eye_exam.users__fail passed")
	assert.Equal(t, looker.WorkspaceProduction, s.Workspace())
}

func TestSQL_EphemeralBranch(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "eye_exam")

	res := clitest.Execute(t, NewSQLCommand(), cfg, "--branch", "feature", "--ephemeral")
	require.NoError(t, res.Err)
	clitest.AssertContains(t, res.Out, "✓ eye_exam.users__fail passed")
	require.Len(t, s.CreatedBranches(), 1)
	assert.Equal(t, s.CreatedBranches(), s.DeletedBranches())
	assert.Equal(t, looker.WorkspaceProduction, s.Workspace())
}

func TestSQL_JSON(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "eye_exam")
	cfg.OutputFormat = "json"

	res := clitest.Execute(t, NewSQLCommand(), cfg, "--explores", "eye_exam/users")
	require.NoError(t, res.Err)

	var got core.Result
	require.NoError(t, json.Unmarshal([]byte(res.Out), &got))
	assert.Equal(t, core.ValidatorSQL, got.Validator)
	assert.Equal(t, core.StatusPassed, got.Status)
	require.Len(t, got.Tested, 1)
	assert.Equal(t, "users", got.Tested[0].Explore)
	clitest.AssertContains(t, res.ErrOut, "Testing 1 explore ")
}

func TestSQL_Profile(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "eye_exam")

	res := clitest.Execute(t, NewSQLCommand(), cfg, "--mode", "single", "--profile", "--explores", "eye_exam/users")
	require.NoError(t, res.Err)
	clitest.AssertContains(t, res.Out, "Query profiler")
	clitest.AssertContains(t, res.Out, "users.age")
}

func TestSQL_FlagErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantName string
	}{
		{name: "profile in batch mode", args: []string{"--profile"}, wantName: "profile-with-fail-fast"},
		{name: "unknown mode", args: []string{"--mode", "fast"}, wantName: "invalid-mode"},
		{name: "branch and commit", args: []string{"--branch", "feature", "--commit", "a1b2c3d"}, wantName: "conflicting-refs"},
		{name: "target without incremental", args: []string{"--target", "feature"}, wantName: "target-without-incremental"},
		{name: "bad selector", args: []string{"--explores", "users"}, wantName: "invalid-selector-format"},
		{name: "zero concurrency", args: []string{"--concurrency", "0"}, wantName: "invalid-concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t)
			res := clitest.Execute(t, NewSQLCommand(), clitest.NewTestConfig(s, "eye_exam"), tt.args...)
			requireKind(t, res.Err, core.KindConfig, tt.wantName)
			assert.Zero(t, s.QueryCount())
		})
	}
}

func TestSQL_MissingProject(t *testing.T) {
	s := newServer(t)
	res := clitest.Execute(t, NewSQLCommand(), clitest.NewTestConfig(s, ""))
	requireKind(t, res.Err, core.KindConfig, "missing-project")
}

func TestContent(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "eye_exam")

	res := clitest.Execute(t, NewContentCommand(), cfg)
	requireKind(t, res.Err, core.KindValidation, "")

	clitest.AssertContains(t, res.Out, "✗ eye_exam.users failed")
	clitest.AssertContains(t, res.Out, "Look: Users look")
	clitest.AssertContains(t, res.Out, "Dashboard: Users dashboard")
	clitest.AssertContains(t, res.Out, "Tile: Sign ups (dashboard_element)")
	clitest.AssertNotContains(t, res.Out, "Deleted model look")
}

func TestContent_ExcludePersonal(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "eye_exam")

	res := clitest.Execute(t, NewContentCommand(), cfg, "--exclude-personal")
	requireKind(t, res.Err, core.KindValidation, "")
	clitest.AssertNotContains(t, res.Out, "Drafts dashboard")
	clitest.AssertContains(t, res.Out, "Users look")
}

func TestContent_UnknownFolder(t *testing.T) {
	s := newServer(t)
	res := clitest.Execute(t, NewContentCommand(), clitest.NewTestConfig(s, "eye_exam"), "--folders", "99")
	requireKind(t, res.Err, core.KindConfig, "folder-id-input-does-not-exist")
}

func TestAssert(t *testing.T) {
	s := newServer(t)
	cfg := clitest.NewTestConfig(s, "eye_exam")

	res := clitest.Execute(t, NewAssertCommand(), cfg)
	requireKind(t, res.Err, core.KindValidation, "")

	clitest.AssertContains(t, res.Out, "Running 2 data tests")
	clitest.AssertContains(t, res.Out, "✗ eye_exam.users failed")
	clitest.AssertContains(t, res.Out, "eye_exam/ages_are_positive")
	clitest.AssertContains(t, res.Out, "expression evaluated to")
}

func TestAssert_NoTests(t *testing.T) {
	s := newServer(t)
	res := clitest.Execute(t, NewAssertCommand(), clitest.NewTestConfig(s, "eye_exam"), "--explores", "eye_exam/users__fail")
	requireKind(t, res.Err, core.KindConfig, "no-data-tests-found")
}

func TestLookML(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFail bool
	}{
		{name: "default warning threshold", args: nil, wantFail: true},
		{name: "error threshold", args: []string{"--severity", "error"}, wantFail: true},
		{name: "fatal threshold", args: []string{"--severity", "fatal"}, wantFail: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t)
			res := clitest.Execute(t, NewLookMLCommand(), clitest.NewTestConfig(s, "eye_exam"), tt.args...)
			if tt.wantFail {
				requireKind(t, res.Err, core.KindValidation, "")
			} else {
				require.NoError(t, res.Err)
			}
			clitest.AssertContains(t, res.Out, "Validating LookML in project eye_exam")
			clitest.AssertContains(t, res.Out, "Unknown view \"orders\".")
			clitest.AssertContains(t, res.Out, "Severity: warning")
		})
	}
}

func TestLookML_InvalidSeverity(t *testing.T) {
	s := newServer(t)
	res := clitest.Execute(t, NewLookMLCommand(), clitest.NewTestConfig(s, "eye_exam"), "--severity", "critical")
	requireKind(t, res.Err, core.KindConfig, "invalid-severity")
}
