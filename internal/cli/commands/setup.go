// Package commands implements the lookcheck subcommands.
package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/lookcheck/internal/branch"
	"github.com/leapstack-labs/lookcheck/internal/cli/config"
	"github.com/leapstack-labs/lookcheck/internal/cli/output"
	"github.com/leapstack-labs/lookcheck/internal/runner"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Client   *looker.HTTPClient
	Renderer *output.Renderer
}

// NewCommandContext validates the configuration and creates the API client
// and renderer. requireProject is false for commands that only talk to the
// instance.
func NewCommandContext(cmd *cobra.Command, requireProject bool) (*CommandContext, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, errors.New("configuration was not loaded")
	}
	validate := cfg.Validate
	if !requireProject {
		validate = cfg.ValidateConnection
	}
	if err := validate(); err != nil {
		return nil, err
	}

	mode, err := output.ParseMode(cfg.OutputFormat)
	if err != nil {
		return nil, core.ConfigError("invalid-output", "The output format is not valid.", err.Error())
	}

	logger := config.GetLogger(cmd.Context())
	lc := cfg.LookerConfig()
	lc.Logger = logger
	client, err := looker.NewHTTPClient(lc)
	if err != nil {
		return nil, core.ConfigError("invalid-base-url", "The base URL is not valid.", err.Error())
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Client:   client,
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}, nil
}

// Runner returns a runner for the configured project whose headers go to the
// renderer.
func (c *CommandContext) Runner() *runner.Runner {
	return runner.New(runner.Config{
		Client:       c.Client,
		Project:      c.Cfg.Project,
		RemoteReset:  c.Cfg.RemoteReset,
		PollInterval: c.Cfg.PollIntervalDuration(),
		Header:       c.Renderer.Header,
		Logger:       c.Logger,
	})
}

// Finish renders a result and turns a failed result into a validation error.
func (c *CommandContext) Finish(validatorName string, res core.Result) error {
	if err := c.Renderer.Result(res); err != nil {
		return err
	}
	if res.Passed() {
		return nil
	}
	return &core.Error{
		Kind:  core.KindValidation,
		Name:  "validation-failed",
		Title: fmt.Sprintf("The %s validator found errors.", validatorName),
	}
}

// refFlags select the git ref a command runs on.
type refFlags struct {
	Branch    string
	Commit    string
	Ephemeral bool
}

func (f *refFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.Branch, "branch", "", "Git branch to validate (default: production)")
	fs.StringVar(&f.Commit, "commit", "", "Git commit to validate, checked out on a temporary branch")
	fs.BoolVar(&f.Ephemeral, "ephemeral", false, "Validate on a temporary branch copied from the ref, leaving the ref itself untouched")
}

// ref returns the ref to run on; empty means production.
func (f refFlags) ref() (string, error) {
	if f.Branch != "" && f.Commit != "" {
		return "", core.ConfigError("conflicting-refs",
			"A branch and a commit were both specified.",
			"Use either --branch or --commit, not both.")
	}
	if f.Commit != "" {
		if !branch.IsCommit(f.Commit) {
			return "", core.ConfigErrorf("invalid-commit",
				"The commit is not valid.",
				"%q does not look like a commit hash.", f.Commit)
		}
		return f.Commit, nil
	}
	return f.Branch, nil
}

// targetFlags select the ref incremental runs compare against.
type targetFlags struct {
	Incremental bool
	Target      string
}

func (f *targetFlags) register(fs *pflag.FlagSet, what string) {
	fs.BoolVar(&f.Incremental, "incremental", false,
		fmt.Sprintf("Only report %s errors that do not also occur on the target ref", what))
	fs.StringVar(&f.Target, "target", "", "Ref compared against in incremental mode (default: production)")
}

func (f targetFlags) check() error {
	if f.Target != "" && !f.Incremental {
		return core.ConfigError("target-without-incremental",
			"A target was specified without incremental mode.",
			"--target is only used together with --incremental.")
	}
	return nil
}

func registerExplores(fs *pflag.FlagSet, dst *[]string) {
	fs.StringSliceVar(dst, "explores", nil,
		"Explores to select as model/explore; * matches any name and a leading - excludes (default: */*)")
}
