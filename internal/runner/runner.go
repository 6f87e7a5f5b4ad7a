// Package runner orchestrates validation runs: it scopes each run to a ref of
// the project, builds the project tree, runs a validator and serializes the
// outcome.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/lookcheck/internal/branch"
	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/internal/validator"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
)

// Config configures a Runner.
type Config struct {
	Client  looker.Client
	Project string
	// RemoteReset resets checked out branches to their remote tip.
	RemoteReset bool
	// PollInterval overrides the query task poll interval.
	PollInterval time.Duration
	// Header is called with a one-line summary before a validator starts.
	Header func(title string)
	Logger *slog.Logger
}

// Runner runs validators against one project.
type Runner struct {
	client       looker.Client
	project      string
	pollInterval time.Duration
	header       func(string)
	logger       *slog.Logger
	branches     *branch.Manager
}

// New creates a runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	header := cfg.Header
	if header == nil {
		header = func(string) {}
	}
	return &Runner{
		client:       cfg.Client,
		project:      cfg.Project,
		pollInterval: cfg.PollInterval,
		header:       header,
		logger:       logger,
		branches: branch.New(branch.Config{
			Client:      cfg.Client,
			Project:     cfg.Project,
			RemoteReset: cfg.RemoteReset,
			Logger:      logger,
		}),
	}
}

// scoped runs fn with the project on ref. With ephemeral set, ref is copied
// to a temporary branch first.
func (r *Runner) scoped(ctx context.Context, ref string, ephemeral bool, fn func(ctx context.Context) error) error {
	var eph *bool
	if ephemeral {
		eph = &ephemeral
	}
	if err := r.branches.Configure(ref, eph); err != nil {
		return err
	}
	return r.branches.Run(ctx, fn)
}

func (r *Runner) build(ctx context.Context, opts lookml.BuildOptions) (*lookml.Project, error) {
	r.logger.Info("building LookML project hierarchy", "project", r.project, "ref", r.branches.Ref())
	opts.Logger = r.logger
	return lookml.BuildProject(ctx, r.client, r.project, opts)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// AssertOptions configure a data test run.
type AssertOptions struct {
	Ref string
	// Ephemeral runs on a temporary branch off Ref.
	Ephemeral   bool
	Selectors   lookml.Selectors
	Concurrency int
}

// ValidateDataTests runs the data tests of the selected explores.
func (r *Runner) ValidateDataTests(ctx context.Context, opts AssertOptions) (core.Result, error) {
	var result core.Result
	err := r.scoped(ctx, opts.Ref, opts.Ephemeral, func(ctx context.Context) error {
		p, err := r.build(ctx, lookml.BuildOptions{Selectors: opts.Selectors})
		if err != nil {
			return err
		}

		v := validator.NewDataTestValidator(validator.DataTestConfig{
			Client:      r.client,
			Concurrency: opts.Concurrency,
			Logger:      r.logger,
		})
		tests, err := v.GetTests(ctx, p)
		if err != nil {
			return err
		}
		r.header(fmt.Sprintf("Running %s based on %s", plural(len(tests), "data test"), plural(p.CountExplores(), "explore")))
		if _, err := v.Validate(ctx, tests); err != nil {
			return err
		}
		result = p.Results(core.ValidatorAssert, false, opts.Selectors)
		return nil
	})
	return result, err
}

// LookMLOptions configure a LookML validator run.
type LookMLOptions struct {
	Ref       string
	Ephemeral bool
	Severity  core.Severity
}

// ValidateLookML runs Looker's LookML validator on the project.
func (r *Runner) ValidateLookML(ctx context.Context, opts LookMLOptions) (core.Result, error) {
	var result core.Result
	err := r.scoped(ctx, opts.Ref, opts.Ephemeral, func(ctx context.Context) error {
		r.header(fmt.Sprintf("Validating LookML in project %s [%s or worse]", r.project, opts.Severity))
		var err error
		result, err = validator.NewLookMLValidator(r.client, r.logger).Validate(ctx, r.project, opts.Severity)
		return err
	})
	return result, err
}
