package commands

import (
	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/internal/runner"
	"github.com/leapstack-labs/lookcheck/internal/validator"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/spf13/cobra"
)

// SQLOptions holds options for the sql command.
type SQLOptions struct {
	refFlags
	targetFlags
	Explores         []string
	IgnoreHidden     bool
	Mode             string
	Concurrency      int
	ChunkSize        int
	Profile          bool
	RuntimeThreshold float64
}

// NewSQLCommand creates the sql command.
func NewSQLCommand() *cobra.Command {
	opts := &SQLOptions{}
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Run the SQL of every selected explore to find database errors",
		Long: `Build a query for each selected explore and run it against the database.

Queries select every dimension of the explore with a filter that returns no
rows, so only the SQL is tested. How failures are reported depends on --mode:
  - batch:  report the first error of each explore (fastest)
  - hybrid: run explores, then split failing ones down to the fields at fault
  - single: test every dimension on its own`,
		Example: `  # Validate production
  lookcheck sql

  # Validate a branch and find the exact dimensions at fault
  lookcheck sql --branch feature --mode hybrid

  # Only test explores that differ from production
  lookcheck sql --branch feature --incremental

  # Select explores
  lookcheck sql --explores "ecommerce/*" --explores -ecommerce/legacy`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSQL(cmd, opts)
		},
	}

	opts.refFlags.register(cmd.Flags())
	opts.targetFlags.register(cmd.Flags(), "SQL")
	registerExplores(cmd.Flags(), &opts.Explores)
	cmd.Flags().BoolVar(&opts.IgnoreHidden, "ignore-hidden", false, "Skip hidden dimensions")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(validator.ModeBatch), "Error reporting mode: batch, hybrid or single")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", validator.DefaultConcurrency, "Maximum number of queries running at once")
	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", validator.DefaultChunkSize, "Maximum number of dimensions per query")
	cmd.Flags().BoolVar(&opts.Profile, "profile", false, "List queries that ran longer than --runtime-threshold")
	cmd.Flags().Float64Var(&opts.RuntimeThreshold, "runtime-threshold", validator.DefaultRuntimeThreshold,
		"Runtime in seconds above which queries are profiled")

	_ = cmd.RegisterFlagCompletionFunc("mode", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(validator.ModeBatch), string(validator.ModeHybrid), string(validator.ModeSingle)},
			cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func (o *SQLOptions) runnerOptions() (runner.SQLOptions, error) {
	ref, err := o.ref()
	if err != nil {
		return runner.SQLOptions{}, err
	}
	if err := o.check(); err != nil {
		return runner.SQLOptions{}, err
	}
	mode, err := validator.ParseMode(o.Mode)
	if err != nil {
		return runner.SQLOptions{}, err
	}
	if o.Profile && mode.FailFast() {
		return runner.SQLOptions{}, core.ConfigError("profile-with-fail-fast",
			"Profiling is not available in batch mode.",
			"Batch mode stops at the first error of each explore, so runtimes are incomplete. "+
				"Use --mode hybrid or --mode single with --profile.")
	}
	if o.Concurrency < 1 {
		return runner.SQLOptions{}, core.ConfigErrorf("invalid-concurrency",
			"The concurrency must be at least 1.", "Got %d.", o.Concurrency)
	}
	sel, err := lookml.ParseSelectors(o.Explores)
	if err != nil {
		return runner.SQLOptions{}, err
	}
	return runner.SQLOptions{
		Ref:              ref,
		Ephemeral:        o.Ephemeral,
		Selectors:        sel,
		IgnoreHidden:     o.IgnoreHidden,
		Mode:             mode,
		Concurrency:      o.Concurrency,
		ChunkSize:        o.ChunkSize,
		Profile:          o.Profile,
		RuntimeThreshold: o.RuntimeThreshold,
		Incremental:      o.Incremental,
		Target:           o.Target,
	}, nil
}

func runSQL(cmd *cobra.Command, opts *SQLOptions) error {
	ro, err := opts.runnerOptions()
	if err != nil {
		return err
	}
	cc, err := NewCommandContext(cmd, true)
	if err != nil {
		return err
	}

	report, err := cc.Runner().ValidateSQL(cmd.Context(), ro)
	if err != nil {
		return err
	}

	if ro.Profile {
		cc.Renderer.Profile(report.Profile, report.RuntimeThreshold)
	}
	if err := cc.Finish(core.ValidatorSQL, report.Result); err != nil {
		if ro.Mode == validator.ModeBatch && len(report.Result.Errors) > 0 {
			cc.Renderer.Muted("To find the dimensions responsible, re-run with --mode hybrid " +
				"or test each dimension on its own with --mode single.")
		}
		return err
	}
	return nil
}
