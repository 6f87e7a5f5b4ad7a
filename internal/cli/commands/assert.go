package commands

import (
	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/internal/runner"
	"github.com/leapstack-labs/lookcheck/internal/validator"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/spf13/cobra"
)

// AssertOptions holds options for the assert command.
type AssertOptions struct {
	refFlags
	Explores    []string
	Concurrency int
}

// NewAssertCommand creates the assert command.
func NewAssertCommand() *cobra.Command {
	opts := &AssertOptions{}
	cmd := &cobra.Command{
		Use:   "assert",
		Short: "Run the LookML data tests of the selected explores",
		Long:  `Run every LookML data test defined on a selected explore and report failed assertions.`,
		Example: `  # Run data tests on a branch
  lookcheck assert --branch feature

  # Run the data tests of one model
  lookcheck assert --explores "ecommerce/*"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAssert(cmd, opts)
		},
	}

	opts.register(cmd.Flags())
	registerExplores(cmd.Flags(), &opts.Explores)
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", validator.DefaultConcurrency, "Maximum number of data tests running at once")

	return cmd
}

func runAssert(cmd *cobra.Command, opts *AssertOptions) error {
	ref, err := opts.ref()
	if err != nil {
		return err
	}
	sel, err := lookml.ParseSelectors(opts.Explores)
	if err != nil {
		return err
	}
	cc, err := NewCommandContext(cmd, true)
	if err != nil {
		return err
	}

	res, err := cc.Runner().ValidateDataTests(cmd.Context(), runner.AssertOptions{
		Ref:         ref,
		Ephemeral:   opts.Ephemeral,
		Selectors:   sel,
		Concurrency: opts.Concurrency,
	})
	if err != nil {
		return err
	}
	return cc.Finish(core.ValidatorAssert, res)
}
