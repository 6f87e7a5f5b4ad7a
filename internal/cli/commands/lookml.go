package commands

import (
	"strings"

	"github.com/leapstack-labs/lookcheck/internal/runner"
	"github.com/leapstack-labs/lookcheck/internal/validator"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/spf13/cobra"
)

// LookMLOptions holds options for the lookml command.
type LookMLOptions struct {
	refFlags
	Severity string
}

// NewLookMLCommand creates the lookml command.
func NewLookMLCommand() *cobra.Command {
	opts := &LookMLOptions{}
	cmd := &cobra.Command{
		Use:   "lookml",
		Short: "Run Looker's LookML validator on the project",
		Long: `Run Looker's LookML validator, reusing a cached validation when it is current.

Every issue is reported; the run fails only when an issue is at or above
--severity.`,
		Example: `  # Fail on errors only
  lookcheck lookml --branch feature --severity error`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLookML(cmd, opts)
		},
	}

	opts.register(cmd.Flags())
	cmd.Flags().StringVar(&opts.Severity, "severity", core.SeverityWarning.String(),
		"Lowest severity that fails the run: "+strings.Join(core.SeverityNames(), ", "))

	_ = cmd.RegisterFlagCompletionFunc("severity", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return core.SeverityNames(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runLookML(cmd *cobra.Command, opts *LookMLOptions) error {
	ref, err := opts.ref()
	if err != nil {
		return err
	}
	severity, err := validator.ParseSeverity(opts.Severity)
	if err != nil {
		return err
	}
	cc, err := NewCommandContext(cmd, true)
	if err != nil {
		return err
	}

	res, err := cc.Runner().ValidateLookML(cmd.Context(), runner.LookMLOptions{Ref: ref, Ephemeral: opts.Ephemeral, Severity: severity})
	if err != nil {
		return err
	}
	return cc.Finish(core.ValidatorLookML, res)
}
