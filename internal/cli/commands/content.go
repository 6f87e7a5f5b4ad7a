package commands

import (
	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/internal/runner"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/spf13/cobra"
)

// ContentOptions holds options for the content command.
type ContentOptions struct {
	refFlags
	targetFlags
	Explores        []string
	ExcludePersonal bool
	Folders         []string
}

// NewContentCommand creates the content command.
func NewContentCommand() *cobra.Command {
	opts := &ContentOptions{}
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Find Looks and dashboard tiles that reference broken fields",
		Long: `Run Looker's content validator on the selected ref and attach each broken
Look or dashboard tile to the explore it queries.

With --incremental, only errors that do not also occur on the target ref are
reported.`,
		Example: `  # Validate content against a branch, ignoring errors already in production
  lookcheck content --branch feature --incremental

  # Only check two folders, excluding one of their subfolders
  lookcheck content --folders 12 --folders 40 --folders -41`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runContent(cmd, opts)
		},
	}

	opts.refFlags.register(cmd.Flags())
	opts.targetFlags.register(cmd.Flags(), "content")
	registerExplores(cmd.Flags(), &opts.Explores)
	cmd.Flags().BoolVar(&opts.ExcludePersonal, "exclude-personal", false, "Skip content in personal folders")
	cmd.Flags().StringSliceVar(&opts.Folders, "folders", nil,
		"Folder ids to validate, including subfolders; a leading - excludes (default: all)")

	return cmd
}

func runContent(cmd *cobra.Command, opts *ContentOptions) error {
	ref, err := opts.ref()
	if err != nil {
		return err
	}
	if err := opts.check(); err != nil {
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

	res, err := cc.Runner().ValidateContent(cmd.Context(), runner.ContentOptions{
		Ref:             ref,
		Ephemeral:       opts.Ephemeral,
		Selectors:       sel,
		Incremental:     opts.Incremental,
		Target:          opts.Target,
		ExcludePersonal: opts.ExcludePersonal,
		Folders:         opts.Folders,
	})
	if err != nil {
		return err
	}
	return cc.Finish(core.ValidatorContent, res)
}
