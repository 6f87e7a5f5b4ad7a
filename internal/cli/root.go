// Package cli provides the command-line interface for lookcheck.
package cli

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/lookcheck/internal/cli/commands"
	"github.com/leapstack-labs/lookcheck/internal/cli/config"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "lookcheck",
		Short: "lookcheck - continuous validation for Looker projects",
		Long: `lookcheck validates a Looker LookML project through the Looker API.

It runs the SQL behind every explore, finds content broken by LookML changes,
runs LookML data tests and Looker's LookML validator, on production, a branch
or a single commit.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.LoadConfig(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			level := slog.LevelInfo
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = config.WithLogger(ctx, logger)
			ctx = config.WithConfig(ctx, cfg)
			cmd.SetContext(ctx)

			if configFile := config.GetConfigFileUsed(); configFile != "" {
				logger.Debug("using config file", "path", configFile)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./lookcheck.yaml)")
	flags.String("base-url", "", "Looker instance URL, e.g. https://company.looker.com")
	flags.String("client-id", "", "Looker API client ID")
	flags.String("client-secret", "", "Looker API client secret (prefer LOOKCHECK_CLIENT_SECRET)")
	flags.Int("port", config.DefaultPort, "Looker API port; 0 uses the port of --base-url")
	flags.String("api-version", config.DefaultAPIVersion, "Looker API version")
	flags.String("project", "", "LookML project to validate")
	flags.Bool("remote-reset", false, "Reset checked out branches to their remote tip before validating")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.StringP("output", "o", "", "Output format (text|json)")
	flags.Int("timeout", config.DefaultTimeout, "Looker API request timeout in seconds")
	flags.Int("poll-interval", config.DefaultPollInterval, "Query task poll interval in milliseconds")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewConnectCommand())
	rootCmd.AddCommand(commands.NewSQLCommand())
	rootCmd.AddCommand(commands.NewContentCommand())
	rootCmd.AddCommand(commands.NewAssertCommand())
	rootCmd.AddCommand(commands.NewLookMLCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for lookcheck.

To load completions:

Bash:
  $ source <(lookcheck completion bash)

Zsh:
  $ lookcheck completion zsh > "${fpath[1]}/_lookcheck"

Fish:
  $ lookcheck completion fish | source

PowerShell:
  PS> lookcheck completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
