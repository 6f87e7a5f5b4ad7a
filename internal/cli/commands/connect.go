package commands

import (
	"fmt"

	"github.com/leapstack-labs/lookcheck/internal/cli/output"
	"github.com/spf13/cobra"
)

// NewConnectCommand creates the connect command.
func NewConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Check the connection and credentials for the Looker API",
		Long: `Authenticate against the Looker API and print the instance version.

No project is needed; only base_url, client_id and client_secret are used.`,
		Example: `  LOOKCHECK_CLIENT_SECRET=... lookcheck connect --base-url https://company.looker.com --client-id abc`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConnect(cmd)
		},
	}
}

func runConnect(cmd *cobra.Command) error {
	cc, err := NewCommandContext(cmd, false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := cc.Client.Authenticate(ctx); err != nil {
		return err
	}
	release, err := cc.Client.GetLookerRelease(ctx)
	if err != nil {
		return err
	}

	if cc.Renderer.EffectiveMode() == output.ModeJSON {
		return cc.Renderer.JSON(map[string]string{
			"base_url":       cc.Client.BaseURL(),
			"looker_version": release,
		})
	}
	cc.Renderer.Success(fmt.Sprintf("Connected to %s (Looker %s)", cc.Client.BaseURL(), release))
	return nil
}
