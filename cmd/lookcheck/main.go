// Package main provides the lookcheck CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/lookcheck/internal/cli"
	"github.com/leapstack-labs/lookcheck/internal/cli/output"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()

	if err != nil {
		cli.PrintError(output.NewRenderer(os.Stderr, os.Stderr, output.ModeText), err)
		os.Exit(cli.ExitCode(err))
	}
}
