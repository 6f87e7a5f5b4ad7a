package cli

import (
	"errors"

	"github.com/leapstack-labs/lookcheck/internal/cli/output"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
)

// ExitCode maps an error returned by a command to the process exit code.
// API errors that were not wrapped in a core.Error still exit with
// core.ExitAPI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return core.ExitCode(err)
	}
	var apiErr *looker.APIError
	if errors.As(err, &apiErr) {
		return core.ExitAPI
	}
	return core.ExitGeneric
}

// PrintError writes err for a person to read. Validation failures have
// already been rendered and print only their title.
func PrintError(r *output.Renderer, err error) {
	var ce *core.Error
	var apiErr *looker.APIError
	switch {
	case errors.As(err, &ce) && ce.Kind == core.KindValidation:
		r.Error(ce.Title)
	case errors.As(err, &ce):
		r.Error("Error: " + ce.Title)
		if ce.Detail != "" {
			r.Error(ce.Detail)
		}
		if ce.Err != nil && ce.Kind != core.KindInterrupted {
			r.Error(ce.Err.Error())
		}
	case errors.As(err, &apiErr):
		r.Error("Error: " + err.Error())
		r.Warning("Run in verbose mode (-v) to see every request sent to the Looker API.")
	default:
		r.Error("Error: " + err.Error())
	}
}
