package validator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
)

// LookMLClient is the Looker API surface needed to run the LookML validator.
type LookMLClient interface {
	BaseURL() string
	CachedLookMLValidation(ctx context.Context, project string) (*looker.LookMLValidation, error)
	LookMLValidation(ctx context.Context, project string) (looker.LookMLValidation, error)
}

// LookMLValidator reports the issues Looker's own LookML validator finds.
type LookMLValidator struct {
	client LookMLClient
	logger *slog.Logger
}

// NewLookMLValidator creates a LookML validator.
func NewLookMLValidator(client LookMLClient, logger *slog.Logger) *LookMLValidator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LookMLValidator{client: client, logger: logger}
}

// ParseSeverity validates a severity threshold name.
func ParseSeverity(s string) (core.Severity, error) {
	sev, ok := core.ParseSeverity(s)
	if !ok {
		return sev, core.ConfigErrorf("invalid-severity", "Invalid severity.",
			"Severity %q must be one of %s.", s, strings.Join(core.SeverityNames(), ", "))
	}
	return sev, nil
}

// Validate returns every issue of the project. The run fails when an issue
// is at or above threshold.
func (v *LookMLValidator) Validate(ctx context.Context, project string, threshold core.Severity) (core.Result, error) {
	validation, err := v.client.CachedLookMLValidation(ctx, project)
	if err != nil {
		return core.Result{}, err
	}
	if validation == nil || validation.Stale {
		v.logger.Debug("no fresh cached LookML validation, running validator", "project", project)
		fresh, err := v.client.LookMLValidation(ctx, project)
		if err != nil {
			return core.Result{}, err
		}
		validation = &fresh
	}

	res := core.Result{
		Validator: core.ValidatorLookML,
		Status:    core.StatusPassed,
		Tested:    []core.TestResult{},
		Errors:    []core.ErrorResult{},
	}
	base := strings.TrimRight(v.client.BaseURL(), "/")
	for _, e := range validation.Errors {
		var url string
		if e.FilePath != "" {
			_, path, _ := strings.Cut(e.FilePath, "/")
			url = fmt.Sprintf("%s/projects/%s/files/%s", base, project, path)
			if e.LineNumber != 0 {
				url += fmt.Sprintf("?line=%d", e.LineNumber)
			}
		}
		lerr := lookml.NewLookMLError(e.ModelID, e.Explore, e.Message, lookml.LookMLDetail{
			FieldName: e.FieldName,
			Severity:  e.Severity,
			LookMLURL: url,
			FilePath:  e.FilePath,
			Line:      e.LineNumber,
		})
		res.Errors = append(res.Errors, lerr.Result())

		if sev, _ := core.ParseSeverity(e.Severity); sev >= threshold {
			res.Status = core.StatusFailed
		}
	}
	return res, nil
}
