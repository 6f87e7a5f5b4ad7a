package validator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
	"golang.org/x/sync/errgroup"
)

// DataTestClient is the Looker API surface needed to run data tests.
type DataTestClient interface {
	BaseURL() string
	AllLookMLTests(ctx context.Context, project string) ([]looker.LookMLTest, error)
	RunLookMLTest(ctx context.Context, project, model, test string) ([]looker.LookMLTestResult, error)
}

// DataTest is a LookML data test bound to an explore in the tree.
type DataTest struct {
	Name           string
	Explore        *lookml.Explore
	Project        string
	QueryURLParams string
	File           string
	Line           int
	Passed         core.Outcome

	baseURL  string
	filePath string
}

func newDataTest(t looker.LookMLTest, e *lookml.Explore, project, baseURL string) (*DataTest, error) {
	_, path, ok := strings.Cut(t.File, "/")
	if !ok {
		return nil, core.ConfigErrorf("data-test-has-incorrect-file-path-format",
			"A data test does not have the correct file path format.",
			"Couldn't extract file path from unexpected file '%s'", t.File)
	}
	return &DataTest{
		Name:           t.Name,
		Explore:        e,
		Project:        project,
		QueryURLParams: t.QueryURLParams,
		File:           t.File,
		Line:           t.Line,
		baseURL:        strings.TrimRight(baseURL, "/"),
		filePath:       path,
	}, nil
}

// LookMLURL links to the test definition in the Looker IDE.
func (t *DataTest) LookMLURL() string {
	return fmt.Sprintf("%s/projects/%s/files/%s?line=%d", t.baseURL, t.Project, t.filePath, t.Line)
}

// ExploreURL opens the test query in an explore.
func (t *DataTest) ExploreURL() string {
	return fmt.Sprintf("%s/explore/%s/%s?%s", t.baseURL, t.Explore.Model, t.Explore.Name, t.QueryURLParams)
}

func (t *DataTest) detail() lookml.DataTestDetail {
	return lookml.DataTestDetail{TestName: t.Name, LookMLURL: t.LookMLURL(), ExploreURL: t.ExploreURL()}
}

// DataTestConfig configures a DataTestValidator.
type DataTestConfig struct {
	Client DataTestClient
	// Concurrency bounds the number of tests running at once.
	Concurrency int
	Logger      *slog.Logger
}

// DataTestValidator runs the LookML data tests of a project.
type DataTestValidator struct {
	client      DataTestClient
	concurrency int
	logger      *slog.Logger
}

// NewDataTestValidator creates a data test validator.
func NewDataTestValidator(cfg DataTestConfig) *DataTestValidator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &DataTestValidator{client: cfg.Client, concurrency: concurrency, logger: logger}
}

// GetTests returns the tests of the project whose explore is in the tree.
func (v *DataTestValidator) GetTests(ctx context.Context, p *lookml.Project) ([]*DataTest, error) {
	all, err := v.client.AllLookMLTests(ctx, p.Name)
	if err != nil {
		return nil, err
	}

	var tests []*DataTest
	for _, t := range all {
		e := p.Explore(t.ModelName, t.ExploreName)
		if e == nil {
			continue
		}
		test, err := newDataTest(t, e, p.Name, v.client.BaseURL())
		if err != nil {
			return nil, err
		}
		tests = append(tests, test)
	}

	if len(tests) == 0 {
		return nil, core.ConfigError("no-data-tests-found", "No data tests found.",
			"If you're using --explores, make sure your project has data tests that reference those models or explores.")
	}
	return tests, nil
}

// Validate runs the tests and attaches their outcome to the tree. It returns
// the errors of failed tests.
func (v *DataTestValidator) Validate(ctx context.Context, tests []*DataTest) ([]*lookml.Error, error) {
	results := make([][]looker.LookMLTestResult, len(tests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, t := range tests {
		g.Go(func() error {
			v.logger.Debug("running data test", "test", t.Name, "model", t.Explore.Model, "explore", t.Explore.Name)
			res, err := v.client.RunLookMLTest(gctx, t.Project, t.Explore.Model, t.Name)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var errs []*lookml.Error
	for i, t := range tests {
		t.Explore.MarkQueried()
		if len(results[i]) == 0 {
			return nil, fmt.Errorf("failed to run data test %s: %w", t.Name, looker.ErrMalformedResult)
		}
		res := results[i][0]

		if res.Success {
			t.Passed = core.OutcomePassed
			t.Explore.Successes = append(t.Explore.Successes,
				lookml.NewDataTestSuccess(t.Explore.Model, t.Explore.Name, t.detail()))
			continue
		}

		t.Passed = core.OutcomeErrored
		for _, te := range res.Errors {
			lerr := lookml.NewDataTestError(te.ModelID, te.Explore, te.Message, t.detail())
			t.Explore.Errors = append(t.Explore.Errors, lerr)
			errs = append(errs, lerr)
		}
	}
	return errs, nil
}
