package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/internal/validator"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
	"golang.org/x/sync/errgroup"
)

// SQLOptions configure a SQL validation run.
type SQLOptions struct {
	Ref string
	// Ephemeral runs on a temporary branch off Ref, leaving the branch itself
	// untouched.
	Ephemeral    bool
	Selectors    lookml.Selectors
	IgnoreHidden bool
	Mode         validator.Mode
	Concurrency  int
	ChunkSize    int
	Profile      bool
	// RuntimeThreshold in seconds above which queries are profiled.
	RuntimeThreshold float64
	// Incremental only tests explores whose SQL differs from Target and hides
	// errors that also happen on Target.
	Incremental bool
	// Target is the ref compared against; empty means production.
	Target string
}

// SQLReport is the outcome of a SQL validation run.
type SQLReport struct {
	Result           core.Result
	Profile          []validator.ProfileEntry
	RuntimeThreshold float64
}

// ValidateSQL checks that the SQL of the selected explores runs.
func (r *Runner) ValidateSQL(ctx context.Context, opts SQLOptions) (SQLReport, error) {
	if opts.Mode == "" {
		opts.Mode = validator.ModeBatch
	}
	v := validator.NewSQLValidator(validator.SQLConfig{
		Client:           r.client,
		Concurrency:      opts.Concurrency,
		RuntimeThreshold: opts.RuntimeThreshold,
		PollInterval:     r.pollInterval,
		Logger:           r.logger,
	})

	var (
		result core.Result
		err    error
	)
	if opts.Incremental {
		result, err = r.incrementalSQL(ctx, v, opts)
	} else {
		err = r.scoped(ctx, opts.Ref, opts.Ephemeral, func(ctx context.Context) error {
			p, err := r.buildWithFields(ctx, opts)
			if err != nil {
				return err
			}
			r.sqlHeader(p, opts, v)
			if err := v.Search(ctx, p.Explores(), r.searchOptions(opts)); err != nil {
				return err
			}
			result = p.Results(core.ValidatorSQL, opts.Mode.FailFast(), opts.Selectors)
			return nil
		})
	}
	if err != nil {
		return SQLReport{}, err
	}

	report := SQLReport{Result: result, RuntimeThreshold: v.RuntimeThreshold()}
	if opts.Profile {
		report.Profile = v.Profile()
	}
	return report, nil
}

func (r *Runner) buildWithFields(ctx context.Context, opts SQLOptions) (*lookml.Project, error) {
	return r.build(ctx, lookml.BuildOptions{
		Selectors:     opts.Selectors,
		IncludeFields: true,
		IgnoreHidden:  opts.IgnoreHidden,
	})
}

func (r *Runner) searchOptions(opts SQLOptions) validator.SearchOptions {
	return validator.SearchOptions{
		FailFast:  opts.Mode.FailFast(),
		ChunkSize: opts.Mode.ChunkSize(opts.ChunkSize),
		Profile:   opts.Profile,
	}
}

func (r *Runner) sqlHeader(p *lookml.Project, opts SQLOptions, v *validator.SQLValidator) {
	title := fmt.Sprintf("Testing %s [%s mode] [concurrency = %d]", plural(p.CountExplores(), "explore"), opts.Mode, v.Concurrency())
	if opts.Incremental {
		title += " [incremental mode]"
	}
	r.header(title)
}

// exploreKey identifies an explore, or a field of an explore, across refs.
type exploreKey struct {
	model, explore, field string
}

// incrementalSQL validates only the explores whose SQL differs between the
// ref under test and the target, and ignores field errors whose SQL is the
// same on both.
func (r *Runner) incrementalSQL(ctx context.Context, v *validator.SQLValidator, opts SQLOptions) (core.Result, error) {
	var (
		targetSQL    map[exploreKey]string
		targetCommit string
		targetRef    string
	)
	err := r.scoped(ctx, opts.Target, false, func(ctx context.Context) error {
		p, err := r.buildWithFields(ctx, opts)
		if err != nil {
			return err
		}
		targetSQL, err = r.compileExplores(ctx, v, p.Explores(), opts.Concurrency)
		targetCommit, targetRef = r.branches.Commit(), r.branches.Ref()
		return err
	})
	if err != nil {
		return core.Result{}, err
	}

	var (
		project *lookml.Project
		errored []*lookml.Field
		baseSQL map[exploreKey]string
	)
	err = r.scoped(ctx, opts.Ref, opts.Ephemeral, func(ctx context.Context) error {
		if r.branches.Commit() == targetCommit {
			return core.ConfigErrorf("incremental-same-commit",
				"Incremental comparison to the same commit.",
				"Ref %s is at the same commit as the target %s, so there is nothing to compare.",
				r.branches.Ref(), targetRef)
		}

		p, err := r.buildWithFields(ctx, opts)
		if err != nil {
			return err
		}
		project = p

		sqls, err := r.compileExplores(ctx, v, p.Explores(), opts.Concurrency)
		if err != nil {
			return err
		}
		var modified []*lookml.Explore
		for _, e := range p.Explores() {
			if e.Skipped != "" {
				continue
			}
			key := exploreKey{model: e.Model, explore: e.Name}
			if sql, ok := targetSQL[key]; ok && sql == sqls[key] {
				r.logger.Debug("explore is unmodified", "model", e.Model, "explore", e.Name)
				e.Skipped = core.SkipUnmodified
				continue
			}
			modified = append(modified, e)
		}

		r.sqlHeader(p, opts, v)
		if err := v.Search(ctx, modified, r.searchOptions(opts)); err != nil {
			return err
		}

		errored = p.ErroredFields()
		baseSQL, err = r.compileFields(ctx, v, errored)
		return err
	})
	if err != nil {
		return core.Result{}, err
	}

	if len(errored) > 0 {
		err = r.scoped(ctx, opts.Target, false, func(ctx context.Context) error {
			sqls, err := r.compileFields(ctx, v, errored)
			if err != nil {
				return err
			}
			for _, f := range errored {
				key := exploreKey{model: f.Model, explore: f.Explore, field: f.Name}
				sql, ok := sqls[key]
				if !ok || sql != baseSQL[key] {
					continue
				}
				r.logger.Debug("ignoring errors that also happen on target", "field", f.Name, "target", targetRef)
				for _, e := range f.Errors {
					e.Ignore = true
				}
			}
			return nil
		})
		if err != nil {
			return core.Result{}, err
		}
	}

	return project.Results(core.ValidatorSQL, opts.Mode.FailFast(), opts.Selectors), nil
}

// compileExplores returns the SQL of every explore, keyed by model and
// explore. Explores that do not exist on the current ref are left out.
func (r *Runner) compileExplores(ctx context.Context, v *validator.SQLValidator, explores []*lookml.Explore, limit int) (map[exploreKey]string, error) {
	compiled := make([]lookml.CompiledSQL, len(explores))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, validator.DefaultConcurrency))
	for i, e := range explores {
		g.Go(func() error {
			c, err := v.CompileExplore(gctx, e)
			if err != nil {
				var apiErr *looker.APIError
				if errors.As(err, &apiErr) {
					r.logger.Debug("explore does not compile on this ref", "model", e.Model, "explore", e.Name, "status", apiErr.Status)
					return nil
				}
				return err
			}
			compiled[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[exploreKey]string, len(compiled))
	for _, c := range compiled {
		if c.Explore == "" {
			continue
		}
		out[exploreKey{model: c.Model, explore: c.Explore}] = c.SQL
	}
	return out, nil
}

// compileFields returns the SQL of each field. Fields that do not exist on
// the current ref are left out.
func (r *Runner) compileFields(ctx context.Context, v *validator.SQLValidator, fields []*lookml.Field) (map[exploreKey]string, error) {
	out := make(map[exploreKey]string, len(fields))
	for _, f := range fields {
		c, err := v.CompileField(ctx, f)
		if err != nil {
			var apiErr *looker.APIError
			if errors.As(err, &apiErr) {
				r.logger.Debug("field does not compile on this ref", "field", f.Name, "status", apiErr.Status)
				continue
			}
			return nil, err
		}
		out[exploreKey{model: c.Model, explore: c.Explore, field: c.Field}] = c.SQL
	}
	return out, nil
}
