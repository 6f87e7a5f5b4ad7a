package runner

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/internal/validator"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
)

// ContentOptions configure a content validation run.
type ContentOptions struct {
	Ref string
	// Ephemeral runs on a temporary branch off Ref.
	Ephemeral bool
	Selectors lookml.Selectors
	// Incremental only reports errors that do not also exist on Target.
	Incremental     bool
	Target          string
	ExcludePersonal bool
	Folders         []string
}

// ValidateContent finds Looks and dashboard tiles broken on the ref.
func (r *Runner) ValidateContent(ctx context.Context, opts ContentOptions) (core.Result, error) {
	v := validator.NewContentValidator(validator.ContentConfig{
		Client:          r.client,
		ExcludePersonal: opts.ExcludePersonal,
		Folders:         opts.Folders,
		Logger:          r.logger,
	})

	var (
		base      core.Result
		workspace looker.Workspace
	)
	err := r.scoped(ctx, opts.Ref, opts.Ephemeral, func(ctx context.Context) error {
		var err error
		base, err = r.content(ctx, v, opts, true)
		workspace = r.branches.Workspace()
		return err
	})
	if err != nil {
		return core.Result{}, err
	}

	if !opts.Incremental || workspace == looker.WorkspaceProduction {
		return base, nil
	}

	r.logger.Debug("validating content on target for comparison", "target", opts.Target)
	var target core.Result
	err = r.scoped(ctx, opts.Target, false, func(ctx context.Context) error {
		var err error
		target, err = r.content(ctx, v, opts, false)
		return err
	})
	if err != nil {
		return core.Result{}, err
	}
	return IncrementalContentResults(base, target), nil
}

func (r *Runner) content(ctx context.Context, v *validator.ContentValidator, opts ContentOptions, header bool) (core.Result, error) {
	p, err := r.build(ctx, lookml.BuildOptions{IncludeAllExplores: true})
	if err != nil {
		return core.Result{}, err
	}
	if header {
		title := fmt.Sprintf("Validating content based on %s", plural(countSelected(p, opts.Selectors), "explore"))
		if opts.Incremental {
			title += " [incremental mode]"
		}
		r.header(title)
	}
	if _, err := v.Validate(ctx, p); err != nil {
		return core.Result{}, err
	}
	return p.Results(core.ValidatorContent, false, opts.Selectors), nil
}

func countSelected(p *lookml.Project, sel lookml.Selectors) int {
	n := 0
	for _, e := range p.Explores() {
		if sel.Match(e.Model, e.Name) {
			n++
		}
	}
	return n
}

// IncrementalContentResults keeps only the errors in base that do not also
// occur in target. Explores whose errors all occur in target pass.
func IncrementalContentResults(base, target core.Result) core.Result {
	res := core.Result{
		Validator: core.ValidatorContent,
		Tested:    []core.TestResult{},
		Errors:    []core.ErrorResult{},
	}
	for _, t := range base.Tested {
		if t.Status == core.StatusPassed {
			res.Tested = append(res.Tested, t)
		}
	}

	type key struct{ model, explore string }
	disputed := make(map[key]core.Status)
	var order []key
	for _, e := range base.Errors {
		status := core.StatusFailed
		if slices.ContainsFunc(target.Errors, func(t core.ErrorResult) bool { return sameError(e, t) }) {
			status = core.StatusPassed
		} else {
			res.Errors = append(res.Errors, e)
		}

		k := key{e.Model, e.Explore}
		prev, seen := disputed[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || prev == core.StatusPassed {
			disputed[k] = status
		}
	}
	for _, k := range order {
		res.Tested = append(res.Tested, core.TestResult{Model: k.model, Explore: k.explore, Status: disputed[k]})
	}

	slices.SortStableFunc(res.Tested, func(a, b core.TestResult) int {
		return cmp.Or(cmp.Compare(a.Model, b.Model), cmp.Compare(a.Explore, b.Explore))
	})
	res.Status = core.StatusOf(res.Tested)
	return res
}

func sameError(a, b core.ErrorResult) bool {
	return a.Model == b.Model &&
		a.Explore == b.Explore &&
		a.Message == b.Message &&
		maps.Equal(a.Metadata, b.Metadata)
}
