package lookml

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
	"golang.org/x/sync/errgroup"
)

// buildConcurrency bounds concurrent explore metadata requests.
const buildConcurrency = 10

// Client is the Looker API surface needed to build a project tree.
type Client interface {
	BaseURL() string
	GetLookMLModels(ctx context.Context) ([]looker.LookMLModel, error)
	GetLookMLFields(ctx context.Context, model, explore string) ([]looker.LookMLField, error)
}

// BuildOptions control which parts of the project are loaded.
type BuildOptions struct {
	// Selectors prune explores. Nil selects all.
	Selectors Selectors
	// IncludeFields fetches the fields of every selected explore.
	IncludeFields bool
	// IgnoreHidden drops hidden fields.
	IgnoreHidden bool
	// IncludeAllExplores keeps every explore and every model, even empty
	// ones, ignoring Selectors. Content validation uses it.
	IncludeAllExplores bool
	Logger             *slog.Logger
}

// BuildProject loads the models of a project and, optionally, the fields of
// their selected explores.
func BuildProject(ctx context.Context, client Client, name string, opts BuildOptions) (*Project, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	all, err := client.GetLookMLModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build project %s: %w", name, err)
	}

	var models []*Model
	for _, lm := range all {
		if lm.ProjectName != name {
			continue
		}
		m := &Model{Name: lm.Name, Project: lm.ProjectName}
		for _, e := range lm.Explores {
			m.Explores = append(m.Explores, &Explore{Name: e.Name, Model: lm.Name})
		}
		models = append(models, m)
	}

	if len(models) == 0 {
		return nil, core.ConfigErrorf("project-models-not-found",
			"No configured models found for the specified project.",
			"Go to %s/projects and confirm a) at least one model exists for the project "+
				"and b) it has an active configuration.", client.BaseURL())
	}

	if opts.IncludeAllExplores {
		return &Project{Name: name, Models: models}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(buildConcurrency)

	project := &Project{Name: name}
	for _, m := range models {
		var kept []*Explore
		for _, e := range m.Explores {
			if opts.Selectors.Match(m.Name, e.Name) {
				kept = append(kept, e)
			}
		}
		m.Explores = kept
		if len(kept) == 0 {
			continue
		}
		project.Models = append(project.Models, m)

		if !opts.IncludeFields {
			continue
		}
		for _, e := range kept {
			g.Go(func() error {
				return buildFields(gctx, client, e, opts.IgnoreHidden, logger)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Debug("built project", "project", name, "models", len(project.Models), "explores", len(project.Explores()))
	return project, nil
}

// buildFields attaches the validatable fields of an explore. Explores left
// without fields are skipped.
func buildFields(ctx context.Context, client Client, e *Explore, ignoreHidden bool, logger *slog.Logger) error {
	fields, err := client.GetLookMLFields(ctx, e.Model, e.Name)
	if err != nil {
		return err
	}

	e.Fields = nil
	for _, lf := range fields {
		f := NewField(e.Model, e.Name, lf, client.BaseURL())
		if f.Ignore || (f.Hidden && ignoreHidden) {
			continue
		}
		e.Fields = append(e.Fields, f)
	}

	if len(e.Fields) == 0 {
		logger.Warn("explore has no non-ignored dimensions and will not be validated",
			"model", e.Model, "explore", e.Name)
		e.Skipped = core.SkipNoDimensions
	}
	return nil
}
