package validator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
)

// ContentClient is the Looker API surface needed to validate content.
type ContentClient interface {
	BaseURL() string
	AllFolders(ctx context.Context) ([]looker.Folder, error)
	ContentValidation(ctx context.Context) (looker.ContentValidation, error)
}

// ContentConfig configures a ContentValidator.
type ContentConfig struct {
	Client ContentClient
	// ExcludePersonal skips content in personal folders and their descendants.
	ExcludePersonal bool
	// Folders selects folder ids to validate; a leading "-" excludes one.
	// Subfolders follow their parent.
	Folders []string
	Logger  *slog.Logger
}

// ContentValidator finds Looks and dashboards that reference broken fields.
type ContentValidator struct {
	client          ContentClient
	excludePersonal bool
	include         []string
	exclude         []string
	logger          *slog.Logger
}

// NewContentValidator creates a content validator.
func NewContentValidator(cfg ContentConfig) *ContentValidator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	v := &ContentValidator{
		client:          cfg.Client,
		excludePersonal: cfg.ExcludePersonal,
		logger:          logger,
	}
	for _, id := range cfg.Folders {
		if excluded, ok := strings.CutPrefix(id, "-"); ok {
			v.exclude = append(v.exclude, excluded)
		} else {
			v.include = append(v.include, id)
		}
	}
	return v
}

// folderFilter decides whether content in a folder is validated.
type folderFilter struct {
	included map[string]bool
	excluded map[string]bool
}

func (f folderFilter) selected(folderID string) bool {
	if f.excluded[folderID] {
		return false
	}
	return len(f.included) == 0 || f.included[folderID]
}

func (v *ContentValidator) folderFilter(ctx context.Context) (folderFilter, error) {
	f := folderFilter{included: map[string]bool{}, excluded: map[string]bool{}}
	if !v.excludePersonal && len(v.include) == 0 && len(v.exclude) == 0 {
		return f, nil
	}

	folders, err := v.client.AllFolders(ctx)
	if err != nil {
		return f, err
	}

	if v.excludePersonal {
		for _, folder := range folders {
			if folder.IsPersonal || folder.IsPersonalDescendant {
				f.excluded[folder.ID] = true
			}
		}
	}
	for _, id := range v.exclude {
		if err := addSubfolders(f.excluded, id, folders); err != nil {
			return f, err
		}
	}
	for _, id := range v.include {
		if err := addSubfolders(f.included, id, folders); err != nil {
			return f, err
		}
	}
	return f, nil
}

// addSubfolders adds id and every folder below it to set.
func addSubfolders(set map[string]bool, id string, folders []looker.Folder) error {
	if !slices.ContainsFunc(folders, func(f looker.Folder) bool { return f.ID == id }) {
		return core.ConfigErrorf("folder-id-input-does-not-exist", "One of the folders input doesn't exist.",
			"Folder %s is not a valid folder number.", id)
	}
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if set[current] {
			continue
		}
		set[current] = true
		for _, f := range folders {
			if f.ParentID == current {
				stack = append(stack, f.ID)
			}
		}
	}
	return nil
}

// Validate runs the content validator and attaches errors to the tree. Errors
// for explores outside the tree go on their model; errors for unknown models
// are dropped. It returns the errors attached.
func (v *ContentValidator) Validate(ctx context.Context, p *lookml.Project) ([]*lookml.Error, error) {
	filter, err := v.folderFilter(ctx)
	if err != nil {
		return nil, err
	}

	validation, err := v.client.ContentValidation(ctx)
	if err != nil {
		return nil, err
	}
	p.MarkQueried()

	var attached []*lookml.Error
	for _, content := range validation.ContentWithErrors {
		contentType, item := contentItem(content)
		if item == nil {
			v.logger.Warn("skipping content that is neither a dashboard nor a look")
			v.logger.Debug("unidentified content", "content", fmt.Sprintf("%+v", content))
			continue
		}

		var folderID, folderName string
		if item.Folder != nil {
			folderID, folderName = item.Folder.ID, item.Folder.Name
		}
		if !filter.selected(folderID) {
			continue
		}

		for _, ce := range content.Errors {
			m := p.Model(ce.ModelName)
			if m == nil {
				continue
			}
			detail := lookml.ContentDetail{
				FieldName:   ce.FieldName,
				ContentType: contentType,
				Title:       item.Title,
				Folder:      folderName,
				URL:         fmt.Sprintf("%s/%ss/%s", strings.TrimRight(v.client.BaseURL(), "/"), contentType, item.ID),
			}
			if contentType == "dashboard" {
				detail.TileType, detail.TileTitle = tile(content)
			}
			lerr := lookml.NewContentError(ce.ModelName, ce.ExploreName, ce.Message, detail)

			if e := m.Explore(ce.ExploreName); e != nil {
				if !containsError(e.Errors, lerr) {
					e.Errors = append(e.Errors, lerr)
					attached = append(attached, lerr)
				}
			} else if !containsError(m.Errors, lerr) {
				m.Errors = append(m.Errors, lerr)
				attached = append(attached, lerr)
			}
		}
	}
	return attached, nil
}

func contentItem(c looker.ContentWithErrors) (string, *looker.ContentItem) {
	switch {
	case c.Look != nil:
		return "look", c.Look
	case c.Dashboard != nil:
		return "dashboard", c.Dashboard
	}
	return "", nil
}

func tile(c looker.ContentWithErrors) (string, string) {
	switch {
	case c.DashboardElement != nil:
		return "dashboard_element", c.DashboardElement.Title
	case c.DashboardFilter != nil:
		return "dashboard_filter", c.DashboardFilter.Title
	}
	return "", ""
}

func containsError(errs []*lookml.Error, target *lookml.Error) bool {
	return slices.ContainsFunc(errs, target.Equal)
}
