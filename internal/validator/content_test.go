package validator

import (
	"context"
	"testing"

	"github.com/leapstack-labs/lookcheck/internal/lookml"
	"github.com/leapstack-labs/lookcheck/internal/testutil"
	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker/lookertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildContentProject(t *testing.T, srv *lookertest.Server) *lookml.Project {
	t.Helper()
	p, err := lookml.BuildProject(context.Background(), srv.Client(t), "eye_exam", lookml.BuildOptions{IncludeAllExplores: true})
	require.NoError(t, err)
	return p
}

func titles(errs []*lookml.Error) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Metadata["title"].(string))
	}
	return out
}

func TestContentValidator_Validate(t *testing.T) {
	srv := lookertest.New(t, lookertest.MustLoadFixture("eye_exam"))
	p := buildContentProject(t, srv)
	v := NewContentValidator(ContentConfig{Client: srv.Client(t), Logger: testutil.NewTestLogger(t)})

	errs, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	// the look on old_model is dropped
	assert.Equal(t, []string{"Users look", "Users dashboard", "Drafts dashboard"}, titles(errs))

	look := errs[0]
	assert.Equal(t, "users", look.Explore)
	assert.Equal(t, "look", look.Metadata["content_type"])
	assert.Equal(t, srv.URL+"/looks/10", look.Metadata["url"])
	assert.Equal(t, "Shared", look.Metadata["folder"])
	assert.Nil(t, look.Metadata["tile_type"])

	dash := errs[1]
	assert.Equal(t, "users__fail", dash.Explore)
	assert.Equal(t, srv.URL+"/dashboards/20", dash.Metadata["url"])
	assert.Equal(t, "dashboard_element", dash.Metadata["tile_type"])
	assert.Equal(t, "Sign ups", dash.Metadata["tile_title"])
	assert.Equal(t, "users__fail.created", dash.Metadata["field_name"])

	assert.Equal(t, "dashboard_filter", errs[2].Metadata["tile_type"])
	assert.Equal(t, "Country", errs[2].Metadata["tile_title"])

	assert.Len(t, p.Explore("eye_exam", "users").Errors, 2)
	assert.Equal(t, core.OutcomeErrored, p.Explore("eye_exam", "users").Errored())
	assert.Equal(t, core.OutcomePassed, p.Explore("eye_exam", "empty_explore").Errored())
}

func TestContentValidator_NoDuplicates(t *testing.T) {
	srv := lookertest.New(t, lookertest.MustLoadFixture("eye_exam"))
	p := buildContentProject(t, srv)
	v := NewContentValidator(ContentConfig{Client: srv.Client(t)})

	_, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	again, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Len(t, p.Explore("eye_exam", "users").Errors, 2)
}

func TestContentValidator_Folders(t *testing.T) {
	tests := []struct {
		name            string
		folders         []string
		excludePersonal bool
		want            []string
	}{
		{"exclude personal", nil, true, []string{"Users look", "Users dashboard"}},
		{"include subfolders", []string{"1"}, false, []string{"Users look", "Users dashboard"}},
		{"include leaf", []string{"2"}, false, []string{"Users dashboard"}},
		{"exclude subtree", []string{"-1"}, false, []string{"Drafts dashboard"}},
		{"include personal then exclude it", []string{"3"}, true, nil},
		{"include and exclude", []string{"1", "-2"}, false, []string{"Users look"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := lookertest.New(t, lookertest.MustLoadFixture("eye_exam"))
			p := buildContentProject(t, srv)
			v := NewContentValidator(ContentConfig{
				Client:          srv.Client(t),
				Folders:         tt.folders,
				ExcludePersonal: tt.excludePersonal,
			})

			errs, err := v.Validate(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(errs))
		})
	}
}

func TestContentValidator_UnknownFolder(t *testing.T) {
	srv := lookertest.New(t, lookertest.MustLoadFixture("eye_exam"))
	p := buildContentProject(t, srv)
	v := NewContentValidator(ContentConfig{Client: srv.Client(t), Folders: []string{"-99"}})

	_, err := v.Validate(context.Background(), p)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfig))
	assert.Contains(t, err.Error(), "Folder 99 is not a valid folder number.")
}

func TestContentValidator_ModelLevelErrors(t *testing.T) {
	srv := lookertest.New(t, lookertest.MustLoadFixture("eye_exam"))
	// a tree that only knows the users explore
	users := &lookml.Explore{Name: "users", Model: "eye_exam"}
	p := &lookml.Project{Name: "eye_exam", Models: []*lookml.Model{{
		Name: "eye_exam", Project: "eye_exam", Explores: []*lookml.Explore{users},
	}}}
	v := NewContentValidator(ContentConfig{Client: srv.Client(t)})

	errs, err := v.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, errs, 3)
	require.Len(t, p.Models[0].Errors, 1)
	assert.Equal(t, "users__fail", p.Models[0].Errors[0].Explore)

	result := p.Results(core.ValidatorContent, false, nil)
	assert.Equal(t, core.StatusFailed, result.Status)
	assert.Len(t, result.Errors, 3)
	assert.Equal(t, []core.TestResult{
		{Model: "eye_exam", Explore: "users__fail", Status: core.StatusFailed},
		{Model: "eye_exam", Explore: "users", Status: core.StatusFailed},
	}, result.Tested)
}
