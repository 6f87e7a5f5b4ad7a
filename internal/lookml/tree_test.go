package lookml

import (
	"testing"

	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExplore(model, name string, fields ...string) *Explore {
	e := &Explore{Name: name, Model: model}
	for _, f := range fields {
		e.Fields = append(e.Fields, &Field{Name: f, Model: model, Explore: name})
	}
	return e
}

func TestNewField_Ignore(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		tags []string
		want bool
	}{
		{"plain", "${TABLE}.id", nil, false},
		{"marker in sql", "${TABLE}.id -- lookcheck: ignore", nil, true},
		{"marker without spaces", "-- LOOKCHECK:IGNORE\n${TABLE}.id", nil, true},
		{"marker with extra spaces", "-- lookcheck  :   ignore", nil, true},
		{"marker in tags", "${TABLE}.id", []string{"pii", "lookcheck: ignore"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewField("m", "e", looker.LookMLField{Name: "v.id", SQL: tt.sql, Tags: tt.tags}, "")
			assert.Equal(t, tt.want, f.Ignore)
		})
	}
}

func TestNewField_URL(t *testing.T) {
	f := NewField("m", "e", looker.LookMLField{Name: "v.id", LookMLLink: "/projects/p/files/v.view.lkml?line=3"}, "https://x.looker.com/")
	assert.Equal(t, "https://x.looker.com/projects/p/files/v.view.lkml?line=3", f.URL)

	f = NewField("m", "e", looker.LookMLField{Name: "v.id"}, "https://x.looker.com")
	assert.Empty(t, f.URL)
}

func TestExplore_ErroredIsUnknownUntilQueried(t *testing.T) {
	e := newTestExplore("m", "e", "a", "b")
	assert.False(t, e.Queried())
	assert.Equal(t, core.OutcomeUnknown, e.Errored())

	// errors alone do not make an unqueried explore fail
	e.Fields[0].Errors = append(e.Fields[0].Errors, &Error{Message: "boom"})
	assert.Equal(t, core.OutcomeUnknown, e.Errored())

	e.Fields[1].MarkQueried()
	assert.True(t, e.Queried())
	assert.Equal(t, core.OutcomePassed, e.Errored())

	e.Fields[0].MarkQueried()
	assert.Equal(t, core.OutcomeErrored, e.Errored())
	assert.Equal(t, 1, e.ErrorCount())
}

func TestExplore_ExploreLevelErrors(t *testing.T) {
	e := newTestExplore("m", "e", "a")
	e.MarkQueried()
	assert.Equal(t, core.OutcomePassed, e.Errored())

	e.Errors = append(e.Errors, &Error{Message: "one"}, &Error{Message: "two"})
	e.Fields[0].Errors = append(e.Fields[0].Errors, &Error{Message: "field"})
	assert.Equal(t, core.OutcomeErrored, e.Errored())
	assert.Equal(t, 2, e.ErrorCount())
}

func TestExplore_QueriedWithoutFields(t *testing.T) {
	e := &Explore{Name: "e", Model: "m"}
	assert.False(t, e.Queried())
	e.MarkQueried()
	assert.True(t, e.Queried())
	assert.Equal(t, core.OutcomePassed, e.Errored())
}

func TestProject_Aggregates(t *testing.T) {
	ok := newTestExplore("m", "ok", "a")
	bad := newTestExplore("m", "bad", "b")
	other := newTestExplore("n", "other", "c")
	p := &Project{Name: "p", Models: []*Model{
		{Name: "m", Explores: []*Explore{ok, bad}},
		{Name: "n", Explores: []*Explore{other}},
	}}

	assert.Equal(t, core.OutcomeUnknown, p.Errored())

	ok.MarkQueried()
	assert.Equal(t, core.OutcomePassed, p.Errored())
	assert.Equal(t, core.OutcomeUnknown, p.Model("n").Errored())

	bad.Fields[0].Errors = append(bad.Fields[0].Errors, &Error{Message: "x"})
	bad.Fields[0].MarkQueried()
	assert.Equal(t, core.OutcomeErrored, p.Errored())
	assert.Equal(t, 1, p.ErrorCount())
	assert.Equal(t, []*Field{bad.Fields[0]}, p.ErroredFields())

	assert.Same(t, bad, p.Explore("m", "bad"))
	assert.Nil(t, p.Explore("m", "missing"))
	assert.Nil(t, p.Explore("missing", "bad"))
	assert.Len(t, p.Fields(), 3)
}

func TestProject_CountExplores(t *testing.T) {
	skipped := newTestExplore("m", "s")
	skipped.Skipped = core.SkipNoDimensions
	p := &Project{Models: []*Model{{Name: "m", Explores: []*Explore{newTestExplore("m", "a"), skipped}}}}
	assert.Equal(t, 1, p.CountExplores())
}

func TestModel_MarkQueried(t *testing.T) {
	m := &Model{Name: "m", Explores: []*Explore{newTestExplore("m", "a", "x"), newTestExplore("m", "b")}}
	m.MarkQueried()
	for _, e := range m.Explores {
		require.True(t, e.Queried())
	}
	assert.True(t, m.Explores[0].Fields[0].Queried())

	m.Errors = append(m.Errors, &Error{Message: "model"})
	assert.Equal(t, core.OutcomeErrored, m.Errored())
	assert.Equal(t, 1, m.ErrorCount())
}

func TestError_Equal(t *testing.T) {
	a := NewContentError("m", "e", "Unknown field", ContentDetail{FieldName: "v.x", ContentType: "look", Title: "T", URL: "u"})
	b := NewContentError("m", "e", "Unknown field", ContentDetail{FieldName: "v.x", ContentType: "look", Title: "T", URL: "u"})
	c := NewContentError("m", "e", "Unknown field", ContentDetail{FieldName: "v.y", ContentType: "look", Title: "T", URL: "u"})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestNewSQLError_Metadata(t *testing.T) {
	explore := NewSQLError("m", "e", "bad", SQLDetail{SQL: "SELECT", ExploreURL: "x"})
	assert.Nil(t, explore.Metadata["dimension"])
	assert.Nil(t, explore.Metadata["line_number"])

	field := NewSQLError("m", "e", "bad", SQLDetail{Field: "v.id", SQL: "SELECT", Line: 4, LookMLURL: "l", ExploreURL: "x"})
	assert.Equal(t, map[string]any{
		"dimension":   "v.id",
		"sql":         "SELECT",
		"lookml_url":  "l",
		"explore_url": "x",
		"line_number": 4,
	}, field.Metadata)
}
