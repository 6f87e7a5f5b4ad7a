// Package lookml holds the in-memory tree of a LookML project (models,
// explores and fields) that validators annotate with errors.
//
// Aggregate state is always derived from the children by walking the tree:
// an explore is queried if any of its fields was queried, and it has errored
// if it carries an error or any queried field has. Before a node is queried
// its outcome is core.OutcomeUnknown, never core.OutcomePassed.
package lookml

import (
	"regexp"
	"slices"
	"strings"

	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/leapstack-labs/lookcheck/pkg/looker"
)

// ignoreMarker excludes a field from SQL validation when it appears in the
// field's SQL or tags.
var ignoreMarker = regexp.MustCompile(`(?i)lookcheck\s*:\s*ignore`)

// Field is a dimension of an explore.
type Field struct {
	Name    string
	Model   string
	Explore string
	Type    string
	SQL     string
	Tags    []string
	Hidden  bool
	// URL links to the field definition in the Looker IDE.
	URL string
	// Ignore is set when the field carries the ignore marker.
	Ignore bool
	Errors []*Error

	queried bool
}

// NewField builds a field from explore metadata. baseURL is prepended to the
// LookML link.
func NewField(model, explore string, f looker.LookMLField, baseURL string) *Field {
	field := &Field{
		Name:    f.Name,
		Model:   model,
		Explore: explore,
		Type:    f.Type,
		SQL:     f.SQL,
		Tags:    f.Tags,
		Hidden:  f.Hidden,
	}
	if f.LookMLLink != "" {
		field.URL = strings.TrimRight(baseURL, "/") + f.LookMLLink
	}
	field.Ignore = ignoreMarker.MatchString(f.SQL) ||
		slices.ContainsFunc(f.Tags, ignoreMarker.MatchString)
	return field
}

// Queried reports whether a query including the field has finished.
func (f *Field) Queried() bool { return f.queried }

// MarkQueried records that a query including the field has finished.
func (f *Field) MarkQueried() { f.queried = true }

// Errored returns the field outcome.
func (f *Field) Errored() core.Outcome {
	switch {
	case !f.queried:
		return core.OutcomeUnknown
	case len(f.Errors) > 0:
		return core.OutcomeErrored
	default:
		return core.OutcomePassed
	}
}

// Explore is a queryable explore and the fields selected for validation.
type Explore struct {
	Name   string
	Model  string
	Fields []*Field
	// Errors are explore-level errors, e.g. from batch queries or content.
	Errors    []*Error
	Successes []core.SuccessEntry
	// Skipped is non-empty when the explore is not validated.
	Skipped core.SkipReason

	queried bool
}

// Queried reports whether any field, or the explore itself, was queried.
func (e *Explore) Queried() bool {
	if e.queried {
		return true
	}
	for _, f := range e.Fields {
		if f.Queried() {
			return true
		}
	}
	return false
}

// MarkQueried marks the explore and all of its fields as queried.
func (e *Explore) MarkQueried() {
	e.queried = true
	for _, f := range e.Fields {
		f.MarkQueried()
	}
}

// Errored returns the explore outcome.
func (e *Explore) Errored() core.Outcome {
	if !e.Queried() {
		return core.OutcomeUnknown
	}
	if len(e.Errors) > 0 {
		return core.OutcomeErrored
	}
	for _, f := range e.Fields {
		if f.Errored() == core.OutcomeErrored {
			return core.OutcomeErrored
		}
	}
	return core.OutcomePassed
}

// ErroredFields returns the fields that have errors.
func (e *Explore) ErroredFields() []*Field {
	var out []*Field
	for _, f := range e.Fields {
		if f.Errored() == core.OutcomeErrored {
			out = append(out, f)
		}
	}
	return out
}

// ErrorCount returns the explore-level errors if there are any, otherwise
// the errors of its fields.
func (e *Explore) ErrorCount() int {
	if e.Errored() != core.OutcomeErrored {
		return 0
	}
	if len(e.Errors) > 0 {
		return len(e.Errors)
	}
	n := 0
	for _, f := range e.ErroredFields() {
		n += len(f.Errors)
	}
	return n
}

// Model is a LookML model.
type Model struct {
	Name     string
	Project  string
	Explores []*Explore
	// Errors reference explores of the model that are not in the tree.
	Errors []*Error
}

// Queried reports whether any explore of the model was queried.
func (m *Model) Queried() bool {
	return slices.ContainsFunc(m.Explores, (*Explore).Queried)
}

// MarkQueried marks every explore of the model as queried.
func (m *Model) MarkQueried() {
	for _, e := range m.Explores {
		e.MarkQueried()
	}
}

// Errored returns the model outcome.
func (m *Model) Errored() core.Outcome {
	if !m.Queried() {
		return core.OutcomeUnknown
	}
	if len(m.Errors) > 0 {
		return core.OutcomeErrored
	}
	for _, e := range m.Explores {
		if e.Errored() == core.OutcomeErrored {
			return core.OutcomeErrored
		}
	}
	return core.OutcomePassed
}

// Explore returns the named explore or nil.
func (m *Model) Explore(name string) *Explore {
	for _, e := range m.Explores {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// ErrorCount returns the model-level errors plus those of errored explores.
func (m *Model) ErrorCount() int {
	n := len(m.Errors)
	for _, e := range m.Explores {
		n += e.ErrorCount()
	}
	return n
}

// Project is the root of the tree.
type Project struct {
	Name   string
	Models []*Model
}

// Queried reports whether any model was queried.
func (p *Project) Queried() bool {
	return slices.ContainsFunc(p.Models, (*Model).Queried)
}

// MarkQueried marks the whole project as queried.
func (p *Project) MarkQueried() {
	for _, m := range p.Models {
		m.MarkQueried()
	}
}

// Errored returns the project outcome.
func (p *Project) Errored() core.Outcome {
	if !p.Queried() {
		return core.OutcomeUnknown
	}
	for _, m := range p.Models {
		if m.Errored() == core.OutcomeErrored {
			return core.OutcomeErrored
		}
	}
	return core.OutcomePassed
}

// ErrorCount returns the number of errors in the project.
func (p *Project) ErrorCount() int {
	n := 0
	for _, m := range p.Models {
		if m.Errored() == core.OutcomeErrored {
			n += m.ErrorCount()
		}
	}
	return n
}

// Model returns the named model or nil.
func (p *Project) Model(name string) *Model {
	for _, m := range p.Models {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Explore returns the named explore or nil.
func (p *Project) Explore(model, name string) *Explore {
	if m := p.Model(model); m != nil {
		return m.Explore(name)
	}
	return nil
}

// Explores returns every explore in model order.
func (p *Project) Explores() []*Explore {
	var out []*Explore
	for _, m := range p.Models {
		out = append(out, m.Explores...)
	}
	return out
}

// Fields returns every field in explore order.
func (p *Project) Fields() []*Field {
	var out []*Field
	for _, e := range p.Explores() {
		out = append(out, e.Fields...)
	}
	return out
}

// ErroredFields returns every field with errors.
func (p *Project) ErroredFields() []*Field {
	var out []*Field
	for _, e := range p.Explores() {
		out = append(out, e.ErroredFields()...)
	}
	return out
}

// CountExplores returns the number of explores that are not skipped.
func (p *Project) CountExplores() int {
	n := 0
	for _, e := range p.Explores() {
		if e.Skipped == "" {
			n++
		}
	}
	return n
}

// CompiledSQL is the SQL generated for an explore, or one of its fields
// when Field is set.
type CompiledSQL struct {
	Model   string
	Explore string
	Field   string
	QueryID string
	SQL     string
}
