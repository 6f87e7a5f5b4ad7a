package lookml

import (
	"maps"

	"github.com/leapstack-labs/lookcheck/pkg/core"
)

// Error is a validation failure attached to the tree. Validation failures are
// data, not Go errors.
type Error struct {
	Model    string
	Explore  string
	Message  string
	Metadata map[string]any
	// Ignore hides the error from results. Incremental runs set it when the
	// same failure exists on the target ref.
	Ignore bool
}

// Result converts the error to its serialized form.
func (e *Error) Result() core.ErrorResult {
	return core.ErrorResult{
		Model:    e.Model,
		Explore:  e.Explore,
		Message:  e.Message,
		Metadata: maps.Clone(e.Metadata),
	}
}

// Equal reports whether two errors describe the same failure.
func (e *Error) Equal(o *Error) bool {
	return e.Model == o.Model &&
		e.Explore == o.Explore &&
		e.Message == o.Message &&
		maps.Equal(e.Metadata, o.Metadata)
}

// optional returns nil for zero values so they serialize as null.
func optional[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

// SQLDetail describes where a SQL error happened.
type SQLDetail struct {
	Field      string
	SQL        string
	LookMLURL  string
	ExploreURL string
	Line       int
}

// NewSQLError returns an error from a failed query.
func NewSQLError(model, explore, message string, d SQLDetail) *Error {
	return &Error{
		Model:   model,
		Explore: explore,
		Message: message,
		Metadata: map[string]any{
			"dimension":   optional(d.Field),
			"sql":         d.SQL,
			"lookml_url":  optional(d.LookMLURL),
			"explore_url": d.ExploreURL,
			"line_number": optional(d.Line),
		},
	}
}

// ContentDetail describes the Look or dashboard that references a broken
// field.
type ContentDetail struct {
	FieldName   string
	ContentType string
	Title       string
	Folder      string
	URL         string
	TileType    string
	TileTitle   string
}

// NewContentError returns a content validation error.
func NewContentError(model, explore, message string, d ContentDetail) *Error {
	return &Error{
		Model:   model,
		Explore: explore,
		Message: message,
		Metadata: map[string]any{
			"field_name":   d.FieldName,
			"content_type": d.ContentType,
			"title":        d.Title,
			"folder":       optional(d.Folder),
			"url":          d.URL,
			"tile_type":    optional(d.TileType),
			"tile_title":   optional(d.TileTitle),
		},
	}
}

// DataTestDetail identifies a data test.
type DataTestDetail struct {
	TestName   string
	LookMLURL  string
	ExploreURL string
}

func (d DataTestDetail) metadata() map[string]any {
	return map[string]any{
		"test_name":   d.TestName,
		"lookml_url":  d.LookMLURL,
		"explore_url": d.ExploreURL,
	}
}

// NewDataTestError returns a failed data test assertion.
func NewDataTestError(model, explore, message string, d DataTestDetail) *Error {
	return &Error{Model: model, Explore: explore, Message: message, Metadata: d.metadata()}
}

// NewDataTestSuccess returns the success entry for a passing data test.
func NewDataTestSuccess(model, explore string, d DataTestDetail) core.SuccessEntry {
	return core.SuccessEntry{Model: model, Explore: explore, Metadata: d.metadata()}
}

// LookMLDetail locates a LookML validator issue.
type LookMLDetail struct {
	FieldName string
	Severity  string
	LookMLURL string
	FilePath  string
	Line      int
}

// NewLookMLError returns a LookML validator issue. Model and explore may be
// empty for project-level issues.
func NewLookMLError(model, explore, message string, d LookMLDetail) *Error {
	return &Error{
		Model:   model,
		Explore: explore,
		Message: message,
		Metadata: map[string]any{
			"field_name":  optional(d.FieldName),
			"severity":    d.Severity,
			"lookml_url":  optional(d.LookMLURL),
			"line_number": optional(d.Line),
			"file_path":   optional(d.FilePath),
		},
	}
}
