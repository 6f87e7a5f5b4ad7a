package looker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeQueryResult_Statuses(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want QueryResult
	}{
		{"added", map[string]any{"status": "added"}, PendingResult{Status: "added"}},
		{"running", map[string]any{"status": "running"}, PendingResult{Status: "running"}},
		{"expired", map[string]any{"status": "expired"}, InterruptedResult{Status: "expired"}},
		{"killed", map[string]any{"status": "killed"}, InterruptedResult{Status: "killed"}},
		{
			"complete with runtime",
			map[string]any{"status": "complete", "data": map[string]any{"id": "abc", "runtime": 1.5}},
			CompletedResult{Runtime: 1.5},
		},
		{
			"complete json_bi",
			map[string]any{"status": "complete", "data": map[string]any{"rows": []any{}}},
			CompletedResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeQueryResult(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeQueryResult_UnknownStatus(t *testing.T) {
	_, err := DecodeQueryResult(map[string]any{"status": "paused"})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestDecodeQueryResult_SingleError(t *testing.T) {
	got, err := DecodeQueryResult(map[string]any{
		"status": "error",
		"data": map[string]any{
			"id":      "abc",
			"error":   "Database timeout",
			"runtime": "2.0",
			"sql":     "SELECT 1",
		},
	})
	require.NoError(t, err)

	res, ok := got.(ErroredResult)
	require.True(t, ok)
	assert.Equal(t, 2.0, res.Runtime)
	assert.Equal(t, "SELECT 1", res.SQL)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Database timeout", res.Errors[0].Message)
	assert.Equal(t, 0, res.Errors[0].Line())
}

func TestDecodeQueryResult_MultiError(t *testing.T) {
	got, err := DecodeQueryResult(map[string]any{
		"status": "error",
		"data": map[string]any{
			"id":      "abc",
			"runtime": 0.4,
			"sql":     "SELECT x",
			"errors": []any{
				map[string]any{
					"message":         "Unrecognized name: x",
					"message_details": "at [1:8]",
					"sql_error_loc":   map[string]any{"line": float64(1), "column": float64(8)},
				},
			},
		},
	})
	require.NoError(t, err)

	res := got.(ErroredResult)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Unrecognized name: x at [1:8]", res.Errors[0].FullMessage())
	assert.Equal(t, 1, res.Errors[0].Line())
}

func TestDecodeQueryResult_JSONBIError(t *testing.T) {
	got, err := DecodeQueryResult(map[string]any{
		"status": "error",
		"data": map[string]any{
			"metadata": map[string]any{"sql": "SELECT y", "fields": map[string]any{}},
			"rows":     []any{map[string]any{"looker_error": "Unknown column y"}},
		},
	})
	require.NoError(t, err)

	res := got.(ErroredResult)
	assert.Equal(t, "SELECT y", res.SQL)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Unknown column y", res.Errors[0].Message)
}

func TestDecodeQueryResult_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"no data", nil},
		{"empty errors", map[string]any{"errors": []any{}}},
		{"row without looker_error", map[string]any{"rows": []any{map[string]any{"x": 1}}}},
		{"unknown shape", map[string]any{"foo": "bar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]any{"status": "error"}
			if tt.data != nil {
				raw["data"] = tt.data
			}
			_, err := DecodeQueryResult(raw)
			assert.ErrorIs(t, err, ErrMalformedResult)
		})
	}
}

func TestErroredResult_ValidErrors(t *testing.T) {
	res := ErroredResult{Errors: []QueryError{
		{Message: "Note: This query contains derived tables with Development Mode filters. " +
			"Query results in Production Mode might be different."},
		{Message: "Syntax error"},
	}}

	valid := res.ValidErrors()
	require.Len(t, valid, 1)
	assert.Equal(t, "Syntax error", valid[0].Message)
}

func TestQueryError_FullMessage(t *testing.T) {
	assert.Equal(t, "a", QueryError{Message: "a"}.FullMessage())
	assert.Equal(t, "b", QueryError{MessageDetails: "b"}.FullMessage())
	assert.Equal(t, "a b", QueryError{Message: "a", MessageDetails: "b"}.FullMessage())
}
