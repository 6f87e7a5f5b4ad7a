package looker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

var (
	// ErrUnexpectedStatus is returned for a query task status outside the known set.
	ErrUnexpectedStatus = errors.New("unexpected query task status")
	// ErrMalformedResult is returned when a query task payload cannot be interpreted.
	ErrMalformedResult = errors.New("malformed query task result")
)

// devModeWarnings are informational notes Looker reports as query errors.
var devModeWarnings = map[string]struct{}{
	"Note: This query contains derived tables with conditional SQL for Development Mode. " +
		"Query results in Production Mode might be different.": {},
	"Note: This query contains derived tables with Development Mode filters. " +
		"Query results in Production Mode might be different.": {},
}

// QueryResult is the decoded state of a query task. It is one of
// PendingResult, CompletedResult, ErroredResult or InterruptedResult.
type QueryResult interface {
	queryResult()
}

// PendingResult is a task that is queued or still running.
type PendingResult struct {
	Status string
}

// CompletedResult is a task that finished without error.
type CompletedResult struct {
	Runtime float64
}

// ErroredResult is a task whose SQL failed.
type ErroredResult struct {
	Runtime float64
	SQL     string
	Errors  []QueryError
}

// InterruptedResult is a task that expired or was killed.
type InterruptedResult struct {
	Status string
}

func (PendingResult) queryResult()     {}
func (CompletedResult) queryResult()   {}
func (ErroredResult) queryResult()     {}
func (InterruptedResult) queryResult() {}

// Expired reports whether the task expired rather than being killed.
func (r InterruptedResult) Expired() bool {
	return r.Status == "expired"
}

// QueryError is one database error reported for a query.
type QueryError struct {
	Message        string            `mapstructure:"message"`
	MessageDetails string            `mapstructure:"message_details"`
	Location       *SQLErrorLocation `mapstructure:"sql_error_loc"`
}

// SQLErrorLocation points at the offending position in the generated SQL.
type SQLErrorLocation struct {
	Line      int `mapstructure:"line"`
	Column    int `mapstructure:"column"`
	Character int `mapstructure:"character"`
}

// FullMessage joins the message and its details.
func (e QueryError) FullMessage() string {
	if e.MessageDetails == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.MessageDetails
	}
	return e.Message + " " + e.MessageDetails
}

// Line returns the error line number, or 0 when unknown.
func (e QueryError) Line() int {
	if e.Location == nil {
		return 0
	}
	return e.Location.Line
}

// ValidErrors drops known development mode notes.
func (r ErroredResult) ValidErrors() []QueryError {
	valid := make([]QueryError, 0, len(r.Errors))
	for _, e := range r.Errors {
		if _, ok := devModeWarnings[e.Message]; ok {
			continue
		}
		valid = append(valid, e)
	}
	return valid
}

// Payload shapes for the "data" member of a task result.
type (
	runtimeData struct {
		ID      string  `mapstructure:"id"`
		Runtime float64 `mapstructure:"runtime"`
	}

	singleErrorData struct {
		ID      string  `mapstructure:"id"`
		Error   string  `mapstructure:"error"`
		Runtime float64 `mapstructure:"runtime"`
		SQL     string  `mapstructure:"sql"`
	}

	multiErrorData struct {
		ID      string       `mapstructure:"id"`
		Runtime float64      `mapstructure:"runtime"`
		SQL     string       `mapstructure:"sql"`
		Errors  []QueryError `mapstructure:"errors"`
	}

	jsonBIData struct {
		Metadata struct {
			Fields map[string]any `mapstructure:"fields"`
			SQL    string         `mapstructure:"sql"`
		} `mapstructure:"metadata"`
		Rows []map[string]any `mapstructure:"rows"`
	}
)

// DecodeQueryResult interprets one entry of a multi-results response.
func DecodeQueryResult(raw map[string]any) (QueryResult, error) {
	status, _ := raw["status"].(string)
	data, _ := raw["data"].(map[string]any)

	switch status {
	case "added", "running":
		return PendingResult{Status: status}, nil
	case "expired", "killed":
		return InterruptedResult{Status: status}, nil
	case "complete":
		return decodeCompleted(data)
	case "error":
		return decodeErrored(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedStatus, status)
	}
}

func decodeCompleted(data map[string]any) (QueryResult, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: complete result has no data", ErrMalformedResult)
	}
	if _, ok := data["runtime"]; ok {
		var d runtimeData
		if err := decode(data, &d); err != nil {
			return nil, err
		}
		return CompletedResult{Runtime: d.Runtime}, nil
	}
	// json_bi results carry no runtime
	return CompletedResult{}, nil
}

func decodeErrored(data map[string]any) (QueryResult, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: error result has no data", ErrMalformedResult)
	}

	switch {
	case data["error"] != nil:
		var d singleErrorData
		if err := decode(data, &d); err != nil {
			return nil, err
		}
		return ErroredResult{
			Runtime: d.Runtime,
			SQL:     d.SQL,
			Errors:  []QueryError{{Message: d.Error}},
		}, nil

	case data["errors"] != nil:
		var d multiErrorData
		if err := decode(data, &d); err != nil {
			return nil, err
		}
		if len(d.Errors) == 0 {
			return nil, fmt.Errorf("%w: no errors contained in error result", ErrMalformedResult)
		}
		return ErroredResult{Runtime: d.Runtime, SQL: d.SQL, Errors: d.Errors}, nil

	case data["rows"] != nil:
		var d jsonBIData
		if err := decode(data, &d); err != nil {
			return nil, err
		}
		if len(d.Rows) == 0 {
			return nil, fmt.Errorf("%w: no errors contained in error result", ErrMalformedResult)
		}
		errs := make([]QueryError, 0, len(d.Rows))
		for _, row := range d.Rows {
			msg, ok := row["looker_error"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: json_bi error row has no looker_error", ErrMalformedResult)
			}
			errs = append(errs, QueryError{Message: msg})
		}
		return ErroredResult{SQL: d.Metadata.SQL, Errors: errs}, nil
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	return nil, fmt.Errorf("%w: unrecognized error payload with keys [%s]", ErrMalformedResult, strings.Join(keys, ", "))
}

func decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	return nil
}
