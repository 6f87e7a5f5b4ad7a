package core

// Status is the pass/fail state of a tested unit or of a whole validator run.
type Status string

// Status values used in results.
const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// SkipReason explains why an explore was not tested.
type SkipReason string

// Skip reasons.
const (
	SkipNoDimensions SkipReason = "no_dimensions"
	SkipUnmodified   SkipReason = "unmodified"
)

// Outcome is a tri-state error flag. Unqueried nodes report OutcomeUnknown,
// never OutcomePassed.
type Outcome int

// Outcome values.
const (
	OutcomeUnknown Outcome = iota
	OutcomePassed
	OutcomeErrored
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomePassed:
		return "passed"
	case OutcomeErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Known reports whether the outcome has been determined.
func (o Outcome) Known() bool {
	return o != OutcomeUnknown
}

// Validator names as they appear in results.
const (
	ValidatorSQL     = "sql"
	ValidatorContent = "content"
	ValidatorAssert  = "assert"
	ValidatorLookML  = "lookml"
)

// Result is the serialized outcome of one validator run. It is the stable
// contract between validation and presentation.
type Result struct {
	Validator string         `json:"validator"`
	Status    Status         `json:"status"`
	Tested    []TestResult   `json:"tested"`
	Errors    []ErrorResult  `json:"errors"`
	Successes []SuccessEntry `json:"successes,omitempty"`
}

// Passed reports whether the run passed.
func (r *Result) Passed() bool {
	return r.Status == StatusPassed
}

// TestResult is the status of a single explore.
type TestResult struct {
	Model      string     `json:"model"`
	Explore    string     `json:"explore"`
	Status     Status     `json:"status"`
	SkipReason SkipReason `json:"skip_reason,omitempty"`
}

// ErrorResult is a single validation error with validator-specific metadata.
type ErrorResult struct {
	Model    string         `json:"model"`
	Explore  string         `json:"explore"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata"`
}

// SuccessEntry records a passing data test.
type SuccessEntry struct {
	Model    string         `json:"model"`
	Explore  string         `json:"explore"`
	Metadata map[string]any `json:"metadata"`
}

// StatusOf returns StatusPassed when no tested entry failed.
func StatusOf(tested []TestResult) Status {
	for _, t := range tested {
		if t.Status == StatusFailed {
			return StatusFailed
		}
	}
	return StatusPassed
}
