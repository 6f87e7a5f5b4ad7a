package core

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// Severity
// =============================================================================

// Severity is the level of a LookML validator issue. Higher is worse.
type Severity int

// Severity levels reported by the LookML validator.
const (
	// SeveritySuccess is reported for passing checks.
	SeveritySuccess Severity = 0
	// SeverityInfo indicates informational feedback.
	SeverityInfo Severity = 10
	// SeverityWarning indicates a potential issue that should be reviewed.
	SeverityWarning Severity = 20
	// SeverityError indicates a problem that breaks the project.
	SeverityError Severity = 30
	// SeverityFatal indicates the project could not be validated at all.
	SeverityFatal Severity = 40
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeveritySuccess:
		return "success"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the severity by name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ParseSeverity converts a string to a Severity value.
// Returns the severity and true if valid, or SeverityWarning and false if invalid.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return SeveritySuccess, true
	case "info":
		return SeverityInfo, true
	case "warning":
		return SeverityWarning, true
	case "error":
		return SeverityError, true
	case "fatal":
		return SeverityFatal, true
	default:
		return SeverityWarning, false
	}
}

// SeverityNames lists the accepted severity names in ascending order.
func SeverityNames() []string {
	return []string{"success", "info", "warning", "error", "fatal"}
}
