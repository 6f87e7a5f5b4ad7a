// Package core defines the shared language of lookcheck.
//
// This package contains:
//   - Validation result types (Result, TestResult, ErrorResult)
//   - Status, skip reason, and tri-state outcome enums
//   - LookML validator severities
//   - The user-facing Error type and its exit code mapping
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
