package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors that end a run.
type ErrorKind int

// Error kinds.
const (
	// KindConfig is a usage or configuration problem. Never retried.
	KindConfig ErrorKind = iota
	// KindAPI is a non-2xx response from the Looker API.
	KindAPI
	// KindValidation means a validator ran and reported failures.
	KindValidation
	// KindProtocol is an unexpected payload from the Looker API.
	KindProtocol
	// KindInterrupted means the run was cancelled.
	KindInterrupted
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAPI:
		return "api"
	case KindValidation:
		return "validation"
	case KindProtocol:
		return "protocol"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Exit codes returned by the CLI.
const (
	ExitGeneric    = 100
	ExitAPI        = 101
	ExitValidation = 102
)

// Error is a user-facing failure with a short machine-friendly name,
// a title, and a detail line.
type Error struct {
	Kind   ErrorKind
	Name   string
	Title  string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Title
	if e.Detail != "" {
		msg += " " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigError returns a KindConfig error.
func ConfigError(name, title, detail string) *Error {
	return &Error{Kind: KindConfig, Name: name, Title: title, Detail: detail}
}

// ConfigErrorf returns a KindConfig error with a formatted detail.
func ConfigErrorf(name, title, format string, args ...any) *Error {
	return ConfigError(name, title, fmt.Sprintf(format, args...))
}

// IsKind reports whether err wraps a core Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindAPI:
			return ExitAPI
		case KindValidation:
			return ExitValidation
		}
	}
	return ExitGeneric
}
