package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), ExitGeneric},
		{"config", ConfigError("bad", "Bad.", ""), ExitGeneric},
		{"api", &Error{Kind: KindAPI, Title: "API failed."}, ExitAPI},
		{"validation", &Error{Kind: KindValidation, Title: "Failed."}, ExitValidation},
		{"wrapped validation", fmt.Errorf("run: %w", &Error{Kind: KindValidation}), ExitValidation},
		{"interrupted", &Error{Kind: KindInterrupted}, ExitGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{
		Kind:   KindAPI,
		Title:  "Couldn't create query.",
		Detail: "Check the model name.",
		Err:    errors.New("404 Not Found"),
	}
	assert.Equal(t, "Couldn't create query. Check the model name.: 404 Not Found", err.Error())
	assert.True(t, IsKind(fmt.Errorf("wrap: %w", err), KindAPI))
	assert.False(t, IsKind(err, KindConfig))
}

func TestParseSeverity(t *testing.T) {
	for _, name := range SeverityNames() {
		s, ok := ParseSeverity(name)
		assert.True(t, ok, name)
		assert.Equal(t, name, s.String())
	}

	s, ok := ParseSeverity("critical")
	assert.False(t, ok)
	assert.Equal(t, SeverityWarning, s)

	assert.Less(t, int(SeverityInfo), int(SeverityWarning))
	assert.Less(t, int(SeverityError), int(SeverityFatal))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusPassed, StatusOf(nil))
	assert.Equal(t, StatusPassed, StatusOf([]TestResult{
		{Status: StatusPassed}, {Status: StatusSkipped},
	}))
	assert.Equal(t, StatusFailed, StatusOf([]TestResult{
		{Status: StatusPassed}, {Status: StatusFailed},
	}))
}
