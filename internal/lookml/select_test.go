package lookml

import (
	"testing"

	"github.com/leapstack-labs/lookcheck/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSelected(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		explore string
		filters []string
		want    bool
	}{
		{"wildcard", "eye_exam", "users", []string{"*/*"}, true},
		{"model wildcard", "eye_exam", "users", []string{"eye_exam/*"}, true},
		{"other model", "other", "users", []string{"eye_exam/*"}, false},
		{"exact", "eye_exam", "users", []string{"eye_exam/users"}, true},
		{"prefix is not a match", "eye_exam", "users__fail", []string{"eye_exam/users"}, false},
		{"explore wildcard", "eye_exam", "users__fail", []string{"eye_exam/users*"}, true},
		{"exclusion", "eye_exam", "users", []string{"eye_exam/*", "-eye_exam/users"}, false},
		{"exclusion before inclusion", "eye_exam", "users", []string{"-eye_exam/users", "*/*"}, false},
		{"only exclusions", "eye_exam", "orders", []string{"-eye_exam/users"}, true},
		{"any inclusion matches", "eye_exam", "users", []string{"other/*", "eye_exam/users"}, true},
		{"later mismatch keeps inclusion", "eye_exam", "users", []string{"eye_exam/users", "other/*"}, true},
		{"dots are literal", "eyeXexam", "users", []string{"eye.exam/users"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsSelected(tt.model, tt.explore, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsSelected_EmptyFilters(t *testing.T) {
	_, err := IsSelected("m", "e", nil)
	assert.ErrorIs(t, err, ErrNoSelectors)
}

func TestParseSelector_InvalidFormat(t *testing.T) {
	for _, s := range []string{"eye_exam", "eye_exam/", "/users", "a/b/c", "-eye_exam"} {
		t.Run(s, func(t *testing.T) {
			_, err := ParseSelector(s)
			require.Error(t, err)
			assert.True(t, core.IsKind(err, core.KindConfig))
		})
	}
}

func TestParseSelectors_Default(t *testing.T) {
	sel, err := ParseSelectors(nil)
	require.NoError(t, err)
	require.Len(t, sel, 1)
	assert.True(t, sel.Match("any", "thing"))

	var none Selectors
	assert.True(t, none.Match("any", "thing"))
}
