package lookml

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/lookcheck/pkg/core"
)

// ErrNoSelectors is returned when matching against an empty selector list.
var ErrNoSelectors = errors.New("selectors cannot be empty")

// DefaultSelectors select every explore.
var DefaultSelectors = []string{"*/*"}

// Selector matches model/explore pairs. A leading "-" makes it an exclusion
// and "*" matches any non-empty run of characters.
type Selector struct {
	Raw     string
	Exclude bool
	pattern *regexp.Regexp
}

// Selectors is an ordered selector list. A nil list selects everything.
type Selectors []Selector

// ParseSelector compiles a single selector.
func ParseSelector(s string) (Selector, error) {
	sel := Selector{Raw: s}
	body := s
	if strings.HasPrefix(body, "-") {
		sel.Exclude = true
		body = body[1:]
	}

	model, explore, ok := strings.Cut(body, "/")
	if !ok || model == "" || explore == "" || strings.Contains(explore, "/") {
		return Selector{}, core.ConfigErrorf("invalid-selector-format",
			"Specified explore selector is invalid.",
			"'%s' is not a valid format. Instead, use the format 'model_name/explore_name'. "+
				"Use 'model_name/*' to select all explores in a model.", body)
	}

	expr := strings.ReplaceAll(regexp.QuoteMeta(body), `\*`, ".+?")
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return Selector{}, fmt.Errorf("failed to compile selector %q: %w", s, err)
	}
	sel.pattern = re
	return sel, nil
}

// ParseSelectors compiles a selector list. An empty list yields the default
// select-all list.
func ParseSelectors(raw []string) (Selectors, error) {
	if len(raw) == 0 {
		raw = DefaultSelectors
	}
	out := make(Selectors, 0, len(raw))
	for _, s := range raw {
		sel, err := ParseSelector(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

// Match reports whether model/explore is selected. Any matching exclusion
// rejects it. Otherwise the first matching inclusion accepts it; when no
// inclusion is listed everything not excluded is accepted.
func (s Selectors) Match(model, explore string) bool {
	if s == nil {
		return true
	}
	target := model + "/" + explore
	var included *bool
	for _, sel := range s {
		if sel.Exclude {
			if sel.pattern.MatchString(target) {
				return false
			}
			continue
		}
		if included != nil && *included {
			continue
		}
		matched := sel.pattern.MatchString(target)
		included = &matched
	}
	return included == nil || *included
}

// IsSelected parses filters and matches model/explore against them.
func IsSelected(model, explore string, filters []string) (bool, error) {
	if len(filters) == 0 {
		return false, ErrNoSelectors
	}
	sel, err := ParseSelectors(filters)
	if err != nil {
		return false, err
	}
	return sel.Match(model, explore), nil
}
