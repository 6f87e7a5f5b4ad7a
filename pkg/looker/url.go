package looker

import (
	"net/url"
	"strings"
)

// ComposeURL joins base and path segments with single slashes and appends
// params. Multiple values for a key are comma-joined.
func ComposeURL(base string, path []string, params map[string][]string) string {
	parts := make([]string, 0, len(path)+1)
	parts = append(parts, strings.TrimRight(base, "/"))
	for _, p := range path {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		parts = append(parts, p)
	}
	u := strings.Join(parts, "/")

	if len(params) == 0 {
		return u
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, strings.Join(v, ","))
	}
	return u + "?" + values.Encode()
}
