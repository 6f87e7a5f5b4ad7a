package output

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/lookcheck/internal/validator"
	"github.com/leapstack-labs/lookcheck/pkg/core"
)

// Result writes a validator result: indented JSON in JSON mode, otherwise a
// status line per tested explore followed by a block per error.
func (r *Renderer) Result(res core.Result) error {
	if r.EffectiveMode() == ModeJSON {
		return r.JSON(res)
	}

	tested := slices.Clone(res.Tested)
	slices.SortStableFunc(tested, func(a, b core.TestResult) int {
		return cmp.Or(cmp.Compare(a.Model, b.Model), cmp.Compare(a.Explore, b.Explore))
	})
	for _, t := range tested {
		r.StatusLine(t.Model+"."+t.Explore, t.Status, string(t.SkipReason))
	}

	errs := slices.Clone(res.Errors)
	slices.SortStableFunc(errs, func(a, b core.ErrorResult) int {
		return cmp.Or(
			cmp.Compare(a.Model, b.Model),
			cmp.Compare(a.Explore, b.Explore),
			cmp.Compare(sortKey(res.Validator, a.Metadata), sortKey(res.Validator, b.Metadata)),
		)
	})
	for _, e := range errs {
		r.errorBlock(res.Validator, e)
	}
	r.Println()
	return nil
}

// StatusLine writes "✓ name passed", "✗ name failed" or "- name skipped".
func (r *Renderer) StatusLine(name string, status core.Status, detail string) {
	var line string
	switch status {
	case core.StatusPassed:
		line = "✓ " + r.styles.Success.Render(name) + " passed"
	case core.StatusFailed:
		line = "✗ " + r.styles.Error.Render(name) + " failed"
	default:
		line = r.styles.Muted.Render("- " + name + " skipped")
	}
	if detail != "" {
		line += r.styles.Muted.Render(" (" + strings.ReplaceAll(detail, "_", " ") + ")")
	}
	r.Println(line)
}

func sortKey(validator string, meta map[string]any) string {
	switch validator {
	case core.ValidatorSQL:
		return metaString(meta, "dimension")
	case core.ValidatorContent:
		return metaString(meta, "field_name")
	case core.ValidatorAssert:
		return metaString(meta, "test_name")
	default:
		return metaString(meta, "file_path")
	}
}

func (r *Renderer) errorBlock(v string, e core.ErrorResult) {
	path := errorPath(v, e)
	_, _ = fmt.Fprintf(r.out, "\n%s\n\n", r.rule(path, r.styles.Path))
	r.Println(r.styles.Wrap.Render(e.Message))

	var lines []string
	switch v {
	case core.ValidatorSQL:
		if url := metaString(e.Metadata, "lookml_url"); url != "" {
			lines = append(lines, "LookML: "+url)
		}
		if url := metaString(e.Metadata, "explore_url"); url != "" {
			lines = append(lines, "Explore: "+url)
		}
	case core.ValidatorContent:
		kind := metaString(e.Metadata, "content_type")
		title := metaString(e.Metadata, "title")
		if folder := metaString(e.Metadata, "folder"); folder != "" {
			title += " in folder " + folder
		}
		lines = append(lines, fmt.Sprintf("%s: %s", capitalize(kind), title))
		if tile := metaString(e.Metadata, "tile_title"); tile != "" {
			lines = append(lines, fmt.Sprintf("Tile: %s (%s)", tile, metaString(e.Metadata, "tile_type")))
		}
		if url := metaString(e.Metadata, "url"); url != "" {
			lines = append(lines, "URL: "+url)
		}
	case core.ValidatorAssert:
		if url := metaString(e.Metadata, "lookml_url"); url != "" {
			lines = append(lines, "LookML: "+url)
		}
		if url := metaString(e.Metadata, "explore_url"); url != "" {
			lines = append(lines, "Explore: "+url)
		}
	case core.ValidatorLookML:
		if sev := metaString(e.Metadata, "severity"); sev != "" {
			lines = append(lines, "Severity: "+sev)
		}
		if url := metaString(e.Metadata, "lookml_url"); url != "" {
			lines = append(lines, "LookML: "+url)
		}
	}
	if len(lines) > 0 {
		r.Println()
		for _, l := range lines {
			r.Println(r.styles.Muted.Render(l))
		}
	}
}

func errorPath(v string, e core.ErrorResult) string {
	switch v {
	case core.ValidatorSQL:
		if dim := metaString(e.Metadata, "dimension"); dim != "" {
			return e.Model + "." + dim
		}
	case core.ValidatorAssert:
		if name := metaString(e.Metadata, "test_name"); name != "" {
			return e.Model + "/" + name
		}
	case core.ValidatorLookML:
		if e.Model == "" {
			if file := metaString(e.Metadata, "file_path"); file != "" {
				return file
			}
			return "LookML"
		}
	}
	if e.Explore == "" {
		return e.Model
	}
	return e.Model + "." + e.Explore
}

// metaString reads a metadata value as a string. Missing and nil values are
// empty.
func metaString(meta map[string]any, key string) string {
	switch v := meta[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Profile writes the queries that ran longer than threshold seconds.
func (r *Renderer) Profile(entries []validator.ProfileEntry, threshold float64) {
	w := r.textWriter()
	if len(entries) == 0 {
		_, _ = fmt.Fprintf(w, "All queries completed in less than %s seconds.\n",
			strconv.FormatFloat(threshold, 'f', -1, 64))
		return
	}

	_, _ = fmt.Fprintf(w, "\n%s\n\n", r.rule("Query profiler", r.styles.Bold))
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Explore", "Field", "Runtime (s)", "Query ID", "Explore From Here"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Explore, e.Field, fmt.Sprintf("%.1f", e.Runtime), e.QueryID, e.ExploreURL})
	}
	t.Render()
}
