// Package output renders command output for terminals, pipes and machines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// LineWidth is the width headers are centered in and messages wrap at.
const LineWidth = 80

// OutputMode selects how results are written.
type OutputMode string

// Output modes.
const (
	// ModeAuto resolves to text.
	ModeAuto OutputMode = "auto"
	ModeText OutputMode = "text"
	ModeJSON OutputMode = "json"
)

// ParseMode returns the mode named by s. Empty means ModeAuto.
func ParseMode(s string) (OutputMode, error) {
	switch OutputMode(strings.ToLower(s)) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeText:
		return ModeText, nil
	case ModeJSON:
		return ModeJSON, nil
	default:
		return "", fmt.Errorf("invalid output format %q: must be text or json", s)
	}
}

// Styles are the lipgloss styles used for text output.
type Styles struct {
	Bold    lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
	Path    lipgloss.Style
	Wrap    lipgloss.Style
}

func newStyles(lr *lipgloss.Renderer) Styles {
	return Styles{
		Bold:    lr.NewStyle().Bold(true),
		Success: lr.NewStyle().Foreground(lipgloss.Color("2")),
		Error:   lr.NewStyle().Foreground(lipgloss.Color("1")),
		Warning: lr.NewStyle().Foreground(lipgloss.Color("3")),
		Info:    lr.NewStyle().Foreground(lipgloss.Color("4")),
		Muted:   lr.NewStyle().Faint(true),
		Path:    lr.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		Wrap:    lr.NewStyle().Width(LineWidth),
	}
}

// Renderer writes styled output to out and diagnostics to errOut.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   OutputMode
	isTTY  bool
	styles Styles
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode OutputMode) *Renderer {
	return NewRendererWithTTY(out, errOut, isTerminal(out), mode)
}

// NewRendererWithTTY creates a renderer with an explicit TTY state. Colors
// are disabled when isTTY is false.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode OutputMode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}
	lr := lipgloss.NewRenderer(out)
	if isTTY {
		lr.SetColorProfile(termenv.NewOutput(out).EnvColorProfile())
	} else {
		lr.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		isTTY:  isTTY,
		styles: newStyles(lr),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// EffectiveMode resolves ModeAuto.
func (r *Renderer) EffectiveMode() OutputMode {
	if r.mode == ModeAuto {
		return ModeText
	}
	return r.mode
}

// IsTTY reports whether output goes to a terminal.
func (r *Renderer) IsTTY() bool {
	return r.isTTY
}

// Styles returns the renderer's styles.
func (r *Renderer) Styles() Styles {
	return r.styles
}

// Out returns the primary writer.
func (r *Renderer) Out() io.Writer {
	return r.out
}

// Println writes a line to out.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted text to out.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Header writes text centered in a rule of "=". Headers go to errOut in JSON
// mode so stdout stays parseable.
func (r *Renderer) Header(text string) {
	_, _ = fmt.Fprintf(r.textWriter(), "\n%s\n\n", r.rule(text, r.styles.Bold))
}

func (r *Renderer) rule(text string, style lipgloss.Style) string {
	label := " " + text + " "
	pad := max(LineWidth-lipgloss.Width(label), 0)
	left := pad / 2
	return strings.Repeat("=", left) + style.Render(label) + strings.Repeat("=", pad-left)
}

// Success writes a green message.
func (r *Renderer) Success(msg string) {
	_, _ = fmt.Fprintln(r.textWriter(), r.styles.Success.Render(msg))
}

// Warning writes a yellow message to errOut.
func (r *Renderer) Warning(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render(msg))
}

// Error writes a red message to errOut.
func (r *Renderer) Error(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Error.Render(msg))
}

// Muted writes a dimmed message.
func (r *Renderer) Muted(msg string) {
	_, _ = fmt.Fprintln(r.textWriter(), r.styles.Muted.Render(msg))
}

// JSON writes v as indented JSON to out.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// textWriter is where human-oriented text goes for the current mode.
func (r *Renderer) textWriter() io.Writer {
	if r.EffectiveMode() == ModeJSON {
		return r.errOut
	}
	return r.out
}
