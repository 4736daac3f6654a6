// Package ui provides styled terminal output for the CLI commands.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Writer renders CLI output. Colors are applied only when the destination is
// an interactive terminal and NO_COLOR is unset.
type Writer struct {
	out    io.Writer
	styles Styles
}

// New creates a Writer with automatic color detection for out.
func New(out io.Writer) *Writer {
	noColor := !IsTTY(out) || DetectNoColor() || DetectCI()
	return &Writer{out: out, styles: GetStyles(noColor)}
}

// NewWithStyles creates a Writer with an explicit style set.
func NewWithStyles(out io.Writer, styles Styles) *Writer {
	return &Writer{out: out, styles: styles}
}

// Header prints a bold section header.
// Write errors are intentionally ignored for console output.
func (w *Writer) Header(msg string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(msg))
}

// Headerf prints a formatted section header.
func (w *Writer) Headerf(format string, args ...any) {
	w.Header(fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Success.Render("✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Warning.Render("!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", w.styles.Error.Render("✗"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Info prints a plain informational line.
func (w *Writer) Info(msg string) {
	_, _ = fmt.Fprintln(w.out, msg)
}

// Infof prints a formatted informational line.
func (w *Writer) Infof(format string, args ...any) {
	w.Info(fmt.Sprintf(format, args...))
}

// Field prints an aligned "label: value" line.
func (w *Writer) Field(label, value string) {
	_, _ = fmt.Fprintf(w.out, "  %s %s\n",
		w.styles.Label.Render(fmt.Sprintf("%-12s", label+":")),
		w.styles.Value.Render(value))
}

// Dim prints a secondary detail line.
func (w *Writer) Dim(msg string) {
	_, _ = fmt.Fprintf(w.out, "  %s\n", w.styles.Dim.Render(msg))
}

// Markdown prints pre-rendered markdown output, indenting code fences.
func (w *Writer) Markdown(content string) {
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintln(w.out, line)
	}
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
