// Package output formats CLI results as text or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Format selects how command results are written.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value. Empty selects text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", amerrors.New(amerrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown output format %q", s), nil).
			WithSuggestion("Use --format text or --format json")
	}
}

// Writer writes command output.
type Writer struct {
	out    io.Writer
	format Format
}

// New creates a text Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out, format: FormatText}
}

// NewWithFormat creates a Writer for format.
func NewWithFormat(out io.Writer, format Format) *Writer {
	return &Writer{out: out, format: format}
}

// JSONMode reports whether results should be written as JSON.
func (w *Writer) JSONMode() bool {
	return w.format == FormatJSON
}

// Result writes v as indented JSON in JSON mode and text otherwise.
// Write errors are returned so pipes closing early are visible.
func (w *Writer) Result(v any, text string) error {
	if w.JSONMode() {
		return w.JSON(v)
	}
	_, err := io.WriteString(w.out, strings.TrimRight(text, "\n")+"\n")
	return err
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Status prints a message with an icon. Status lines are suppressed in
// JSON mode so stdout stays parseable.
func (w *Writer) Status(icon, msg string) {
	if w.JSONMode() {
		return
	}
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) { w.Status("✅", msg) }

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

// Warning prints a warning message.
func (w *Writer) Warning(msg string) { w.Status("⚠️ ", msg) }

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

// Error prints an error. In JSON mode the error payload is written instead.
func (w *Writer) Error(err error) {
	if w.JSONMode() {
		_ = w.JSON(map[string]any{"error": amerrors.ToPayload(err)})
		return
	}
	_, _ = io.WriteString(w.out, amerrors.FormatForCLI(err))
}

// Code prints an indented block.
func (w *Writer) Code(content string) {
	if w.JSONMode() {
		return
	}
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}
