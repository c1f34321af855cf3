// Package display renders command output: colored status lines, tables, spinners, and
// JSON or YAML documents for scripting.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Printer writes command output according to a DisplayConfig
type Printer struct {
	config      *DisplayConfig
	out         io.Writer
	errOut      io.Writer
	theme       ColorTheme
	interactive bool
}

// NewPrinter creates a printer writing results to config.Writer and diagnostics to stderr
func NewPrinter(config *DisplayConfig) *Printer {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()
	return NewPrinterWithWriters(config, config.Writer, os.Stderr)
}

// NewPrinterWithWriters creates a printer over explicit writers
func NewPrinterWithWriters(config *DisplayConfig, out, errOut io.Writer) *Printer {
	theme := GetThemeByName(config.Theme)
	if config.IsColorEnabled() && detectColorSupport(out) {
		theme = theme.enable()
	} else {
		theme = theme.disable()
	}
	return &Printer{
		config:      config,
		out:         out,
		errOut:      errOut,
		theme:       theme,
		interactive: isTerminal(out),
	}
}

// Out returns the result writer
func (p *Printer) Out() io.Writer {
	return p.out
}

// Format returns the output format
func (p *Printer) Format() OutputFormat {
	return p.config.Format()
}

// Structured reports whether results are printed as JSON or YAML documents
func (p *Printer) Structured() bool {
	return p.Format() == FormatJSON || p.Format() == FormatYAML
}

// Header prints a section title
func (p *Printer) Header(title string) {
	if p.config.QuietMode || p.Structured() {
		return
	}
	p.theme.Primary.Fprintf(p.out, "\n%s\n%s\n", title, strings.Repeat("=", len(title)))
}

// Field prints one "label: value" line of a detail view
func (p *Printer) Field(label string, value any) {
	if p.Structured() {
		return
	}
	fmt.Fprintf(p.out, "%s %v\n", p.theme.Muted.Sprintf("%-20s", label+":"), value)
}

// Success prints a success message
func (p *Printer) Success(format string, args ...any) {
	p.status(p.out, p.theme.Success, "✓", format, args...)
}

// Warning prints a warning to stderr
func (p *Printer) Warning(format string, args ...any) {
	p.status(p.errOut, p.theme.Warning, "!", format, args...)
}

// Error prints an error to stderr; errors are shown even in quiet mode
func (p *Printer) Error(format string, args ...any) {
	p.theme.Error.Fprintf(p.errOut, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Info prints an informational message
func (p *Printer) Info(format string, args ...any) {
	p.status(p.out, p.theme.Info, "•", format, args...)
}

// Verbose prints a message only in verbose mode
func (p *Printer) Verbose(format string, args ...any) {
	if p.config.VerboseMode {
		p.status(p.out, p.theme.Muted, " ", format, args...)
	}
}

func (p *Printer) status(w io.Writer, c *color.Color, icon, format string, args ...any) {
	if p.config.QuietMode || (p.Structured() && w == p.out) {
		return
	}
	c.Fprintf(w, "%s %s\n", icon, fmt.Sprintf(format, args...))
}

// Table renders t, unless results are structured
func (p *Printer) Table(t *Table) {
	if p.Structured() {
		return
	}
	t.maxWidth = p.config.MaxTableWidth
	t.Render(p.out)
}

// Result prints v as a JSON or YAML document when the format is structured, and calls
// render otherwise
func (p *Printer) Result(v any, render func()) error {
	switch p.Format() {
	case FormatJSON:
		return p.JSON(v)
	case FormatYAML:
		return p.YAML(v)
	default:
		render()
		return nil
	}
}

// JSON writes v as indented JSON
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// YAML writes v as YAML, keyed by its JSON field names
func (p *Printer) YAML(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode YAML output: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to encode YAML output: %w", err)
	}
	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode YAML output: %w", err)
	}
	return enc.Close()
}

// StartSpinner starts a spinner on interactive table output. Elsewhere the returned spinner
// only prints its final message.
func (p *Printer) StartSpinner(message string) *Spinner {
	switch {
	case p.interactive && p.config.IsProgressEnabled() && !p.Structured():
		s := newSpinner(p.out, p.theme, message)
		s.start()
		return s
	case p.Structured() || p.config.QuietMode:
		return newSpinner(io.Discard, p.theme, message)
	}
	return newSpinner(p.out, p.theme, message)
}
