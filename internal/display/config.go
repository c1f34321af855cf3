package display

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// DisplayConfig controls how command results reach the terminal
type DisplayConfig struct {
	ColorEnabled *bool  `mapstructure:"color_enabled" yaml:"color_enabled,omitempty"`
	Theme        string `mapstructure:"theme" yaml:"theme"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
	ShowProgress *bool  `mapstructure:"show_progress" yaml:"show_progress,omitempty"`

	VerboseMode bool `mapstructure:"verbose" yaml:"verbose"`
	QuietMode   bool `mapstructure:"quiet" yaml:"quiet"`

	MaxTableWidth int `mapstructure:"max_table_width" yaml:"max_table_width"`

	// Writer receives command output; stdout by default
	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

// OutputFormat selects how command results are printed
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ThemeName selects a ColorTheme
type ThemeName string

const (
	ThemeDark         ThemeName = "dark"
	ThemeLight        ThemeName = "light"
	ThemeHighContrast ThemeName = "high-contrast"
	ThemePlain        ThemeName = "plain"
)

func DefaultDisplayConfig() *DisplayConfig {
	dc := &DisplayConfig{}
	dc.SetDefaults()
	return dc
}

// SetDefaults fills unset fields: dark theme, table output, 120 columns, stdout
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = string(ThemeDark)
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatTable)
	}
	if dc.MaxTableWidth == 0 {
		dc.MaxTableWidth = 120
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
}

var (
	validThemes  = []string{string(ThemeDark), string(ThemeLight), string(ThemeHighContrast), string(ThemePlain)}
	validFormats = []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}
)

const minTableWidth, maxTableWidth = 40, 300

// Validate reports every invalid setting at once
func (dc *DisplayConfig) Validate() error {
	var problems []string
	if !slices.Contains(validThemes, dc.Theme) {
		problems = append(problems, fmt.Sprintf("invalid theme %q (want %s)", dc.Theme, strings.Join(validThemes, "|")))
	}
	if !slices.Contains(validFormats, dc.OutputFormat) {
		problems = append(problems, fmt.Sprintf("invalid output format %q (want %s)", dc.OutputFormat, strings.Join(validFormats, "|")))
	}
	if dc.MaxTableWidth < minTableWidth || dc.MaxTableWidth > maxTableWidth {
		problems = append(problems, fmt.Sprintf("max table width %d outside [%d, %d]", dc.MaxTableWidth, minTableWidth, maxTableWidth))
	}
	if dc.VerboseMode && dc.QuietMode {
		problems = append(problems, "--verbose and --quiet are mutually exclusive")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("display: " + strings.Join(problems, "; "))
}

// Format returns the configured output format
func (dc *DisplayConfig) Format() OutputFormat {
	return OutputFormat(dc.OutputFormat)
}

// IsColorEnabled reports whether colors were not switched off; terminal detection still applies
func (dc *DisplayConfig) IsColorEnabled() bool {
	return (dc.ColorEnabled == nil || *dc.ColorEnabled) && !dc.QuietMode
}

// IsProgressEnabled returns true if progress indicators should be shown
func (dc *DisplayConfig) IsProgressEnabled() bool {
	return (dc.ShowProgress == nil || *dc.ShowProgress) && !dc.QuietMode
}
