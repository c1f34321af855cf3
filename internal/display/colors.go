package display

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// ColorTheme defines the colors of each message kind
type ColorTheme struct {
	Primary *color.Color
	Success *color.Color
	Warning *color.Color
	Error   *color.Color
	Info    *color.Color
	Muted   *color.Color
}

// DarkColorTheme returns a color theme optimized for dark terminals
func DarkColorTheme() ColorTheme {
	return ColorTheme{
		Primary: color.New(color.FgHiBlue, color.Bold),
		Success: color.New(color.FgHiGreen),
		Warning: color.New(color.FgHiYellow),
		Error:   color.New(color.FgHiRed, color.Bold),
		Info:    color.New(color.FgCyan),
		Muted:   color.New(color.FgWhite),
	}
}

// LightColorTheme returns a color theme optimized for light terminals
func LightColorTheme() ColorTheme {
	return ColorTheme{
		Primary: color.New(color.FgBlue, color.Bold),
		Success: color.New(color.FgGreen),
		Warning: color.New(color.FgYellow),
		Error:   color.New(color.FgRed, color.Bold),
		Info:    color.New(color.FgCyan),
		Muted:   color.New(color.FgMagenta),
	}
}

// HighContrastColorTheme returns a high-contrast color theme for accessibility
func HighContrastColorTheme() ColorTheme {
	return ColorTheme{
		Primary: color.New(color.FgHiWhite, color.Bold),
		Success: color.New(color.FgHiGreen, color.Bold),
		Warning: color.New(color.FgHiYellow, color.Bold),
		Error:   color.New(color.FgHiRed, color.Bold),
		Info:    color.New(color.FgHiCyan),
		Muted:   color.New(color.FgWhite),
	}
}

// PlainTextTheme returns a theme that uses no colors
func PlainTextTheme() ColorTheme {
	plain := func() *color.Color {
		c := color.New()
		c.DisableColor()
		return c
	}
	return ColorTheme{Primary: plain(), Success: plain(), Warning: plain(), Error: plain(), Info: plain(), Muted: plain()}
}

// GetThemeByName returns a color theme by name, defaulting to dark
func GetThemeByName(name string) ColorTheme {
	switch ThemeName(name) {
	case ThemeLight:
		return LightColorTheme()
	case ThemeHighContrast:
		return HighContrastColorTheme()
	case ThemePlain:
		return PlainTextTheme()
	default:
		return DarkColorTheme()
	}
}

// disable turns every color of the theme off
func (t ColorTheme) disable() ColorTheme {
	for _, c := range []*color.Color{t.Primary, t.Success, t.Warning, t.Error, t.Info, t.Muted} {
		c.DisableColor()
	}
	return t
}

// enable forces every color on, overriding fatih/color's own stdout detection
func (t ColorTheme) enable() ColorTheme {
	for _, c := range []*color.Color{t.Primary, t.Success, t.Warning, t.Error, t.Info, t.Muted} {
		c.EnableColor()
	}
	return t
}

// detectColorSupport reports whether w is a terminal that renders ANSI colors
func detectColorSupport(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}

	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	return termenv.NewOutput(f).Profile != termenv.Ascii
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
