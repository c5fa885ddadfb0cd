// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// Theme represents the visual theme for prompts.
type Theme string

const (
	// ThemeDefault uses the base huh theme.
	ThemeDefault Theme = "default"
	// ThemeCharm uses the Charm theme.
	ThemeCharm Theme = "charm"
	// ThemeDracula uses the Dracula theme.
	ThemeDracula Theme = "dracula"
	// ThemeCatppuccin uses the Catppuccin theme.
	ThemeCatppuccin Theme = "catppuccin"
	// ThemeBase16 uses the Base16 theme.
	ThemeBase16 Theme = "base16"
)

// Config holds common configuration for prompts.
type Config struct {
	// Theme specifies the visual theme to use.
	Theme Theme
	// Accessible replaces the interactive form with plain line prompts.
	Accessible bool
	// Input is where answers are read from. nil means os.Stdin.
	Input io.Reader
	// Output is where prompts are drawn. nil means os.Stdout.
	Output io.Writer
}

// DefaultConfig enables accessible mode when stdin is not a terminal (pipes,
// service managers, $(...) substitution) or ACCESSIBLE is set, and then
// draws on stderr so a captured stdout does not swallow the question.
func DefaultConfig() Config {
	accessible := !isInputTerminal() || os.Getenv("ACCESSIBLE") != ""

	var output io.Writer = os.Stdout
	if accessible {
		output = os.Stderr
	}
	return Config{
		Theme:      ThemeDefault,
		Accessible: accessible,
		Input:      os.Stdin,
		Output:     output,
	}
}

// IsInteractive reports whether a human can answer a prompt on stdin.
func IsInteractive() bool {
	return isInputTerminal()
}

//nolint:gochecknoglobals // Test seam for terminal detection.
var isInputTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) //nolint:gosec // Fd fits in int on supported platforms
}

func huhTheme(t Theme) *huh.Theme {
	switch t {
	case ThemeCharm:
		return huh.ThemeCharm()
	case ThemeDracula:
		return huh.ThemeDracula()
	case ThemeCatppuccin:
		return huh.ThemeCatppuccin()
	case ThemeBase16:
		return huh.ThemeBase16()
	default:
		return huh.ThemeBase()
	}
}

func (c Config) form(groups ...*huh.Group) *huh.Form {
	f := huh.NewForm(groups...).
		WithTheme(huhTheme(c.Theme)).
		WithAccessible(c.Accessible).
		WithShowHelp(!c.Accessible)
	if c.Input != nil {
		f = f.WithInput(c.Input)
	}
	if c.Output != nil {
		f = f.WithOutput(c.Output)
	}
	return f
}
