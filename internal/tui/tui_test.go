// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"os"
	"testing"

	"github.com/opsreport/updatectl/internal/testutil"
)

// Not parallel: overrides isInputTerminal and ACCESSIBLE.
func TestDefaultConfig(t *testing.T) {
	orig := isInputTerminal
	t.Cleanup(func() { isInputTerminal = orig })
	t.Cleanup(testutil.MustSetenv(t, "ACCESSIBLE", ""))

	isInputTerminal = func() bool { return true }
	cfg := DefaultConfig()
	if cfg.Accessible {
		t.Error("terminal stdin should not force accessible mode")
	}
	if cfg.Output != os.Stdout {
		t.Error("interactive prompts should draw on stdout")
	}
	if !IsInteractive() {
		t.Error("IsInteractive should follow terminal detection")
	}

	isInputTerminal = func() bool { return false }
	cfg = DefaultConfig()
	if !cfg.Accessible || cfg.Output != os.Stderr {
		t.Errorf("piped stdin should select accessible mode on stderr, got %+v", cfg)
	}

	isInputTerminal = func() bool { return true }
	t.Cleanup(testutil.MustSetenv(t, "ACCESSIBLE", "1"))
	if !DefaultConfig().Accessible {
		t.Error("ACCESSIBLE should force accessible mode")
	}
}

func TestHuhTheme(t *testing.T) {
	t.Parallel()

	for _, th := range []Theme{ThemeDefault, ThemeCharm, ThemeDracula, ThemeCatppuccin, ThemeBase16, "unknown"} {
		if huhTheme(th) == nil {
			t.Errorf("huhTheme(%q) returned nil", th)
		}
	}
}
