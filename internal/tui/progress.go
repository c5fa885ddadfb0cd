// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	defaultBarWidth = 30
	stageLabelWidth = 12
)

var (
	barFilledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED"))
	barEmptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4B5563"))
	stageStyle     = lipgloss.NewStyle().Bold(true).Width(stageLabelWidth)
)

// ProgressLine renders "stage [bar] pct% message" for one progress event.
// pct is clamped to 0..100 and width falls back to 30 cells.
func ProgressLine(stage string, pct int, message string, width int) string {
	if width <= 0 {
		width = defaultBarWidth
	}
	pct = max(0, min(100, pct))
	filled := width * pct / 100

	bar := barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled))

	line := fmt.Sprintf("%s %s %3d%%", stageStyle.Render(stage), bar, pct)
	if message != "" {
		line += " " + message
	}
	return line
}
