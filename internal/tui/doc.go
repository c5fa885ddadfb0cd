// SPDX-License-Identifier: MPL-2.0

// Package tui provides the interactive pieces of the updatectl CLI: the
// install confirmation prompt built on charmbracelet/huh and the progress
// line drawn with lipgloss.
package tui
