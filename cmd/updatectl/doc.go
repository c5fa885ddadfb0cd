// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the updatectl command tree.
//
// Each command keeps its cobra wiring separate from a runXxx function that
// takes a params struct, so tests drive the logic with httptest registries
// and temporary install directories instead of a real terminal.
package cmd
