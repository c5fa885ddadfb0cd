// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
)

// ErrAborted is returned when the user dismisses a prompt with Ctrl-C or Esc.
var ErrAborted = errors.New("prompt aborted")

// ConfirmOptions configures Confirm.
type ConfirmOptions struct {
	// Title is the question to display.
	Title string
	// Description provides additional context below the title.
	Description string
	// Affirmative is the text for the yes option (default: "Yes").
	Affirmative string
	// Negative is the text for the no option (default: "No").
	Negative string
	// Default is the preselected answer.
	Default bool
	// Config holds common prompt configuration.
	Config Config
}

//nolint:gochecknoglobals // Test seam for running a form.
var runForm = func(ctx context.Context, f *huh.Form) error {
	return f.RunWithContext(ctx)
}

// Confirm asks a yes/no question and returns the answer.
func Confirm(ctx context.Context, opts ConfirmOptions) (bool, error) {
	affirmative := opts.Affirmative
	if affirmative == "" {
		affirmative = "Yes"
	}
	negative := opts.Negative
	if negative == "" {
		negative = "No"
	}

	result := opts.Default
	field := huh.NewConfirm().
		Title(opts.Title).
		Affirmative(affirmative).
		Negative(negative).
		Value(&result)
	if opts.Description != "" {
		field = field.Description(opts.Description)
	}

	if err := runForm(ctx, opts.Config.form(huh.NewGroup(field))); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, ErrAborted
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, fmt.Errorf("confirm prompt: %w", err)
	}
	return result, nil
}
