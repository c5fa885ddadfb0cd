// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/opsreport/updatectl/internal/output"
	"github.com/opsreport/updatectl/internal/selfupdate"

	"github.com/spf13/cobra"
)

type (
	// checkParams bundles the dependencies and flags of the check command.
	checkParams struct {
		stdout  io.Writer
		checker *selfupdate.Checker
		format  output.Format
	}

	// checkReport is the check command result in every output format.
	checkReport struct {
		CurrentVersion  string       `json:"current_version" yaml:"current_version" toml:"current_version"`
		UpdateAvailable bool         `json:"update_available" yaml:"update_available" toml:"update_available"`
		Latest          *releaseView `json:"latest,omitempty" yaml:"latest,omitempty" toml:"latest,omitempty"`
	}

	releaseView struct {
		Version     string    `json:"version" yaml:"version" toml:"version"`
		PublishedAt time.Time `json:"published_at,omitzero" yaml:"published_at,omitempty" toml:"published_at,omitempty"`
		Size        int64     `json:"size,omitempty" yaml:"size,omitempty" toml:"size,omitempty"`
		Prerelease  bool      `json:"prerelease,omitempty" yaml:"prerelease,omitempty" toml:"prerelease,omitempty"`
		Notes       string    `json:"notes,omitempty" yaml:"notes,omitempty" toml:"notes,omitempty"`
	}
)

func newCheckCommand(app *App) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the registry for a newer release",
		Long: `Compare the installed version with the newest release in the registry.

The installed version is read from the manifest.json of the install
directory, falling back to app.current_version when no manifest exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return userError(err)
			}

			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			if err := svc.requireRegistry(); err != nil {
				return err
			}

			return runCheck(cmd.Context(), checkParams{
				stdout:  app.stdout,
				checker: svc.newChecker(),
				format:  f,
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", string(output.FormatText), "output format (text, json, yaml, toml)")
	return cmd
}

// runCheck runs one check and writes the report.
func runCheck(ctx context.Context, p checkParams) error {
	rel, err := p.checker.CheckNow(ctx)
	if err != nil {
		return err
	}

	report := checkReport{
		CurrentVersion:  p.checker.Status().CurrentVersion,
		UpdateAvailable: rel != nil,
	}
	if rel != nil {
		report.Latest = &releaseView{
			Version:     selfupdate.DisplayVersion(rel.Version),
			PublishedAt: rel.PublishedAt,
			Size:        rel.Size,
			Prerelease:  rel.Prerelease,
			Notes:       rel.Notes,
		}
	}
	return output.NewWriter(p.stdout, p.format).Write(report)
}

// RenderText implements output.TextRenderer.
func (r checkReport) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Current version: %s\n", CmdStyle.Render(r.CurrentVersion))
	if !r.UpdateAvailable {
		_, err := fmt.Fprintln(w, SuccessStyle.Render("Up to date."))
		return err
	}
	fmt.Fprintf(w, "Latest version:  %s\n", CmdStyle.Render(r.Latest.Version))
	if !r.Latest.PublishedAt.IsZero() {
		fmt.Fprintf(w, "Published:       %s\n", r.Latest.PublishedAt.UTC().Format(time.DateOnly))
	}
	_, err := fmt.Fprintf(w, "\nAn update is available: %s -> %s\nRun 'updatectl install' to install it.\n",
		r.CurrentVersion, r.Latest.Version)
	return err
}
