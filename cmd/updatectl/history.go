// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/opsreport/updatectl/internal/history"
	"github.com/opsreport/updatectl/internal/output"
	"github.com/opsreport/updatectl/internal/selfupdate"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

const defaultHistoryLimit = 20

type (
	historyParams struct {
		stdout  io.Writer
		store   historyReader
		limit   int
		version string
		format  output.Format
	}

	// historyReader is the read side of *history.Service.
	historyReader interface {
		GetHistory(ctx context.Context, limit int) ([]history.Record, error)
		GetHistoryByVersion(ctx context.Context, version string) ([]history.Record, error)
	}

	// historyTable renders records newest first as a table.
	historyTable []history.Record
)

func newHistoryCommand(app *App) *cobra.Command {
	var (
		limit   int
		version string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded update attempts",
		Long: `Show update attempts, newest first.

Only the most recent update.history_retention records are kept. Use
--version to list the attempts that involved one release, either as the
version updated from or the version updated to.`,
		Example: `  updatectl history --limit 5
  updatectl history --version 1.4.0 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return userError(err)
			}
			if limit < 0 {
				return userError(fmt.Errorf("--limit must not be negative, got %d", limit))
			}

			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			return runHistory(cmd.Context(), historyParams{
				stdout:  app.stdout,
				store:   svc.history,
				limit:   limit,
				version: version,
				format:  f,
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "maximum number of records to show (0 for all retained)")
	cmd.Flags().StringVar(&version, "version", "", "only show attempts from or to this version")
	cmd.Flags().StringVarP(&format, "format", "o", string(output.FormatText), "output format (text, json, yaml, toml)")
	return cmd
}

func runHistory(ctx context.Context, p historyParams) error {
	var (
		records []history.Record
		err     error
	)
	if p.version != "" {
		records, err = p.store.GetHistoryByVersion(ctx, p.version)
		if err == nil && p.limit > 0 && len(records) > p.limit {
			records = records[:p.limit]
		}
	} else {
		records, err = p.store.GetHistory(ctx, p.limit)
	}
	if err != nil {
		return fmt.Errorf("reading update history: %w", err)
	}
	if records == nil {
		records = []history.Record{}
	}
	return output.NewWriter(p.stdout, p.format).Write(historyTable(records))
}

// RenderText implements output.TextRenderer.
func (h historyTable) RenderText(w io.Writer) error {
	if len(h) == 0 {
		_, err := fmt.Fprintln(w, "No update attempts recorded.")
		return err
	}

	rows := make([][]string, 0, len(h))
	for _, r := range h {
		rows = append(rows, []string{
			r.Timestamp.Local().Format(time.DateTime),
			selfupdate.DisplayVersion(r.FromVersion),
			selfupdate.DisplayVersion(r.ToVersion),
			string(r.Status),
			durationCell(r.InstallDuration),
			sizeCell(r.DownloadSizeBytes),
			r.ErrorMessage,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		Headers("WHEN", "FROM", "TO", "STATUS", "DURATION", "SIZE", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 3 {
				return statusStyle(h[row].Status)
			}
			return tableCellStyle
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func statusStyle(s history.Status) lipgloss.Style {
	switch s {
	case history.StatusSuccess:
		return tableCellStyle.Foreground(ColorSuccess)
	case history.StatusRolledBack:
		return tableCellStyle.Foreground(ColorWarning)
	default:
		return tableCellStyle.Foreground(ColorError)
	}
}

func durationCell(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func sizeCell(n int64) string {
	if n <= 0 {
		return "-"
	}
	return selfupdate.FormatBytes(n)
}
