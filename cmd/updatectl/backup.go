// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opsreport/updatectl/internal/output"
	"github.com/opsreport/updatectl/internal/rollback"
	"github.com/opsreport/updatectl/internal/selfupdate"
	"github.com/opsreport/updatectl/internal/tui"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

type (
	// backupStore is the part of *rollback.Manager the backup commands use.
	backupStore interface {
		BackupDir() string
		ListBackups() ([]rollback.Listing, error)
		Restore(ctx context.Context, path string) error
		Prune(keep int) ([]string, error)
	}

	backupListParams struct {
		stdout io.Writer
		store  backupStore
		format output.Format
	}

	backupRestoreParams struct {
		stdout      io.Writer
		store       backupStore
		path        string
		yes         bool
		interactive bool
		confirm     confirmFunc
	}

	// backupView is a rollback.Listing in every output format.
	backupView struct {
		Name      string    `json:"name" yaml:"name" toml:"name"`
		Path      string    `json:"path" yaml:"path" toml:"path"`
		Version   string    `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
		CreatedAt time.Time `json:"created_at" yaml:"created_at" toml:"created_at"`
		Files     int       `json:"files" yaml:"files" toml:"files"`
		SizeBytes int64     `json:"size_bytes" yaml:"size_bytes" toml:"size_bytes"`
		Valid     bool      `json:"valid" yaml:"valid" toml:"valid"`
		Problem   string    `json:"problem,omitempty" yaml:"problem,omitempty" toml:"problem,omitempty"`
	}

	backupTable []backupView
)

func newBackupCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect, verify and restore installation backups",
		Long: `Manage the snapshots taken before every install.

A snapshot is a directory named backup-<version>-<timestamp> holding a
manifest.json and a copy of the installation under files/.`,
	}
	cmd.AddCommand(
		newBackupListCommand(app),
		newBackupVerifyCommand(app),
		newBackupRestoreCommand(app),
		newBackupPruneCommand(app),
	)
	return cmd
}

func newBackupListCommand(app *App) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups, newest first",
		Args:    cobra.NoArgs,
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

			return runBackupList(backupListParams{stdout: app.stdout, store: svc.backups, format: f})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", string(output.FormatText), "output format (text, json, yaml, toml)")
	return cmd
}

func newBackupVerifyCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>",
		Short: "Check that a backup can be restored",
		Long: `Verify that a backup is a directory with a readable manifest naming a
version. Exits with status 1 when the backup is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runBackupVerify(app.stdout, args[0])
		},
	}
}

func newBackupRestoreCommand(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "restore <path|name>",
		Short: "Replace the installation with a backup",
		Long: `Restore the installation from a backup. The argument is either a path or
the name of a directory inside the backup directory. The backup is verified
first and left in place afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			return runBackupRestore(cmd.Context(), backupRestoreParams{
				stdout:      app.stdout,
				store:       svc.backups,
				path:        args[0],
				yes:         yes,
				interactive: app.interactive(),
				confirm:     app.confirm,
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newBackupPruneCommand(app *App) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest valid backups",
		Long: `Delete valid backups beyond the newest --keep. Invalid backups are never
deleted so they can be inspected. Defaults to update.keep_backups.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if !cmd.Flags().Changed("keep") {
				keep = svc.cfg.Update.KeepBackups
			}
			if keep < 0 {
				return userError(fmt.Errorf("--keep must not be negative, got %d", keep))
			}
			return runBackupPrune(app.stdout, svc.backups, keep)
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "number of valid backups to keep")
	return cmd
}

func runBackupList(p backupListParams) error {
	listing, err := p.store.ListBackups()
	if err != nil {
		return err
	}
	views := make(backupTable, 0, len(listing))
	for _, l := range listing {
		views = append(views, backupView{
			Name:      l.Name,
			Path:      l.Path,
			Version:   l.Version,
			CreatedAt: l.CreatedAt,
			Files:     l.Files,
			SizeBytes: l.SizeBytes,
			Valid:     l.Valid,
			Problem:   l.Problem,
		})
	}
	return output.NewWriter(p.stdout, p.format).Write(views)
}

func runBackupVerify(stdout io.Writer, path string) error {
	if err := rollback.ValidateBackup(path); err != nil {
		return userError(err)
	}
	fmt.Fprintln(stdout, SuccessStyle.Render("Backup is valid: ")+path)
	return nil
}

func runBackupRestore(ctx context.Context, p backupRestoreParams) error {
	path := resolveBackupPath(p.store.BackupDir(), p.path)
	if err := rollback.ValidateBackup(path); err != nil {
		return userError(err)
	}

	if !p.yes {
		if !p.interactive {
			return userError(fmt.Errorf("%w; pass --yes to restore unattended", errNotInteractive))
		}
		ok, err := p.confirm(ctx, tui.ConfirmOptions{
			Title:       "Restore " + filepath.Base(path) + "?",
			Description: "The current installation is replaced and files added since the backup are removed.",
			Config:      tui.DefaultConfig(),
		})
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(p.stdout, "Restore skipped.")
			return nil
		}
	}

	if err := p.store.Restore(ctx, path); err != nil {
		if errors.Is(err, rollback.ErrInvalidBackup) {
			return userError(err)
		}
		return err
	}
	fmt.Fprintln(p.stdout, SuccessStyle.Render("Restored ")+path)
	return nil
}

func runBackupPrune(stdout io.Writer, store backupStore, keep int) error {
	removed, err := store.Prune(keep)
	for _, p := range removed {
		fmt.Fprintf(stdout, "Removed %s\n", p)
	}
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Fprintln(stdout, "Nothing to prune.")
	}
	return nil
}

// resolveBackupPath treats a bare name that exists under backupDir as a
// backup name and anything else as a path.
func resolveBackupPath(backupDir, arg string) string {
	if strings.ContainsRune(arg, filepath.Separator) || strings.ContainsRune(arg, '/') {
		return arg
	}
	candidate := filepath.Join(backupDir, arg)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return arg
}

// RenderText implements output.TextRenderer.
func (b backupTable) RenderText(w io.Writer) error {
	if len(b) == 0 {
		_, err := fmt.Fprintln(w, "No backups found.")
		return err
	}

	rows := make([][]string, 0, len(b))
	for _, v := range b {
		state := "ok"
		if !v.Valid {
			state = "invalid: " + v.Problem
		}
		rows = append(rows, []string{
			v.Name,
			selfupdate.DisplayVersion(v.Version),
			v.CreatedAt.Local().Format(time.DateTime),
			fmt.Sprint(v.Files),
			selfupdate.FormatBytes(v.SizeBytes),
			state,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		Headers("NAME", "VERSION", "CREATED", "FILES", "SIZE", "STATE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case col == 5 && !b[row].Valid:
				return tableCellStyle.Foreground(ColorError)
			default:
				return tableCellStyle
			}
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
