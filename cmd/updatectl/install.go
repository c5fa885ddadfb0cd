// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/opsreport/updatectl/internal/issue"
	"github.com/opsreport/updatectl/internal/selfupdate"
	"github.com/opsreport/updatectl/internal/tui"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

// progressStep is the minimum progress change, in percent, worth a new line.
const progressStep = 10

var errNotInteractive = errors.New("confirmation required but stdin is not a terminal")

type (
	// releaseLookup finds releases in the registry. *selfupdate.RegistryClient implements it.
	releaseLookup interface {
		LatestRelease(ctx context.Context) (*selfupdate.ReleaseDescriptor, error)
		GetRelease(ctx context.Context, version string) (*selfupdate.ReleaseDescriptor, error)
	}

	// backupPruner removes old snapshots. *rollback.Manager implements it.
	backupPruner interface {
		Prune(keep int) ([]string, error)
	}

	// installParams bundles the dependencies and flags of the install command
	// so runInstall can be tested without cobra or a terminal.
	installParams struct {
		stdout      io.Writer
		stderr      io.Writer
		releases    releaseLookup
		installer   *selfupdate.Installer
		backups     backupPruner
		keepBackups int
		confirm     confirmFunc
		interactive bool
		renderNotes func(markdown string) (string, error)

		target string // empty means latest
		yes    bool   // skip the confirmation prompt
		force  bool   // allow reinstalling or downgrading
	}
)

func newInstallCommand(app *App) *cobra.Command {
	var yes, force bool

	cmd := &cobra.Command{
		Use:   "install [version]",
		Short: "Install the latest release or a specific version",
		Long: `Download, verify and install a release.

The current installation is copied to the backup directory before it is
replaced. If replacing it fails, the backup is restored and the attempt is
recorded as rolled back. Press Ctrl-C while downloading or verifying to
cancel; once installing has started the attempt always runs to the end.`,
		Example: `  # Install the latest release
  updatectl install

  # Install a specific version without prompting
  updatectl install 1.4.0 --yes

  # Go back to an older release
  updatectl install 1.3.2 --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			if err := svc.requireRegistry(); err != nil {
				return err
			}

			p := installParams{
				stdout:      app.stdout,
				stderr:      app.stderr,
				releases:    svc.registry,
				installer:   svc.installer,
				backups:     svc.backups,
				keepBackups: svc.cfg.Update.KeepBackups,
				confirm:     app.confirm,
				interactive: app.interactive(),
				renderNotes: markdownRenderer(app.stdout),
				yes:         yes,
				force:       force,
			}
			if len(args) > 0 {
				p.target = args[0]
			}
			return runInstall(cmd.Context(), p)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&force, "force", false, "install even when the version is not newer")
	return cmd
}

// runInstall resolves the release, confirms with the operator and runs the
// installation while printing progress.
func runInstall(ctx context.Context, p installParams) error {
	current, err := p.installer.CurrentVersion()
	if err != nil {
		return userError(issue.NewErrorContext().
			WithOperation("determine the installed version").
			WithSuggestion("Set app.current_version when the install directory has no manifest.json").
			Wrap(err).
			BuildError())
	}

	rel, err := resolveRelease(ctx, p.releases, p.target)
	if err != nil {
		return err
	}
	target := selfupdate.DisplayVersion(rel.Version)

	newer, err := selfupdate.IsNewer(rel.Version, current)
	if err != nil {
		return userError(fmt.Errorf("comparing versions: %w", err))
	}
	if !newer {
		if p.target == "" {
			fmt.Fprintf(p.stdout, "Already up to date (%s).\n", CmdStyle.Render(current))
			return nil
		}
		if !p.force {
			return userError(issue.NewErrorContext().
				WithOperation("install " + target).
				WithSuggestion("Pass --force to reinstall or downgrade").
				Wrap(fmt.Errorf("%s is not newer than the installed %s", target, current)).
				BuildError())
		}
	}

	fmt.Fprintf(p.stdout, "Current version: %s\n", CmdStyle.Render(current))
	fmt.Fprintf(p.stdout, "Target version:  %s\n", CmdStyle.Render(target))
	if rel.Size > 0 {
		fmt.Fprintf(p.stdout, "Package size:    %s\n", selfupdate.FormatBytes(rel.Size))
	}
	printNotes(p, rel.Notes)

	if !p.yes {
		if !p.interactive {
			return userError(fmt.Errorf("%w; pass --yes to install unattended", errNotInteractive))
		}
		ok, err := p.confirm(ctx, tui.ConfirmOptions{
			Title:       fmt.Sprintf("Install %s over %s?", target, current),
			Description: "The current installation is backed up first and restored if the install fails.",
			Default:     true,
			Config:      tui.DefaultConfig(),
		})
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(p.stdout, "Installation skipped.")
			return nil
		}
	}

	res, err := installWithProgress(ctx, p, rel)
	if err != nil {
		if kind, ok := selfupdate.KindOf(err); ok && kind == selfupdate.KindInstallFailed {
			return newServiceError(err, 0, WarningStyle.Render("The install failed and the previous release was restored.")+"\n")
		}
		return err
	}

	fmt.Fprintln(p.stdout, SuccessStyle.Render(fmt.Sprintf("Installed %s (was %s) in %s",
		res.ToVersion, res.FromVersion, res.Duration.Round(time.Millisecond))))
	if res.BackupPath != "" {
		fmt.Fprintf(p.stdout, "Backup: %s\n", CmdStyle.Render(res.BackupPath))
	}
	pruneBackups(p.stdout, p.stderr, p.backups, p.keepBackups)
	return nil
}

func resolveRelease(ctx context.Context, releases releaseLookup, target string) (*selfupdate.ReleaseDescriptor, error) {
	if target == "" {
		rel, err := releases.LatestRelease(ctx)
		if err != nil {
			return nil, fmt.Errorf("finding the latest release: %w", err)
		}
		return rel, nil
	}
	rel, err := releases.GetRelease(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("finding release %s: %w", target, err)
	}
	return rel, nil
}

func printNotes(p installParams, notes string) {
	if notes == "" {
		return
	}
	if p.renderNotes != nil {
		if rendered, err := p.renderNotes(notes); err == nil {
			fmt.Fprint(p.stdout, rendered)
			return
		}
	}
	fmt.Fprintf(p.stdout, "\n%s\n\n", notes)
}

// installWithProgress runs the installation, printing progress lines and
// turning context cancellation (Ctrl-C) into a cancel request.
func installWithProgress(ctx context.Context, p installParams, rel *selfupdate.ReleaseDescriptor) (*selfupdate.InstallResult, error) {
	events, unsubscribe := p.installer.Subscribe(64)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		renderProgress(p.stdout, events)
	}()

	stopCancelWatch := context.AfterFunc(ctx, func() {
		attempt, active := p.installer.CurrentInstallation()
		if !active {
			return
		}
		switch {
		case p.installer.CancelInstallation():
			fmt.Fprintln(p.stderr, WarningStyle.Render("Cancelling..."))
		case attempt.Stage == selfupdate.StageInstalling:
			fmt.Fprintln(p.stderr, WarningStyle.Render("Cancel refused: the installation is past the point of no return."))
		}
	})

	res, err := p.installer.InstallUpdate(ctx, rel)
	stopCancelWatch()
	unsubscribe()
	<-rendered
	return res, err
}

// renderProgress prints one line per stage change and per progressStep
// percent within a stage. Terminal stages are reported by the caller.
func renderProgress(w io.Writer, events <-chan selfupdate.ProgressEvent) {
	lastStage, lastPct := selfupdate.StageIdle, -1
	for ev := range events {
		if ev.Stage.IsTerminal() {
			continue
		}
		if ev.Stage == lastStage && (ev.Progress == lastPct || ev.Progress < 100 && ev.Progress-lastPct < progressStep) {
			continue
		}
		lastStage, lastPct = ev.Stage, ev.Progress
		fmt.Fprintln(w, tui.ProgressLine(ev.Stage.String(), ev.Progress, ev.Message, 0))
	}
}

func pruneBackups(stdout, stderr io.Writer, backups backupPruner, keep int) {
	if backups == nil || keep <= 0 {
		return
	}
	removed, err := backups.Prune(keep)
	if err != nil {
		fmt.Fprintln(stderr, WarningStyle.Render("Warning: ")+"pruning old backups: "+err.Error())
		return
	}
	if len(removed) > 0 {
		fmt.Fprintf(stdout, "Pruned %d old backup(s), keeping %d.\n", len(removed), keep)
	}
}

// markdownRenderer renders release notes with glamour, in color only when w
// is a terminal.
func markdownRenderer(w io.Writer) func(string) (string, error) {
	return func(md string) (string, error) {
		return glamour.Render(md, issueStyle(w))
	}
}
