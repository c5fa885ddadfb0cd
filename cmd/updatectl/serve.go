// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/opsreport/updatectl/internal/appdir"
	"github.com/opsreport/updatectl/internal/logging"
	"github.com/opsreport/updatectl/internal/selfupdate"
	"github.com/opsreport/updatectl/internal/watch"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// serveDebounce coalesces the events of one directory swap.
const serveDebounce = time.Second

type serveParams struct {
	stdout      io.Writer
	logger      *log.Logger
	newChecker  func(opts ...selfupdate.CheckerOption) *selfupdate.Checker
	installer   *selfupdate.Installer
	backups     backupPruner
	installDir  string
	interval    time.Duration
	autoInstall bool
	keepBackups int
	debounce    time.Duration
}

func newServeCommand(app *App) *cobra.Command {
	var autoInstall bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Check for updates periodically until interrupted",
		Long: `Run in the foreground, checking the registry immediately and then every
update.check_interval_hours. When update.auto_install is set (or
--auto-install is passed) a newer release is installed as soon as it is
found and old backups are pruned afterwards.

The install directory is watched as well: when its manifest reports a new
version, whoever installed it, the next check runs right away.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			if err := svc.requireRegistry(); err != nil {
				return err
			}

			if !cmd.Flags().Changed("auto-install") {
				autoInstall = svc.cfg.Update.AutoInstall
			}
			return runServe(cmd.Context(), serveParams{
				stdout:      app.stdout,
				logger:      svc.logger,
				newChecker:  svc.newChecker,
				installer:   svc.installer,
				backups:     svc.backups,
				installDir:  svc.cfg.Paths.InstallDir,
				interval:    svc.cfg.CheckInterval(),
				autoInstall: autoInstall,
				keepBackups: svc.cfg.Update.KeepBackups,
				debounce:    serveDebounce,
			})
		},
	}
	cmd.Flags().BoolVar(&autoInstall, "auto-install", false, "install newer releases without asking (default from update.auto_install)")
	return cmd
}

// runServe runs the periodic checker and the manifest watcher until ctx ends.
func runServe(ctx context.Context, p serveParams) error {
	logger := p.logger
	if logger == nil {
		logger = log.Default()
	}

	checker := p.newChecker(selfupdate.WithUpdateHandler(func(ctx context.Context, rel selfupdate.ReleaseDescriptor) {
		if !p.autoInstall {
			logger.Info("update available", "version", rel.Version, "hint", "run 'updatectl install'")
			return
		}
		installAvailable(ctx, logger, p, rel)
	}))

	// The watcher needs the parent to exist even before the first install.
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(p.installDir)), 0o755); err != nil {
		return fmt.Errorf("preparing install directory parent: %w", err)
	}

	mw, err := watch.NewManifestWatcher(p.installDir, p.debounce, logging.Component(logger, "watch"),
		func(ctx context.Context, _, _ appdir.Manifest) error {
			checker.StartPeriodicChecking(ctx, p.interval)
			return nil
		})
	if err != nil {
		return fmt.Errorf("watching %s: %w", p.installDir, err)
	}

	mode := "off"
	if p.autoInstall {
		mode = "on"
	}
	fmt.Fprintf(p.stdout, "Checking for updates every %s (auto-install %s). Press Ctrl-C to stop.\n", p.interval, mode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mw.Run(gctx)
	})
	g.Go(func() error {
		checker.StartPeriodicChecking(gctx, p.interval)
		<-gctx.Done()
		checker.StopPeriodicChecking()
		return nil
	})
	err = g.Wait()
	// A version change racing shutdown may have restarted the loop.
	checker.StopPeriodicChecking()
	if err != nil {
		return err
	}
	if st := checker.Status(); !st.LastCheck.IsZero() {
		logger.Info("checker stopped", "last_check", st.LastCheck, "version", st.CurrentVersion, "last_error", st.LastError)
	}
	fmt.Fprintln(p.stdout, "Stopped.")
	return nil
}

func installAvailable(ctx context.Context, logger *log.Logger, p serveParams, rel selfupdate.ReleaseDescriptor) {
	logger.Info("installing update", "version", rel.Version)
	res, err := p.installer.InstallUpdate(ctx, &rel)
	if err != nil {
		logger.Error("automatic install failed", "version", rel.Version, "error", err)
		return
	}
	logger.Info("update installed",
		"from", res.FromVersion,
		"to", res.ToVersion,
		"backup", res.BackupPath,
		"duration", res.Duration,
	)

	if p.backups == nil || p.keepBackups <= 0 {
		return
	}
	removed, err := p.backups.Prune(p.keepBackups)
	if err != nil {
		logger.Warn("pruning old backups failed", "error", err)
		return
	}
	if len(removed) > 0 {
		logger.Info("old backups pruned", "removed", len(removed), "kept", p.keepBackups)
	}
}
