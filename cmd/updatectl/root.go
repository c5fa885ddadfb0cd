// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/opsreport/updatectl/internal/logging"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "updatectl",
		Short: "Keep an application installation up to date",
		Long: TitleStyle.Render("updatectl") + SubtitleStyle.Render(" - update, back up and roll back an installed application") + `

updatectl polls a release registry, downloads and verifies update packages,
snapshots the current installation before replacing it and restores that
snapshot when an install fails. Every attempt is recorded in a local history.

` + SubtitleStyle.Render("Examples:") + `
  updatectl check              Compare the installed version with the registry
  updatectl install --yes      Install the latest release without prompting
  updatectl history --limit 5  Show the last five attempts
  updatectl backup list        List snapshots of previous installations
  updatectl serve              Check periodically and optionally auto-install`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			app.stdout = cmd.OutOrStdout()
			app.stderr = cmd.ErrOrStderr()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/updatectl/config.cue)")

	rootCmd.AddCommand(
		newCheckCommand(app),
		newInstallCommand(app),
		newHistoryCommand(app),
		newBackupCommand(app),
		newServeCommand(app),
		newConfigCommand(app),
		newVersionCommand(),
		newCompletionCommand(),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process with the classified exit code.
func Execute() {
	logging.Install(log.NewWithOptions(os.Stderr, log.Options{Prefix: "updatectl"}))

	app := NewApp(Dependencies{})
	rootCmd := NewRootCommand(app)

	err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		// reportError prints errors with the issue catalog instead.
		fang.WithErrorHandler(func(io.Writer, fang.Styles, error) {}),
	)
	if err != nil {
		os.Exit(int(reportError(app.stderr, err, app.verbose)))
	}
}
