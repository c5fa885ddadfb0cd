// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/opsreport/updatectl/internal/config"
	"github.com/opsreport/updatectl/internal/history"
	"github.com/opsreport/updatectl/internal/issue"
	"github.com/opsreport/updatectl/internal/logging"
	"github.com/opsreport/updatectl/internal/rollback"
	"github.com/opsreport/updatectl/internal/selfupdate"
	"github.com/opsreport/updatectl/internal/tui"

	"github.com/charmbracelet/log"
)

// errRegistryNotConfigured is returned by commands that need the registry
// when registry.url is empty.
var errRegistryNotConfigured = errors.New("registry.url is not configured")

type (
	// confirmFunc asks the operator a yes/no question.
	confirmFunc func(ctx context.Context, opts tui.ConfirmOptions) (bool, error)

	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and builds what it needs through it.
	App struct {
		Config      config.Provider
		stdout      io.Writer
		stderr      io.Writer
		confirm     confirmFunc
		interactive func() bool
		httpClient  *http.Client

		// Set from persistent flags before a command runs.
		configPath string
		verbose    bool
	}

	// Dependencies are the injection points for NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config      config.Provider
		Stdout      io.Writer
		Stderr      io.Writer
		Confirm     confirmFunc
		Interactive func() bool
		HTTPClient  *http.Client
	}

	// services are the long-lived objects one command invocation works with.
	services struct {
		cfg       *config.Config
		logger    *log.Logger
		registry  *selfupdate.RegistryClient
		backups   *rollback.Manager
		history   *history.Service
		installer *selfupdate.Installer
	}
)

// NewApp builds an App, filling unset dependencies with defaults.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Confirm == nil {
		deps.Confirm = tui.Confirm
	}
	if deps.Interactive == nil {
		deps.Interactive = tui.IsInteractive
	}
	return &App{
		Config:      deps.Config,
		stdout:      deps.Stdout,
		stderr:      deps.Stderr,
		confirm:     deps.Confirm,
		interactive: deps.Interactive,
		httpClient:  deps.HTTPClient,
	}
}

func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: a.configPath}
}

// loadConfig loads configuration and lets ui.verbose turn on verbose output.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, a.loadOptions())
	if err != nil {
		return nil, err
	}
	if cfg.UI.Verbose {
		a.verbose = true
	}
	return cfg, nil
}

func (a *App) newLogger(cfg *config.Config) *log.Logger {
	logger := logging.New(a.stderr, cfg.Log)
	if a.verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// openServices loads configuration and wires the registry client, backup
// manager, history store and installer. The caller closes the result.
func (a *App) openServices(ctx context.Context) (*services, error) {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	logger := a.newLogger(cfg)

	clientOpts := []selfupdate.ClientOption{
		selfupdate.WithUserAgent(cfg.Registry.UserAgent + "/" + Version),
	}
	if cfg.Registry.Token != "" {
		clientOpts = append(clientOpts, selfupdate.WithToken(cfg.Registry.Token))
	}
	if a.httpClient != nil {
		clientOpts = append(clientOpts, selfupdate.WithHTTPClient(a.httpClient))
	}
	registry := selfupdate.NewRegistryClient(cfg.Registry.URL.String(), clientOpts...)

	backups := rollback.NewManager(cfg.Paths.InstallDir, cfg.Paths.BackupDir,
		rollback.WithAppName(cfg.App.Name),
		rollback.WithLogger(logging.Component(logger, "rollback")),
	)

	hist, err := history.Open(ctx, cfg.Paths.HistoryDB,
		history.WithRetention(cfg.Update.HistoryRetention),
		history.WithLogger(logging.Component(logger, "history")),
	)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("open update history").
			WithResource(cfg.Paths.HistoryDB).
			WithIssue(issue.HistoryUnavailableId).
			WithSuggestion("Check that paths.history_db points to a writable location").
			Wrap(err).
			BuildError()
	}

	installer := selfupdate.NewInstaller(
		selfupdate.InstallerConfig{
			InstallDir:      cfg.Paths.InstallDir,
			WorkDir:         cfg.Paths.WorkDir,
			AppName:         cfg.App.Name,
			FallbackVersion: cfg.App.CurrentVersion,
		},
		registry,
		backups,
		selfupdate.WithHistory(hist),
		selfupdate.WithInstallerLogger(logging.Component(logger, "installer")),
		selfupdate.WithCriticalAlert(criticalAlert(a.stderr, logger)),
	)

	return &services{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		backups:   backups,
		history:   hist,
		installer: installer,
	}, nil
}

// newChecker returns a checker comparing the installed version with the registry.
func (s *services) newChecker(opts ...selfupdate.CheckerOption) *selfupdate.Checker {
	opts = append([]selfupdate.CheckerOption{
		selfupdate.WithCheckerLogger(logging.Component(s.logger, "checker")),
	}, opts...)
	return selfupdate.NewChecker(s.registry, s.installer.CurrentVersion, opts...)
}

func (s *services) requireRegistry() error {
	if s.cfg.Registry.URL != "" {
		return nil
	}
	return userError(issue.NewErrorContext().
		WithOperation("contact the release registry").
		WithSuggestion("Set registry.url in the configuration file or UPDATECTL_REGISTRY_URL").
		WithIssue(issue.ConfigLoadFailedId).
		Wrap(errRegistryNotConfigured).
		BuildError())
}

func (s *services) Close() error {
	if s.history == nil {
		return nil
	}
	return s.history.Close()
}

// criticalAlert logs a failed rollback at error level with severity=critical
// and prints a banner telling the operator how to repair the installation.
func criticalAlert(stderr io.Writer, logger *log.Logger) selfupdate.AlertFunc {
	return func(_ context.Context, a selfupdate.Alert) {
		logger.Error("rollback failed, installation may be inconsistent",
			"severity", "critical",
			"from", a.FromVersion,
			"to", a.ToVersion,
			"backup", a.BackupPath,
			"error", a.Err,
		)
		fmt.Fprintln(stderr, criticalBannerStyle.Render("ROLLBACK FAILED: the installation may be inconsistent"))
		if a.BackupPath != "" {
			fmt.Fprintf(stderr, "Restore it manually with: %s\n",
				CmdStyle.Render("updatectl backup restore "+a.BackupPath))
		}
	}
}
