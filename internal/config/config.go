// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/opsreport/updatectl/internal/issue"
	"github.com/opsreport/updatectl/pkg/cueutil"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "updatectl"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides: UPDATECTL_LOG_LEVEL sets log.level.
	EnvPrefix = "UPDATECTL"
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the updatectl configuration directory using platform
// conventions: %APPDATA% on Windows, ~/Library/Application Support on macOS,
// $XDG_CONFIG_HOME (default ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// DataDir returns the directory holding backups, downloads and the history
// database: %LOCALAPPDATA% on Windows, ~/Library/Application Support on macOS,
// $XDG_DATA_HOME (default ~/.local/share) elsewhere.
func DataDir() (string, error) {
	if dataDirOverride != "" {
		return dataDirOverride, nil
	}

	var dataDir string
	switch runtime.GOOS {
	case "windows":
		dataDir = os.Getenv("LOCALAPPDATA")
		if dataDir == "" {
			dataDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, "Library", "Application Support")
	default:
		dataDir = os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(home, ".local", "share")
		}
	}

	return filepath.Join(dataDir, AppName), nil
}

// DefaultConfigPath returns <ConfigDir>/config.cue.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// loadWithOptions performs option-driven config loading and returns the
// config together with the file it came from ("" when only defaults and
// environment applied).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", loadError(opts.ConfigFilePath, fmt.Errorf("config file not found: %s", opts.ConfigFilePath),
				"Verify the file path is correct",
				"Run 'updatectl config init' to write a default configuration")
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}
		if cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt); fileExists(cuePath) {
			resolvedPath = cuePath
		}
		// No file: defaults and environment only.
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", loadError(resolvedPath, err,
				"Check that the file contains valid CUE syntax",
				"Verify the values match the schema shown by 'updatectl config show --schema'")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyPathDefaults(&cfg, opts.DataDirPath); err != nil {
		return nil, "", err
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Check UPDATECTL_* environment variables as well as the config file").
			Wrap(errors.Join(errs...)).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func loadError(path string, err error, suggestions ...string) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithIssue(issue.ConfigLoadFailedId).
		WithSuggestions(suggestions...).
		Wrap(err).
		BuildError()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app.name", d.App.Name)
	v.SetDefault("app.current_version", d.App.CurrentVersion)
	v.SetDefault("registry.url", string(d.Registry.URL))
	v.SetDefault("registry.token", d.Registry.Token)
	v.SetDefault("registry.user_agent", d.Registry.UserAgent)
	v.SetDefault("paths.install_dir", d.Paths.InstallDir)
	v.SetDefault("paths.backup_dir", d.Paths.BackupDir)
	v.SetDefault("paths.work_dir", d.Paths.WorkDir)
	v.SetDefault("paths.history_db", d.Paths.HistoryDB)
	v.SetDefault("update.check_interval_hours", d.Update.CheckIntervalHours)
	v.SetDefault("update.auto_install", d.Update.AutoInstall)
	v.SetDefault("update.history_retention", d.Update.HistoryRetention)
	v.SetDefault("update.keep_backups", d.Update.KeepBackups)
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("ui.color_scheme", string(d.UI.ColorScheme))
	v.SetDefault("ui.verbose", d.UI.Verbose)
}

// applyPathDefaults fills empty paths under the data directory.
func applyPathDefaults(cfg *Config, dataDirPath string) error {
	p := &cfg.Paths
	if p.InstallDir != "" && p.BackupDir != "" && p.WorkDir != "" && p.HistoryDB != "" {
		return nil
	}

	dataDir := dataDirPath
	if dataDir == "" {
		var err error
		if dataDir, err = DataDir(); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		field *string
		name  string
	}{
		{&p.InstallDir, "app"},
		{&p.BackupDir, "backups"},
		{&p.WorkDir, "work"},
		{&p.HistoryDB, "history.db"},
	} {
		if *f.field == "" {
			*f.field = filepath.Join(dataDir, f.name)
		}
	}
	return nil
}

func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// loadCUEIntoViper validates the file against #Config and merges its values
// over the defaults already registered in v.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	configMap, err := cueutil.ParseAndDecode[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Schema returns the embedded CUE schema.
func Schema() string {
	return string(configSchema)
}

// CreateDefaultConfig writes the default configuration to path unless a file
// already exists there. It reports whether a file was written.
func CreateDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := Save(DefaultConfig(), path); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes cfg as CUE to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// The file may hold a registry token.
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg as a config file. Empty strings are left out so
// their defaults still apply on load.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// updatectl configuration\n")
	sb.WriteString("// Environment variables UPDATECTL_<SECTION>_<KEY> override these values.\n")

	section := func(name string, fields [][2]string) {
		var body []string
		for _, f := range fields {
			if f[1] != "" {
				body = append(body, fmt.Sprintf("\t%s: %s", f[0], f[1]))
			}
		}
		if len(body) == 0 {
			return
		}
		fmt.Fprintf(&sb, "\n%s: {\n%s\n}\n", name, strings.Join(body, "\n"))
	}
	str := func(s string) string {
		if s == "" {
			return ""
		}
		return fmt.Sprintf("%q", s)
	}

	section("app", [][2]string{
		{"name", str(cfg.App.Name)},
		{"current_version", str(cfg.App.CurrentVersion)},
	})
	section("registry", [][2]string{
		{"url", str(string(cfg.Registry.URL))},
		{"token", str(cfg.Registry.Token)},
		{"user_agent", str(cfg.Registry.UserAgent)},
	})
	section("paths", [][2]string{
		{"install_dir", str(cfg.Paths.InstallDir)},
		{"backup_dir", str(cfg.Paths.BackupDir)},
		{"work_dir", str(cfg.Paths.WorkDir)},
		{"history_db", str(cfg.Paths.HistoryDB)},
	})
	section("update", [][2]string{
		{"check_interval_hours", fmt.Sprint(cfg.Update.CheckIntervalHours)},
		{"auto_install", fmt.Sprint(cfg.Update.AutoInstall)},
		{"history_retention", fmt.Sprint(cfg.Update.HistoryRetention)},
		{"keep_backups", fmt.Sprint(cfg.Update.KeepBackups)},
	})
	section("log", [][2]string{
		{"level", str(string(cfg.Log.Level))},
		{"format", str(string(cfg.Log.Format))},
	})
	section("ui", [][2]string{
		{"color_scheme", str(string(cfg.UI.ColorScheme))},
		{"verbose", fmt.Sprint(cfg.UI.Verbose)},
	})

	return sb.String()
}
