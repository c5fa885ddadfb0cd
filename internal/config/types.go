// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

const (
	// LogLevelDebug logs everything, including dropped progress events.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs failed checks and history write failures.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs only failures and critical alerts.
	LogLevelError LogLevel = "error"

	// LogFormatText is human-readable, colored when attached to a terminal.
	LogFormatText LogFormat = "text"
	// LogFormatJSON emits one JSON object per line.
	LogFormatJSON LogFormat = "json"
	// LogFormatLogfmt emits key=value lines.
	LogFormatLogfmt LogFormat = "logfmt"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultCheckIntervalHours is the periodic check interval.
	DefaultCheckIntervalHours = 24
	// DefaultHistoryRetention is how many history records are kept.
	DefaultHistoryRetention = 100
	// DefaultKeepBackups is how many valid backups survive a successful install.
	DefaultKeepBackups = 5
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidRegistryURL is returned when registry.url is set but not an absolute http(s) URL.
	ErrInvalidRegistryURL = errors.New("invalid registry url")
	// ErrInvalidUpdateConfig is the sentinel error wrapped by InvalidUpdateConfigError.
	ErrInvalidUpdateConfig = errors.New("invalid update config")
	// ErrOverlappingPaths is returned when a state path lies inside paths.install_dir,
	// where the next install would copy it into backups and then replace it.
	ErrOverlappingPaths = errors.New("path overlaps install_dir")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level written by the logger.
	LogLevel string

	// LogFormat selects the log line encoding.
	LogFormat string

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// RegistryURL is the base URL of the release registry. Empty means unset.
	RegistryURL string

	// InvalidValueError reports an unrecognized enum-like value. It unwraps to
	// the sentinel of the field it belongs to.
	InvalidValueError struct {
		Field    string
		Value    string
		sentinel error
	}

	// InvalidUpdateConfigError collects update.* field errors.
	InvalidUpdateConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError collects every field error of a Config.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		App      AppConfig      `json:"app" mapstructure:"app"`
		Registry RegistryConfig `json:"registry" mapstructure:"registry"`
		Paths    PathsConfig    `json:"paths" mapstructure:"paths"`
		Update   UpdateConfig   `json:"update" mapstructure:"update"`
		Log      LogConfig      `json:"log" mapstructure:"log"`
		UI       UIConfig       `json:"ui" mapstructure:"ui"`
	}

	// AppConfig describes the managed application.
	AppConfig struct {
		// Name is written into manifests and backup metadata.
		Name string `json:"name" mapstructure:"name"`
		// CurrentVersion is used when the install manifest is missing.
		CurrentVersion string `json:"current_version" mapstructure:"current_version"`
	}

	// RegistryConfig locates the release registry.
	RegistryConfig struct {
		URL       RegistryURL `json:"url" mapstructure:"url"`
		Token     string      `json:"token" mapstructure:"token"`
		UserAgent string      `json:"user_agent" mapstructure:"user_agent"`
	}

	// PathsConfig holds the on-disk locations. Empty values are filled from
	// the platform data directory at load time.
	PathsConfig struct {
		InstallDir string `json:"install_dir" mapstructure:"install_dir"`
		BackupDir  string `json:"backup_dir" mapstructure:"backup_dir"`
		WorkDir    string `json:"work_dir" mapstructure:"work_dir"`
		HistoryDB  string `json:"history_db" mapstructure:"history_db"`
	}

	// UpdateConfig tunes checking, installing and retention.
	UpdateConfig struct {
		CheckIntervalHours int  `json:"check_interval_hours" mapstructure:"check_interval_hours"`
		AutoInstall        bool `json:"auto_install" mapstructure:"auto_install"`
		HistoryRetention   int  `json:"history_retention" mapstructure:"history_retention"`
		// KeepBackups is how many backups survive a successful install; 0 keeps all.
		KeepBackups int `json:"keep_backups" mapstructure:"keep_backups"`
	}

	// LogConfig configures the root logger.
	LogConfig struct {
		Level  LogLevel  `json:"level" mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
	}
)

// DefaultConfig returns the built-in defaults. Paths stay empty until load.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Name: "app"},
		Registry: RegistryConfig{
			UserAgent: "updatectl",
		},
		Update: UpdateConfig{
			CheckIntervalHours: DefaultCheckIntervalHours,
			AutoInstall:        false,
			HistoryRetention:   DefaultHistoryRetention,
			KeepBackups:        DefaultKeepBackups,
		},
		Log: LogConfig{Level: LogLevelInfo, Format: LogFormatText},
		UI:  UIConfig{ColorScheme: ColorSchemeAuto},
	}
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

func (e *InvalidValueError) Unwrap() error { return e.sentinel }

// IsValid reports whether l is a known level.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidValueError{Field: "log level", Value: string(l), sentinel: ErrInvalidLogLevel}}
	}
}

// IsValid reports whether f is a known format.
func (f LogFormat) IsValid() (bool, []error) {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatLogfmt:
		return true, nil
	default:
		return false, []error{&InvalidValueError{Field: "log format", Value: string(f), sentinel: ErrInvalidLogFormat}}
	}
}

// IsValid reports whether c is a known color scheme.
func (c ColorScheme) IsValid() (bool, []error) {
	switch c {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidValueError{Field: "color scheme", Value: string(c), sentinel: ErrInvalidColorScheme}}
	}
}

// IsValid accepts the empty URL (unset) and absolute http(s) URLs.
func (u RegistryURL) IsValid() (bool, []error) {
	if u == "" {
		return true, nil
	}
	parsed, err := url.Parse(string(u))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return false, []error{&InvalidValueError{Field: "registry url", Value: string(u), sentinel: ErrInvalidRegistryURL}}
	}
	return true, nil
}

// String returns the URL without a trailing slash.
func (u RegistryURL) String() string { return strings.TrimRight(string(u), "/") }

// IsValid checks numeric bounds that CUE also enforces for file input; env
// overrides bypass the schema so they are checked again here.
func (c UpdateConfig) IsValid() (bool, []error) {
	var errs []error
	if c.CheckIntervalHours < 1 {
		errs = append(errs, fmt.Errorf("update.check_interval_hours must be >= 1, got %d", c.CheckIntervalHours))
	}
	if c.HistoryRetention < 1 {
		errs = append(errs, fmt.Errorf("update.history_retention must be >= 1, got %d", c.HistoryRetention))
	}
	if c.KeepBackups < 0 {
		errs = append(errs, fmt.Errorf("update.keep_backups must be >= 0, got %d", c.KeepBackups))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidUpdateConfigError{FieldErrors: errs}}
	}
	return true, nil
}

func (e *InvalidUpdateConfigError) Error() string {
	return fmt.Sprintf("invalid update config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidUpdateConfig for errors.Is() compatibility.
func (e *InvalidUpdateConfigError) Unwrap() error { return ErrInvalidUpdateConfig }

// IsValid rejects backup_dir, work_dir and history_db when they equal or sit
// under install_dir. Empty paths are skipped; they are filled at load time.
func (p PathsConfig) IsValid() (bool, []error) {
	if p.InstallDir == "" {
		return true, nil
	}
	install, err := filepath.Abs(p.InstallDir)
	if err != nil {
		return false, []error{fmt.Errorf("paths.install_dir: %w", err)}
	}

	var errs []error
	for _, f := range []struct {
		name, path string
	}{
		{"paths.backup_dir", p.BackupDir},
		{"paths.work_dir", p.WorkDir},
		{"paths.history_db", p.HistoryDB},
	} {
		if f.path == "" {
			continue
		}
		abs, err := filepath.Abs(f.path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		if isWithin(install, abs) {
			errs = append(errs, fmt.Errorf("%w: %s %q is inside %q", ErrOverlappingPaths, f.name, f.path, p.InstallDir))
		}
	}
	if len(errs) > 0 {
		return false, errs
	}
	return true, nil
}

// isWithin reports whether path is dir or below it.
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// IsValid validates every typed field of c.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	for _, check := range []func() (bool, []error){
		c.Registry.URL.IsValid,
		c.Update.IsValid,
		c.Paths.IsValid,
		c.Log.Level.IsValid,
		c.Log.Format.IsValid,
		c.UI.ColorScheme.IsValid,
	} {
		if valid, fieldErrs := check(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if strings.TrimSpace(c.App.Name) == "" {
		errs = append(errs, errors.New("app.name must not be empty"))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig and the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// CheckInterval returns update.check_interval_hours as a duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Update.CheckIntervalHours) * time.Hour
}
