// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/opsreport/updatectl/internal/issue"
	"github.com/opsreport/updatectl/internal/testutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.cue")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Update.CheckIntervalHours != 24 || cfg.Update.AutoInstall || cfg.Update.HistoryRetention != 100 {
		t.Errorf("unexpected update defaults %+v", cfg.Update)
	}
	if cfg.Log.Level != LogLevelInfo || cfg.Log.Format != LogFormatText || cfg.UI.ColorScheme != ColorSchemeAuto {
		t.Errorf("unexpected log/ui defaults %+v %+v", cfg.Log, cfg.UI)
	}
	if valid, errs := cfg.IsValid(); !valid {
		t.Errorf("defaults should be valid: %v", errs)
	}
	if cfg.CheckInterval().Hours() != 24 {
		t.Errorf("expected 24h interval, got %s", cfg.CheckInterval())
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	cfg, path, err := LoadWithSource(t.Context(), LoadOptions{ConfigDirPath: t.TempDir(), DataDirPath: dataDir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path != "" {
		t.Errorf("expected no config file, got %q", path)
	}
	want := PathsConfig{
		InstallDir: filepath.Join(dataDir, "app"),
		BackupDir:  filepath.Join(dataDir, "backups"),
		WorkDir:    filepath.Join(dataDir, "work"),
		HistoryDB:  filepath.Join(dataDir, "history.db"),
	}
	if cfg.Paths != want {
		t.Errorf("expected defaulted paths %+v, got %+v", want, cfg.Paths)
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
app: name: "reporter"
registry: {
	url:   "https://releases.example.com/reporter"
	token: "s3cret"
}
paths: install_dir: "/srv/reporter"
update: {
	check_interval_hours: 6
	auto_install:         true
}
log: format: "json"
`)
	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path, DataDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Name != "reporter" || cfg.Registry.URL != "https://releases.example.com/reporter" || cfg.Registry.Token != "s3cret" {
		t.Errorf("unexpected app/registry %+v %+v", cfg.App, cfg.Registry)
	}
	if cfg.Paths.InstallDir != "/srv/reporter" || cfg.Paths.BackupDir == "" {
		t.Errorf("unexpected paths %+v", cfg.Paths)
	}
	if cfg.Update.CheckIntervalHours != 6 || !cfg.Update.AutoInstall || cfg.Update.HistoryRetention != 100 {
		t.Errorf("file values should merge over defaults, got %+v", cfg.Update)
	}
	if cfg.Log.Format != LogFormatJSON || cfg.Log.Level != LogLevelInfo {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Registry.UserAgent != "updatectl" {
		t.Errorf("expected default user agent, got %q", cfg.Registry.UserAgent)
	}
}

func TestLoad_RejectsBackupDirInsideInstallDir(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `paths: {
	install_dir: "/srv/reporter"
	backup_dir:  "/srv/reporter/backups"
}`)
	_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path, DataDirPath: t.TempDir()})
	if !errors.Is(err, ErrOverlappingPaths) {
		t.Fatalf("expected ErrOverlappingPaths, got %v", err)
	}
	if !strings.Contains(err.Error(), "paths.backup_dir") {
		t.Errorf("error should name the field, got %v", err)
	}
}

func TestLoad_ConfigDirLookup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.cue"), []byte(`ui: verbose: true`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, path, err := LoadWithSource(t.Context(), LoadOptions{ConfigDirPath: dir, DataDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path != filepath.Join(dir, "config.cue") || !cfg.UI.Verbose {
		t.Errorf("expected config from %s with verbose, got %q %+v", dir, path, cfg.UI)
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown field":  `update: retries: 3`,
		"bad enum":       `log: level: "trace"`,
		"out of bound":   `update: check_interval_hours: 0`,
		"wrong type":     `update: auto_install: "yes"`,
		"syntax error":   `update: {`,
		"empty app name": `app: name: ""`,
		"non-http url":   `registry: url: "ftp://releases.example.com"`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, body)
			_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path, DataDirPath: t.TempDir()})
			if err == nil {
				t.Fatal("expected error")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || ae.Issue != issue.ConfigLoadFailedId {
				t.Errorf("expected actionable config error, got %T: %v", err, err)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || !ae.HasSuggestions() {
		t.Fatalf("expected actionable error with suggestions, got %v", err)
	}
	if !strings.Contains(err.Error(), "nope.cue") {
		t.Errorf("error should name the file, got %v", err)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	// Not parallel: mutates the process environment.
	t.Cleanup(testutil.MustSetenv(t, "UPDATECTL_REGISTRY_TOKEN", "from-env"))
	t.Cleanup(testutil.MustSetenv(t, "UPDATECTL_UPDATE_AUTO_INSTALL", "true"))
	t.Cleanup(testutil.MustSetenv(t, "UPDATECTL_LOG_LEVEL", "debug"))

	path := writeConfig(t, `registry: token: "from-file"
log: level: "warn"`)
	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path, DataDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Registry.Token != "from-env" || !cfg.Update.AutoInstall || cfg.Log.Level != LogLevelDebug {
		t.Errorf("environment should win over file and defaults, got %+v %+v %+v", cfg.Registry, cfg.Update, cfg.Log)
	}
}

func TestLoad_InvalidEnvironmentValue(t *testing.T) {
	// Not parallel: mutates the process environment.
	t.Cleanup(testutil.MustSetenv(t, "UPDATECTL_LOG_FORMAT", "xml"))

	_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: t.TempDir(), DataDirPath: t.TempDir()})
	if !errors.Is(err, ErrInvalidLogFormat) {
		t.Fatalf("expected ErrInvalidLogFormat, got %v", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.App.Name = "reporter"
	cfg.App.CurrentVersion = "1.3.2"
	cfg.Registry.URL = "https://releases.example.com/reporter"
	cfg.Paths = PathsConfig{InstallDir: "/srv/reporter", BackupDir: "/var/backups/reporter", WorkDir: "/tmp/w", HistoryDB: "/var/lib/reporter/h.db"}
	cfg.Update.KeepBackups = 0
	cfg.UI.Verbose = true

	path := filepath.Join(t.TempDir(), "nested", "config.cue")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		t.Errorf("config file should not be group or world readable, got %v", info.Mode().Perm())
	}

	got, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load: %v\n%s", err, GenerateCUE(cfg))
	}
	if *got != *cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", *got, *cfg)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.cue")
	wrote, err := CreateDefaultConfig(path)
	if err != nil || !wrote {
		t.Fatalf("expected file written, got %v, %v", wrote, err)
	}
	if err := os.WriteFile(path, []byte(`ui: verbose: true`), 0o600); err != nil {
		t.Fatal(err)
	}
	wrote, err = CreateDefaultConfig(path)
	if err != nil || wrote {
		t.Fatalf("existing file must not be overwritten, got %v, %v", wrote, err)
	}
}

func TestConfigDir_Override(t *testing.T) {
	// Not parallel: mutates package-level overrides.
	t.Cleanup(Reset)

	SetConfigDirOverride("/custom/config")
	SetDataDirOverride("/custom/data")
	if dir, err := ConfigDir(); err != nil || dir != "/custom/config" {
		t.Errorf("ConfigDir() = %q, %v", dir, err)
	}
	if dir, err := DataDir(); err != nil || dir != "/custom/data" {
		t.Errorf("DataDir() = %q, %v", dir, err)
	}
	if p, err := DefaultConfigPath(); err != nil || p != filepath.Join("/custom/config", "config.cue") {
		t.Errorf("DefaultConfigPath() = %q, %v", p, err)
	}
}

func TestConfigDir_XDG(t *testing.T) {
	// Not parallel: mutates the process environment.
	if runtime.GOOS != "linux" {
		t.Skip("XDG lookup only applies on Linux")
	}
	t.Cleanup(testutil.MustSetenv(t, "XDG_CONFIG_HOME", "/tmp/xdg-config"))
	t.Cleanup(testutil.MustSetenv(t, "XDG_DATA_HOME", "/tmp/xdg-data"))

	if dir, err := ConfigDir(); err != nil || dir != filepath.Join("/tmp/xdg-config", "updatectl") {
		t.Errorf("ConfigDir() = %q, %v", dir, err)
	}
	if dir, err := DataDir(); err != nil || dir != filepath.Join("/tmp/xdg-data", "updatectl") {
		t.Errorf("DataDir() = %q, %v", dir, err)
	}
}
