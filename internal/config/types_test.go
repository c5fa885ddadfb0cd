// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
)

func TestEnumValidators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		check    func() (bool, []error)
		valid    bool
		sentinel error
	}{
		{"level debug", LogLevelDebug.IsValid, true, nil},
		{"level trace", LogLevel("trace").IsValid, false, ErrInvalidLogLevel},
		{"format logfmt", LogFormatLogfmt.IsValid, true, nil},
		{"format empty", LogFormat("").IsValid, false, ErrInvalidLogFormat},
		{"scheme light", ColorSchemeLight.IsValid, true, nil},
		{"scheme neon", ColorScheme("neon").IsValid, false, ErrInvalidColorScheme},
		{"url unset", RegistryURL("").IsValid, true, nil},
		{"url https", RegistryURL("https://releases.example.com/api/").IsValid, true, nil},
		{"url relative", RegistryURL("/releases").IsValid, false, ErrInvalidRegistryURL},
		{"url no host", RegistryURL("https://").IsValid, false, ErrInvalidRegistryURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			valid, errs := tt.check()
			if valid != tt.valid {
				t.Fatalf("valid = %v, want %v (%v)", valid, tt.valid, errs)
			}
			if tt.sentinel != nil && (len(errs) != 1 || !errors.Is(errs[0], tt.sentinel)) {
				t.Errorf("expected %v, got %v", tt.sentinel, errs)
			}
		})
	}
}

func TestUpdateConfig_IsValid(t *testing.T) {
	t.Parallel()

	c := UpdateConfig{CheckIntervalHours: 0, HistoryRetention: 0, KeepBackups: -1}
	valid, errs := c.IsValid()
	if valid || len(errs) != 1 || !errors.Is(errs[0], ErrInvalidUpdateConfig) {
		t.Fatalf("expected one InvalidUpdateConfigError, got %v", errs)
	}
	var ue *InvalidUpdateConfigError
	if !errors.As(errs[0], &ue) || len(ue.FieldErrors) != 3 {
		t.Errorf("expected 3 field errors, got %+v", ue)
	}
}

func TestConfig_IsValidCollectsEverything(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.App.Name = " "
	cfg.Log.Level = "loud"
	cfg.Registry.URL = "nope"

	valid, errs := cfg.IsValid()
	if valid {
		t.Fatal("expected invalid config")
	}
	err := errs[0]
	for _, sentinel := range []error{ErrInvalidConfig, ErrInvalidLogLevel, ErrInvalidRegistryURL} {
		if !errors.Is(err, sentinel) {
			t.Errorf("expected %v in %v", sentinel, err)
		}
	}
	var ce *InvalidConfigError
	if !errors.As(err, &ce) || len(ce.FieldErrors) != 3 {
		t.Errorf("expected 3 field errors, got %+v", ce)
	}
	if RegistryURL("https://x.example.com/api/").String() != "https://x.example.com/api" {
		t.Error("String() should trim the trailing slash")
	}
}

func TestPathsConfig_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		paths PathsConfig
		bad   int
	}{
		{"siblings", PathsConfig{InstallDir: "/srv/app", BackupDir: "/srv/backups", WorkDir: "/srv/work", HistoryDB: "/srv/history.db"}, 0},
		{"shared prefix is not nesting", PathsConfig{InstallDir: "/srv/app", BackupDir: "/srv/app-backups"}, 0},
		{"unset", PathsConfig{}, 0},
		{"backup inside install", PathsConfig{InstallDir: "/srv/app", BackupDir: "/srv/app/backups"}, 1},
		{"work equals install", PathsConfig{InstallDir: "/srv/app", WorkDir: "/srv/app/"}, 1},
		{"relative nesting", PathsConfig{InstallDir: "app", BackupDir: "app/../app/b", HistoryDB: "app/h.db"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			valid, errs := tt.paths.IsValid()
			if valid != (tt.bad == 0) || len(errs) != tt.bad {
				t.Fatalf("expected %d errors, got valid=%v %v", tt.bad, valid, errs)
			}
			for _, err := range errs {
				if !errors.Is(err, ErrOverlappingPaths) {
					t.Errorf("expected ErrOverlappingPaths, got %v", err)
				}
			}
		})
	}
}
