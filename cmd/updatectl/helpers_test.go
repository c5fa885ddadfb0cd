// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opsreport/updatectl/internal/config"
	"github.com/opsreport/updatectl/internal/testutil"
	"github.com/opsreport/updatectl/internal/tui"
)

const testPackagePath = "/packages/reporter-1.4.0.tar.gz"

var installedTree = map[string]string{
	"manifest.json":    `{"name":"reporter","version":"1.3.2"}`,
	"bin/reporter":     "reporter 1.3.2",
	"templates/a.tmpl": "old template",
}

var packagedTree = map[string]string{
	"manifest.json":    `{"name":"reporter","version":"1.4.0"}`,
	"bin/reporter":     "reporter 1.4.0",
	"templates/a.tmpl": "new template",
	"templates/b.tmpl": "added template",
}

type (
	// testRelease is the registry wire format.
	testRelease struct {
		Version     string    `json:"version"`
		DownloadURL string    `json:"download_url"`
		Checksum    string    `json:"checksum"`
		Size        int64     `json:"size"`
		Notes       string    `json:"notes"`
		PublishedAt time.Time `json:"published_at"`
	}

	// cliEnv is a temp installation, a registry serving one newer release and
	// a config file pointing at both.
	cliEnv struct {
		root       string
		configPath string
		installDir string
		backupDir  string
		historyDB  string
		server     *httptest.Server

		// nonInteractive makes the app behave as if stdin were not a terminal.
		nonInteractive bool

		mu       sync.Mutex
		pkg      []byte
		releases []testRelease
	}
)

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	root := t.TempDir()
	env := &cliEnv{
		root:       root,
		configPath: filepath.Join(root, "config.cue"),
		installDir: filepath.Join(root, "install", "reporter"),
		backupDir:  filepath.Join(root, "backups"),
		historyDB:  filepath.Join(root, "state", "history.db"),
		pkg:        testutil.BuildTarGz(t, packagedTree),
	}
	testutil.WriteTree(t, env.installDir, installedTree)

	env.server = httptest.NewServer(http.HandlerFunc(env.serve))
	t.Cleanup(env.server.Close)

	env.setReleases(env.packagedRelease())

	env.saveConfig(t, func(*config.Config) {})
	return env
}

func (e *cliEnv) setReleases(rels ...testRelease) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releases = rels
}

// setPackage replaces the package body served at testPackagePath.
func (e *cliEnv) setPackage(pkg []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pkg = pkg
}

// packagedRelease describes the served package as version 1.4.0.
func (e *cliEnv) packagedRelease() testRelease {
	e.mu.Lock()
	defer e.mu.Unlock()
	return testRelease{
		Version:     "1.4.0",
		DownloadURL: e.server.URL + testPackagePath,
		Checksum:    testutil.SHA256Hex(e.pkg),
		Size:        int64(len(e.pkg)),
		Notes:       "## Changes\n\n- Faster report rendering",
		PublishedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (e *cliEnv) serve(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	releases, pkg := e.releases, e.pkg
	e.mu.Unlock()

	switch {
	case r.URL.Path == testPackagePath:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pkg)
	case r.URL.Path == "/releases":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(releases)
	case strings.HasPrefix(r.URL.Path, "/releases/"):
		version := strings.TrimPrefix(r.URL.Path, "/releases/")
		for _, rel := range releases {
			if rel.Version == version {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(rel)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// saveConfig writes the env's config file after letting mutate adjust it.
func (e *cliEnv) saveConfig(t *testing.T, mutate func(*config.Config)) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.App.Name = "reporter"
	cfg.Registry.URL = config.RegistryURL(e.server.URL)
	cfg.Paths = config.PathsConfig{
		InstallDir: e.installDir,
		BackupDir:  e.backupDir,
		WorkDir:    filepath.Join(e.root, "work"),
		HistoryDB:  e.historyDB,
	}
	cfg.Log.Level = config.LogLevelWarn
	mutate(cfg)
	if err := config.Save(cfg, e.configPath); err != nil {
		t.Fatalf("saving config: %v", err)
	}
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// run executes the command tree with args against the env's config file.
// confirm answers every prompt; nil means prompts fail the test.
func (e *cliEnv) run(t *testing.T, confirm confirmFunc, args ...string) cliResult {
	t.Helper()
	return e.runContext(t, t.Context(), confirm, args...)
}

func (e *cliEnv) runContext(t *testing.T, ctx context.Context, confirm confirmFunc, args ...string) cliResult {
	t.Helper()

	if confirm == nil {
		confirm = func(context.Context, tui.ConfirmOptions) (bool, error) {
			t.Error("unexpected confirmation prompt")
			return false, nil
		}
	}

	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		Stdout:      &stdout,
		Stderr:      &stderr,
		Confirm:     confirm,
		Interactive: func() bool { return !e.nonInteractive },
	})
	root := NewRootCommand(app)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))

	err := root.ExecuteContext(ctx)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func answer(ok bool) confirmFunc {
	return func(context.Context, tui.ConfirmOptions) (bool, error) { return ok, nil }
}

func assertContains(t *testing.T, label, got string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(got, w) {
			t.Errorf("%s does not contain %q:\n%s", label, w, got)
		}
	}
}
