// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opsreport/updatectl/internal/config"
)

func TestConfigShow(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	env.saveConfig(t, func(c *config.Config) { c.Registry.Token = "s3cret-token" })

	res := env.run(t, nil, "config", "show")
	if res.err != nil {
		t.Fatalf("config show: %v", res.err)
	}
	assertContains(t, "stdout", res.stdout,
		"Config file: "+env.configPath,
		env.server.URL,
		redacted,
		"keep_backups",
	)
	if strings.Contains(res.stdout, "s3cret-token") {
		t.Error("config show must not print the registry token")
	}
}

func TestConfigShow_Schema(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	res := env.run(t, nil, "config", "show", "--schema")
	if res.err != nil {
		t.Fatalf("config show --schema: %v", res.err)
	}
	if res.stdout != config.Schema() {
		t.Error("expected the embedded schema verbatim")
	}
}

func TestConfigInit(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	path := filepath.Join(env.root, "fresh", "config.cue")
	env.configPath = path
	run := func() cliResult {
		t.Helper()
		return env.run(t, nil, "config", "init")
	}

	res := run()
	if res.err != nil {
		t.Fatalf("config init: %v", res.err)
	}
	assertContains(t, "stdout", res.stdout, "Created default configuration at "+path)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 && os.PathSeparator == '/' {
		t.Errorf("config file mode = %o, want no group or other access", perm)
	}

	res = run()
	if res.err != nil {
		t.Fatalf("second config init: %v", res.err)
	}
	assertContains(t, "stdout", res.stdout, "already exists")
}

func TestConfigPath(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t)
	res := env.run(t, nil, "config", "path")
	if res.err != nil {
		t.Fatalf("config path: %v", res.err)
	}
	assertContains(t, "stdout", res.stdout, "Config file:    "+env.configPath, "Data directory:")
}
