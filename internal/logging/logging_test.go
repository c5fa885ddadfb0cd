// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/opsreport/updatectl/internal/config"
)

func TestNew_LevelFilters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, config.LogConfig{Level: config.LogLevelWarn, Format: config.LogFormatLogfmt})

	l.Info("update available", "version", "1.4.0")
	l.Warn("update check failed", "error", "timeout")

	out := buf.String()
	if strings.Contains(out, "update available") {
		t.Errorf("info line should be filtered at warn level:\n%s", out)
	}
	if !strings.Contains(out, `msg="update check failed"`) || !strings.Contains(out, "error=timeout") {
		t.Errorf("expected logfmt warn line, got:\n%s", out)
	}
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := Component(New(&buf, config.LogConfig{Level: config.LogLevelDebug, Format: config.LogFormatJSON}), "installer")
	l.Error("rollback failed, installation may be inconsistent", "severity", "critical")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON object, got %q: %v", buf.String(), err)
	}
	if line["severity"] != "critical" || line["prefix"] != "installer" || line["level"] != "error" {
		t.Errorf("unexpected JSON fields %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("expected a timestamp")
	}
}

func TestNew_UnknownValuesFallBack(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, config.LogConfig{Level: "loud", Format: "xml"})
	l.Debug("hidden")
	l.Info("shown")

	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("expected info level text output, got:\n%s", out)
	}
}
