// SPDX-License-Identifier: MPL-2.0

// Package logging builds the root charmbracelet/log logger from configuration.
package logging

import (
	"io"
	"time"

	"github.com/opsreport/updatectl/internal/config"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w at the configured level and format.
// Unknown values fall back to info and text; config validation rejects them
// before this point.
func New(w io.Writer, cfg config.LogConfig) *log.Logger {
	level, err := log.ParseLevel(string(cfg.Level))
	if err != nil {
		level = log.InfoLevel
	}

	formatter := log.TextFormatter
	switch cfg.Format {
	case config.LogFormatJSON:
		formatter = log.JSONFormatter
	case config.LogFormatLogfmt:
		formatter = log.LogfmtFormatter
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
}

// Install makes l the process default so packages that fall back to
// log.Default() share its settings, and returns l.
func Install(l *log.Logger) *log.Logger {
	log.SetDefault(l)
	return l
}

// Component returns a sub-logger tagged with the component name.
func Component(l *log.Logger, name string) *log.Logger {
	return l.WithPrefix(name)
}
