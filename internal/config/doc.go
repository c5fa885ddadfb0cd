// SPDX-License-Identifier: MPL-2.0

// Package config loads updatectl configuration using Viper with CUE as the
// file format.
//
// The file lives at $XDG_CONFIG_HOME/updatectl/config.cue (~/Library/Application
// Support/updatectl on macOS, %APPDATA%\updatectl on Windows) unless a path is
// given explicitly. It is validated against the embedded config_schema.cue,
// merged over built-in defaults, and finally overridden by UPDATECTL_* environment
// variables (UPDATECTL_REGISTRY_TOKEN sets registry.token).
package config
