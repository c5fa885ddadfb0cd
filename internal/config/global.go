// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride and dataDirOverride let tests bypass os.UserHomeDir,
// which does not honor HOME on every platform.
//
//nolint:gochecknoglobals // Test seams.
var (
	configDirOverride string
	dataDirOverride   string
)

// Reset clears test overrides.
func Reset() {
	configDirOverride = ""
	dataDirOverride = ""
}

// SetConfigDirOverride replaces the platform config directory.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// SetDataDirOverride replaces the platform data directory.
func SetDataDirOverride(dir string) {
	dataDirOverride = dir
}
