// SPDX-License-Identifier: MPL-2.0

// Package appdir models an installed application tree on disk: the manifest
// describing which release it holds, recursive copies of the tree, and the
// rename-based swap used to replace one tree with another.
package appdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ManifestFile is the name of the manifest at the root of an installation or backup.
const ManifestFile = "manifest.json"

// maxManifestBytes bounds manifest reads; a manifest is a handful of fields.
const maxManifestBytes = 1 << 20

var (
	// ErrManifestMissing indicates the directory has no manifest.json.
	ErrManifestMissing = errors.New("manifest missing")

	// ErrManifestInvalid indicates the manifest exists but cannot be used.
	ErrManifestInvalid = errors.New("manifest invalid")
)

// Manifest identifies the release stored in a directory. Installations carry
// name and version; backups additionally record when and how much was copied.
type Manifest struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	FileCount int       `json:"file_count,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
}

// ReadManifest loads dir/manifest.json. A missing file yields ErrManifestMissing,
// malformed JSON or an empty version yields ErrManifestInvalid.
func ReadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, ManifestFile)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: %s", ErrManifestMissing, path)
		}
		return Manifest{}, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Manifest{}, fmt.Errorf("%w: %s is not a regular file", ErrManifestInvalid, path)
	}
	if info.Size() > maxManifestBytes {
		return Manifest{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrManifestInvalid, path, maxManifestBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %s: %w", ErrManifestInvalid, path, err)
	}
	if strings.TrimSpace(m.Version) == "" {
		return Manifest{}, fmt.Errorf("%w: %s has an empty version", ErrManifestInvalid, path)
	}
	return m, nil
}

// WriteManifest writes m to dir/manifest.json through a temp file and rename,
// so readers never observe a half-written manifest.
func WriteManifest(dir string, m Manifest) (err error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("creating manifest temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(dir, ManifestFile)); err != nil {
		return fmt.Errorf("installing manifest: %w", err)
	}
	return nil
}
