// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/opsreport/updatectl/internal/appdir"

	"github.com/charmbracelet/log"
)

type (
	// VersionChangeFunc is called with the previous and the new manifest.
	VersionChangeFunc func(ctx context.Context, prev, next appdir.Manifest) error

	// ManifestWatcher follows the manifest of one install directory.
	ManifestWatcher struct {
		*Watcher

		installDir string
		onChange   VersionChangeFunc
		logger     *log.Logger

		mu   sync.Mutex
		last appdir.Manifest
	}
)

// NewManifestWatcher watches installDir's parent one level deep, so the
// directory swap performed by an install or restore is seen as well as an
// in-place manifest rewrite. onChange only runs when the version differs
// from the last one observed.
func NewManifestWatcher(installDir string, debounce time.Duration, logger *log.Logger, onChange VersionChangeFunc) (*ManifestWatcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	clean := filepath.Clean(installDir)
	name := filepath.ToSlash(filepath.Base(clean))

	mw := &ManifestWatcher{
		installDir: clean,
		onChange:   onChange,
		logger:     logger,
	}
	if m, err := appdir.ReadManifest(clean); err == nil {
		mw.last = m
	}

	w, err := New(Config{
		BaseDir:  filepath.Dir(clean),
		MaxDepth: 1,
		Patterns: []string{name, name + "/" + appdir.ManifestFile},
		Debounce: debounce,
		Logger:   logger,
		OnChange: mw.handle,
	})
	if err != nil {
		return nil, err
	}
	mw.Watcher = w
	return mw, nil
}

// Current returns the last manifest observed.
func (mw *ManifestWatcher) Current() appdir.Manifest {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.last
}

func (mw *ManifestWatcher) handle(ctx context.Context, _ []string) error {
	m, err := appdir.ReadManifest(mw.installDir)
	if err != nil {
		// Mid-swap the directory can be briefly absent; the next event retries.
		if errors.Is(err, appdir.ErrManifestMissing) {
			mw.logger.Debug("manifest not present", "dir", mw.installDir)
			return nil
		}
		return err
	}

	mw.mu.Lock()
	prev := mw.last
	changed := prev.Version != m.Version
	mw.last = m
	mw.mu.Unlock()

	if !changed {
		return nil
	}
	mw.logger.Info("installed version changed", "from", prev.Version, "to", m.Version)
	if mw.onChange == nil {
		return nil
	}
	return mw.onChange(ctx, prev, m)
}
