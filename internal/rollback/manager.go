// SPDX-License-Identifier: MPL-2.0

package rollback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opsreport/updatectl/internal/appdir"
	"github.com/opsreport/updatectl/internal/clock"

	"github.com/charmbracelet/log"
)

const (
	// backupPrefix starts every snapshot directory name.
	backupPrefix = "backup-"
	// partialPrefix marks a snapshot still being assembled.
	partialPrefix = ".partial-backup-"
	// filesDir holds the copied installation inside a snapshot.
	filesDir = "files"
	// timestampLayout is the UTC timestamp embedded in snapshot names.
	timestampLayout = "20060102T150405Z"
)

var (
	// ErrInvalidBackup indicates a path is not a usable snapshot.
	ErrInvalidBackup = errors.New("invalid backup")

	// ErrRollbackInProgress is returned when Restore is called while another restore runs.
	ErrRollbackInProgress = errors.New("a rollback is already in progress")
)

type (
	// Snapshot describes one backup on disk.
	Snapshot struct {
		Path      string
		Name      string
		AppName   string
		Version   string
		CreatedAt time.Time
		Files     int
		SizeBytes int64
	}

	// Listing is a ListBackups entry. Problem is set when Valid is false.
	Listing struct {
		Snapshot
		Valid   bool
		Problem string
	}

	// Manager owns the backup root for one installation directory.
	Manager struct {
		installDir string
		backupDir  string
		appName    string
		clock      clock.Clock
		logger     *log.Logger

		createMu   sync.Mutex
		inProgress atomic.Bool
	}

	// Option configures a Manager.
	Option func(*Manager)
)

// WithClock sets the time source used for snapshot names and manifests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithAppName sets the name written into snapshot manifests.
func WithAppName(name string) Option {
	return func(m *Manager) { m.appName = name }
}

// NewManager returns a Manager that backs up installDir into backupDir.
func NewManager(installDir, backupDir string, opts ...Option) *Manager {
	m := &Manager{
		installDir: filepath.Clean(installDir),
		backupDir:  filepath.Clean(backupDir),
		clock:      clock.Real{},
		logger:     log.Default().WithPrefix("rollback"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BackupDir returns the snapshot root.
func (m *Manager) BackupDir() string { return m.backupDir }

// CreateBackup copies the whole installation into a new snapshot labelled
// with version. The snapshot only appears under its final name once complete.
func (m *Manager) CreateBackup(ctx context.Context, version string) (_ *Snapshot, err error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, errors.New("backup version must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	partial, err := os.MkdirTemp(m.backupDir, partialPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating partial backup: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(partial)
		}
	}()

	stats, err := appdir.CopyTree(m.installDir, filepath.Join(partial, filesDir))
	if err != nil {
		return nil, fmt.Errorf("copying installation: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	manifest := appdir.Manifest{
		Name:      m.appName,
		Version:   version,
		CreatedAt: now,
		FileCount: stats.Files,
		SizeBytes: stats.Bytes,
	}
	if err := appdir.WriteManifest(partial, manifest); err != nil {
		return nil, err
	}

	final, err := m.uniqueName(version, now)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(partial, final); err != nil {
		return nil, fmt.Errorf("finalizing backup: %w", err)
	}

	snap := snapshotFrom(final, manifest)
	m.logger.Info("backup created", "path", final, "version", version, "files", stats.Files, "bytes", stats.Bytes)
	return &snap, nil
}

// uniqueName must be called with createMu held.
func (m *Manager) uniqueName(version string, at time.Time) (string, error) {
	base := filepath.Join(m.backupDir, backupPrefix+sanitize(version)+"-"+at.Format(timestampLayout))
	candidate := base
	for i := 2; ; i++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking backup name: %w", err)
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// VerifyBackup reports whether path is a usable snapshot: an existing
// directory holding a manifest.json that parses and names a version.
// It only reads the disk and never panics.
func (m *Manager) VerifyBackup(path string) bool {
	return ValidateBackup(path) == nil
}

// ValidateBackup is VerifyBackup with the reason. Errors wrap ErrInvalidBackup.
func ValidateBackup(path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidBackup, r)
		}
	}()

	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidBackup)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidBackup, path)
	}
	if _, err := appdir.ReadManifest(path); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	return nil
}

// Restore replaces the installation with the snapshot at path. The snapshot
// must pass verification. The live tree is swapped in one rename, so files
// added after the backup are gone and every backed-up file is byte-identical.
// The snapshot itself is left in place.
func (m *Manager) Restore(ctx context.Context, path string) (err error) {
	if !m.inProgress.CompareAndSwap(false, true) {
		return ErrRollbackInProgress
	}
	defer m.inProgress.Store(false)

	if err := ValidateBackup(path); err != nil {
		return fmt.Errorf("refusing to restore: %w", err)
	}
	manifest, err := appdir.ReadManifest(path)
	if err != nil {
		return fmt.Errorf("refusing to restore: %w: %w", ErrInvalidBackup, err)
	}

	src := filepath.Join(path, filesDir)
	if info, statErr := os.Stat(src); statErr != nil || !info.IsDir() {
		return fmt.Errorf("refusing to restore: %w: %s has no %s directory", ErrInvalidBackup, path, filesDir)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	staging, err := appdir.StagingDir(m.installDir, ".updatectl-restore-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	tree := filepath.Join(staging, "tree")
	if _, err := appdir.CopyTree(src, tree); err != nil {
		return fmt.Errorf("staging backup: %w", err)
	}
	if err := appdir.ReplaceDir(tree, m.installDir); err != nil {
		return fmt.Errorf("swapping installation: %w", err)
	}

	m.logger.Info("backup restored", "path", path, "version", manifest.Version)
	return nil
}

// IsRollbackInProgress reports whether a Restore is running.
func (m *Manager) IsRollbackInProgress() bool {
	return m.inProgress.Load()
}

// ListBackups returns every backup- directory under the snapshot root,
// newest first. Invalid snapshots are included with Valid=false.
func (m *Manager) ListBackups() ([]Listing, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []Listing
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) {
			continue
		}
		p := filepath.Join(m.backupDir, e.Name())
		l := Listing{Snapshot: Snapshot{Path: p, Name: e.Name()}}
		if vErr := ValidateBackup(p); vErr != nil {
			l.Problem = vErr.Error()
			if info, infoErr := e.Info(); infoErr == nil {
				l.CreatedAt = info.ModTime().UTC()
			}
		} else if mf, mErr := appdir.ReadManifest(p); mErr == nil {
			l.Snapshot = snapshotFrom(p, mf)
			l.Valid = true
		}
		out = append(out, l)
	}

	slices.SortStableFunc(out, func(a, b Listing) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Name, a.Name)
	})
	return out, nil
}

// Prune deletes valid snapshots beyond the newest keep and returns the removed
// paths. Invalid snapshots are left for an operator to inspect.
func (m *Manager) Prune(keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	if m.inProgress.Load() {
		return nil, ErrRollbackInProgress
	}

	listing, err := m.ListBackups()
	if err != nil {
		return nil, err
	}

	var removed []string
	kept := 0
	for _, l := range listing {
		if !l.Valid {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		if err := os.RemoveAll(l.Path); err != nil {
			return removed, fmt.Errorf("removing %s: %w", l.Path, err)
		}
		removed = append(removed, l.Path)
		m.logger.Info("backup pruned", "path", l.Path, "version", l.Version)
	}
	return removed, nil
}

func snapshotFrom(path string, mf appdir.Manifest) Snapshot {
	return Snapshot{
		Path:      path,
		Name:      filepath.Base(path),
		AppName:   mf.Name,
		Version:   mf.Version,
		CreatedAt: mf.CreatedAt,
		Files:     mf.FileCount,
		SizeBytes: mf.SizeBytes,
	}
}

// sanitize keeps a version usable as a path component.
func sanitize(version string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '+', r == '_':
			return r
		default:
			return '_'
		}
	}, version)
}
