// SPDX-License-Identifier: MPL-2.0

package appdir

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CopyStats summarizes a CopyTree run.
type CopyStats struct {
	Files int
	Bytes int64
}

// CopyTree recursively copies src into dst, which must not exist yet.
// Regular files keep their permission bits, symlinks are recreated as links.
// Other file types (sockets, devices) are skipped.
func CopyTree(src, dst string) (CopyStats, error) {
	var stats CopyStats

	info, err := os.Stat(src)
	if err != nil {
		return stats, fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("copy source %s is not a directory", src)
	}
	if _, err := os.Lstat(dst); err == nil {
		return stats, fmt.Errorf("copy destination %s already exists: %w", dst, fs.ErrExist)
	}

	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		fi, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, fi.Mode().Perm()|0o700)
		case fi.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case fi.Mode().IsRegular():
			n, err := copyFile(p, target, fi.Mode().Perm())
			if err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += n
			return nil
		default:
			return nil
		}
	})
	if err != nil {
		return stats, fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return stats, nil
}

func copyFile(src, dst string, perm fs.FileMode) (_ int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }() // read-only handle

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, err
	}
	return n, out.Sync()
}

// ReplaceDir swaps staging into place at target using renames in the parent
// directory. Both paths must live on the same filesystem. When target exists
// it is moved aside first and put back if the second rename fails; the old
// tree is removed only after the swap succeeded.
func ReplaceDir(staging, target string) error {
	aside := target + ".old"
	if err := os.RemoveAll(aside); err != nil {
		return fmt.Errorf("clearing %s: %w", aside, err)
	}

	hadTarget := true
	if err := rename(target, aside); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("moving %s aside: %w", target, err)
		}
		hadTarget = false
	}

	if err := rename(staging, target); err != nil {
		if hadTarget {
			if restoreErr := rename(aside, target); restoreErr != nil {
				return errors.Join(
					fmt.Errorf("moving %s into place: %w", staging, err),
					fmt.Errorf("restoring %s: %w", target, restoreErr),
				)
			}
		}
		return fmt.Errorf("moving %s into place: %w", staging, err)
	}

	if hadTarget {
		// The new tree is live; a leftover aside copy is only wasted space.
		_ = os.RemoveAll(aside)
	}
	return nil
}

// StagingDir creates an empty directory next to target so a later ReplaceDir
// is a same-filesystem rename.
func StagingDir(target, pattern string) (string, error) {
	parent := filepath.Dir(filepath.Clean(target))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", parent, err)
	}
	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	return dir, nil
}

//nolint:gochecknoglobals // Test seam for os.Rename.
var rename = os.Rename
