// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opsreport/updatectl/internal/appdir"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// maxExtractedBytes bounds the total uncompressed size of one update package
// (2 GiB) to stop decompression bombs.
const maxExtractedBytes int64 = 2 << 30

var (
	// ErrUnsupportedPackage indicates the package is neither .tar.gz nor .zip.
	ErrUnsupportedPackage = errors.New("unsupported package format")

	// ErrUnsafeEntry indicates an archive entry would land outside the extraction root.
	ErrUnsafeEntry = errors.New("unsafe archive entry")

	// ErrPackageTooLarge indicates the extracted content exceeds maxExtractedBytes.
	ErrPackageTooLarge = errors.New("package exceeds extraction limit")
)

// extractPackage unpacks the archive at pkgPath into dest, detecting the
// format from its leading bytes.
func extractPackage(pkgPath, dest string) error {
	f, err := os.Open(pkgPath)
	if err != nil {
		return fmt.Errorf("opening package: %w", err)
	}
	defer func() { _ = f.Close() }() // read-only handle

	magic := make([]byte, 4)
	n, _ := io.ReadFull(f, magic) //nolint:errcheck // short files fall through to ErrUnsupportedPackage
	magic = magic[:n]

	switch {
	case bytes.HasPrefix(magic, []byte{0x1f, 0x8b}):
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewinding package: %w", err)
		}
		return extractTarGz(f, dest)
	case bytes.HasPrefix(magic, []byte("PK\x03\x04")):
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat package: %w", err)
		}
		return extractZip(f, info.Size(), dest)
	default:
		return ErrUnsupportedPackage
	}
}

func extractTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()

	budget := maxExtractedBytes
	tr := tar.NewReader(gz)
	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			return nil
		}
		if nextErr != nil {
			return fmt.Errorf("reading tar entry: %w", nextErr)
		}

		target, err := entryPath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if hdr.Size > budget {
				return fmt.Errorf("%w: %s", ErrPackageTooLarge, hdr.Name)
			}
			n, err := writeEntry(target, tr, os.FileMode(hdr.Mode).Perm(), budget)
			if err != nil {
				return err
			}
			budget -= n
		case tar.TypeSymlink:
			if err := linkEntry(dest, target, hdr.Linkname); err != nil {
				return err
			}
		default:
			// Hard links, devices and fifos have no place in an application tree.
			continue
		}
	}
}

func extractZip(r io.ReaderAt, size int64, dest string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}

	budget := maxExtractedBytes
	for _, zf := range zr.File {
		target, err := entryPath(dest, zf.Name)
		if err != nil {
			return err
		}

		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			// Zip stores the link target as the entry body.
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			link, err := io.ReadAll(io.LimitReader(rc, 4096))
			_ = rc.Close()
			if err != nil {
				return err
			}
			if err := linkEntry(dest, target, string(link)); err != nil {
				return err
			}
		case mode.IsRegular():
			if int64(zf.UncompressedSize64) > budget { //nolint:gosec // bounded by maxExtractedBytes
				return fmt.Errorf("%w: %s", ErrPackageTooLarge, zf.Name)
			}
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			n, err := writeEntry(target, rc, mode.Perm(), budget)
			_ = rc.Close()
			if err != nil {
				return err
			}
			budget -= n
		}
	}
	return nil
}

// entryPath resolves name under dest. It rejects absolute paths, ".."
// escapes and any path that would pass through a symlink already extracted,
// since following one could land outside dest.
func entryPath(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeEntry, name)
	}
	if clean == "." {
		return dest, nil
	}

	cur := dest
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: %q passes through symlink %q", ErrUnsafeEntry, name, cur)
		}
	}
	return filepath.Join(dest, clean), nil
}

func linkEntry(dest, target, link string) error {
	if filepath.IsAbs(link) {
		return fmt.Errorf("%w: absolute symlink %q", ErrUnsafeEntry, link)
	}
	resolved := filepath.Join(filepath.Dir(target), link)
	rel, err := filepath.Rel(dest, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: symlink %q escapes package root", ErrUnsafeEntry, link)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.Symlink(link, target)
}

func writeEntry(target string, r io.Reader, perm os.FileMode, budget int64) (_ int64, err error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	// Read one byte past the budget so an overrun is detectable.
	n, err := io.Copy(out, io.LimitReader(r, budget+1))
	if err != nil {
		return n, fmt.Errorf("extracting %s: %w", filepath.Base(target), err)
	}
	if n > budget {
		return n, fmt.Errorf("%w: %s", ErrPackageTooLarge, filepath.Base(target))
	}
	return n, nil
}

// packageRoot returns the directory inside an extracted package that holds
// the application tree: dir itself, or its only subdirectory when the archive
// wraps everything (manifest included) in one top-level folder.
func packageRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("update package is empty")
	}
	if len(entries) == 1 && entries[0].IsDir() {
		nested := filepath.Join(dir, entries[0].Name())
		if _, err := os.Stat(filepath.Join(nested, appdir.ManifestFile)); err == nil {
			return nested, nil
		}
	}
	return dir, nil
}
