// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opsreport/updatectl/internal/testutil"

	"github.com/klauspost/compress/gzip"
)

func writePackage(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pkg")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

type tarEntry struct {
	hdr  tar.Header
	body string
}

// tarGzEntries builds a tar.gz from entries in order, keeping duplicate names
// and symlinks that the map-based builders cannot express.
func tarGzEntries(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		hdr := e.hdr
		hdr.Size = int64(len(e.body))
		if err := tw.WriteHeader(&hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractPackage_Formats(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"manifest.json":     `{"name":"reporter","version":"1.4.0"}`,
		"bin/reporter":      "v2 binary",
		"templates/a.tmpl":  "template",
		"templates/b/c.css": "body{}",
	}

	for name, data := range map[string][]byte{
		"tar.gz": testutil.BuildTarGz(t, files),
		"zip":    testutil.BuildZip(t, files),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dest := t.TempDir()
			if err := extractPackage(writePackage(t, data), dest); err != nil {
				t.Fatalf("extractPackage: %v", err)
			}
			got := testutil.ReadTree(t, dest)
			for k, v := range files {
				if got[k] != v {
					t.Errorf("%s: expected %q, got %q", k, v, got[k])
				}
			}
		})
	}
}

func TestExtractPackage_Unsupported(t *testing.T) {
	t.Parallel()

	err := extractPackage(writePackage(t, []byte("plain text, not an archive")), t.TempDir())
	if !errors.Is(err, ErrUnsupportedPackage) {
		t.Errorf("expected ErrUnsupportedPackage, got %v", err)
	}
}

func TestExtractPackage_RejectsTraversal(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		data []byte
		// Some zip readers refuse insecure names before extraction starts.
		anyError bool
	}{
		"tar dotdot": {data: testutil.BuildTarGz(t, map[string]string{"../escape.txt": "x"})},
		"zip dotdot": {data: testutil.BuildZip(t, map[string]string{"a/../../escape.txt": "x"}), anyError: true},
		"tar symlink": {data: tarGzEntries(t, tarEntry{hdr: tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "../../etc/passwd"}})},
		// Each link looks harmless relative to its own name, but "a" points
		// at the root so "a/b/s" physically sits one level higher.
		"tar chained symlinks": {data: tarGzEntries(t,
			tarEntry{hdr: tar.Header{Name: "a", Typeflag: tar.TypeSymlink, Linkname: "."}},
			tarEntry{hdr: tar.Header{Name: "a/b/s", Typeflag: tar.TypeSymlink, Linkname: "../../escape.txt"}},
			tarEntry{hdr: tar.Header{Name: "a/b/s", Typeflag: tar.TypeReg, Mode: 0o644}, body: "pwned"},
		)},
		"tar write through symlink": {data: tarGzEntries(t,
			tarEntry{hdr: tar.Header{Name: "dir", Typeflag: tar.TypeDir, Mode: 0o755}},
			tarEntry{hdr: tar.Header{Name: "dir/s", Typeflag: tar.TypeSymlink, Linkname: "../inner"}},
			tarEntry{hdr: tar.Header{Name: "dir/s", Typeflag: tar.TypeReg, Mode: 0o644}, body: "x"},
		)},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			dest := filepath.Join(root, "dest")
			if err := os.Mkdir(dest, 0o755); err != nil {
				t.Fatal(err)
			}
			err := extractPackage(writePackage(t, tt.data), dest)
			switch {
			case err == nil:
				t.Fatal("expected an error for an escaping entry")
			case !tt.anyError && !errors.Is(err, ErrUnsafeEntry):
				t.Fatalf("expected ErrUnsafeEntry, got %v", err)
			}
			if _, statErr := os.Lstat(filepath.Join(root, "escape.txt")); statErr == nil {
				t.Error("entry escaped the extraction root")
			}
		})
	}
}

func TestExtractPackage_InRootSymlinkKept(t *testing.T) {
	t.Parallel()

	data := tarGzEntries(t,
		tarEntry{hdr: tar.Header{Name: "bin/reporter-1.4.0", Typeflag: tar.TypeReg, Mode: 0o755}, body: "binary"},
		tarEntry{hdr: tar.Header{Name: "bin/reporter", Typeflag: tar.TypeSymlink, Linkname: "reporter-1.4.0"}},
	)
	dest := t.TempDir()
	if err := extractPackage(writePackage(t, data), dest); err != nil {
		t.Fatalf("extractPackage: %v", err)
	}
	if link, err := os.Readlink(filepath.Join(dest, "bin", "reporter")); err != nil || link != "reporter-1.4.0" {
		t.Errorf("expected symlink to reporter-1.4.0, got %q, %v", link, err)
	}
}

func TestPackageRoot(t *testing.T) {
	t.Parallel()

	wrapped := t.TempDir()
	testutil.WriteTree(t, wrapped, map[string]string{"reporter-1.4.0/manifest.json": `{"version":"1.4.0"}`})
	if got, err := packageRoot(wrapped); err != nil || got != filepath.Join(wrapped, "reporter-1.4.0") {
		t.Errorf("expected nested root, got %q, %v", got, err)
	}

	flat := t.TempDir()
	testutil.WriteTree(t, flat, map[string]string{"bin/reporter": "x"})
	if got, err := packageRoot(flat); err != nil || got != flat {
		t.Errorf("expected flat root, got %q, %v", got, err)
	}

	if _, err := packageRoot(t.TempDir()); err == nil {
		t.Error("expected error for empty package")
	}
}
