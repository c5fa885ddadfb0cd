// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// downloadChunkSize is the read size between progress reports and cancellation checks.
const downloadChunkSize = 32 << 10

type (
	// PackageSource opens update package streams. *RegistryClient implements it.
	PackageSource interface {
		OpenDownload(ctx context.Context, pkgURL string) (*Download, error)
	}

	// downloadProgressFunc receives bytes written so far and the expected total
	// (-1 when unknown).
	downloadProgressFunc func(done, total int64)
)

// downloadToTempFile streams the package at pkgURL into a new temp file in dir.
// ctx is checked after every chunk. On any error the partial file is removed.
func downloadToTempFile(ctx context.Context, src PackageSource, pkgURL, dir string, onProgress downloadProgressFunc) (_ string, _ int64, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating work directory: %w", err)
	}

	dl, err := src.OpenDownload(ctx, pkgURL)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = dl.Body.Close() }() // read-only HTTP response body

	tmp, err := os.CreateTemp(dir, "updatectl-download-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if closeErr := tmp.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			// Best-effort removal of the partially written temp file.
			_ = os.Remove(tmp.Name())
		}
	}()

	buf := make([]byte, downloadChunkSize)
	var written int64
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", written, ctxErr
		}

		n, readErr := dl.Body.Read(buf)
		if n > 0 {
			if _, writeErr := tmp.Write(buf[:n]); writeErr != nil {
				return "", written, fmt.Errorf("writing to temp file: %w", writeErr)
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, dl.Size)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", written, ctxErr
			}
			return "", written, fmt.Errorf("%w: reading package: %w", ErrNetworkFailure, readErr)
		}
	}

	if dl.Size >= 0 && written != dl.Size {
		return "", written, fmt.Errorf("%w: short download: got %d of %d bytes", ErrNetworkFailure, written, dl.Size)
	}

	return tmp.Name(), written, nil
}
