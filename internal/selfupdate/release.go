// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// AlgorithmSHA256 selects a SHA-256 digest (64 hex characters).
	AlgorithmSHA256 ChecksumAlgorithm = "sha256"
	// AlgorithmSHA512 selects a SHA-512 digest (128 hex characters).
	AlgorithmSHA512 ChecksumAlgorithm = "sha512"
)

// ErrInvalidChecksumAlgorithm is the sentinel for unsupported algorithm names.
var ErrInvalidChecksumAlgorithm = errors.New("invalid checksum algorithm")

type (
	// ChecksumAlgorithm names the digest used to verify an update package.
	ChecksumAlgorithm string

	// InvalidChecksumAlgorithmError is returned when an algorithm is not supported.
	// It wraps ErrInvalidChecksumAlgorithm for errors.Is() compatibility.
	InvalidChecksumAlgorithmError struct {
		Value ChecksumAlgorithm
	}

	// ReleaseDescriptor describes one published release. It is rebuilt from the
	// registry on every poll and never persisted.
	ReleaseDescriptor struct {
		Version           string
		DownloadURL       string
		ExpectedChecksum  string // hex digest
		ChecksumAlgorithm ChecksumAlgorithm
		PublishedAt       time.Time
		Notes             string // markdown release notes, may be empty
		Size              int64  // package size in bytes, 0 when unknown
		Prerelease        bool
	}
)

// Error implements the error interface.
func (e *InvalidChecksumAlgorithmError) Error() string {
	return fmt.Sprintf("invalid checksum algorithm %q (valid: sha256, sha512)", e.Value)
}

// Unwrap returns ErrInvalidChecksumAlgorithm for errors.Is() compatibility.
func (e *InvalidChecksumAlgorithmError) Unwrap() error { return ErrInvalidChecksumAlgorithm }

// IsValid returns whether the algorithm is supported, and a list of validation errors if not.
func (a ChecksumAlgorithm) IsValid() (bool, []error) {
	switch a {
	case AlgorithmSHA256, AlgorithmSHA512:
		return true, nil
	default:
		return false, []error{&InvalidChecksumAlgorithmError{Value: a}}
	}
}

// hexLen is the digest length in hex characters.
func (a ChecksumAlgorithm) hexLen() int {
	if a == AlgorithmSHA512 {
		return 128
	}
	return 64
}

// Validate checks every field the installer depends on. All problems are
// reported together; the result wraps ErrValidationFailed.
func (r *ReleaseDescriptor) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: release must not be nil", ErrValidationFailed)
	}

	var errs []error
	if strings.TrimSpace(r.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	} else if _, err := normalizeVersion(r.Version); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(r.DownloadURL) == "" {
		errs = append(errs, errors.New("download url is required"))
	} else if u, err := url.Parse(r.DownloadURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("download url %q must be an absolute http(s) url", redactURL(r.DownloadURL)))
	}

	algoOK, algoErrs := r.ChecksumAlgorithm.IsValid()
	errs = append(errs, algoErrs...)

	switch {
	case strings.TrimSpace(r.ExpectedChecksum) == "":
		errs = append(errs, errors.New("checksum is required"))
	case !isHex(r.ExpectedChecksum):
		errs = append(errs, errors.New("checksum must be hex encoded"))
	case algoOK && len(r.ExpectedChecksum) != r.ChecksumAlgorithm.hexLen():
		errs = append(errs, fmt.Errorf("checksum length %d does not match %s (%d hex characters)",
			len(r.ExpectedChecksum), r.ChecksumAlgorithm, r.ChecksumAlgorithm.hexLen()))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return s != ""
}
