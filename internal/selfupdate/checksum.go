// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// ErrChecksumMismatch indicates the computed digest does not match the expected one.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ChecksumError provides details about a checksum verification failure.
// It wraps ErrChecksumMismatch so callers can use errors.Is for classification.
type ChecksumError struct {
	Filename  string
	Algorithm ChecksumAlgorithm
	Expected  string
	Got       string
}

// Error returns both digests for debugging.
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s verification failed for %s\nExpected: %s\nGot:      %s",
		e.Algorithm, e.Filename, e.Expected, e.Got)
}

// Unwrap returns ErrChecksumMismatch so callers can use errors.Is.
func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

func newHash(algo ChecksumAlgorithm) (hash.Hash, error) {
	switch algo {
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmSHA512:
		return sha512.New(), nil
	default:
		return nil, &InvalidChecksumAlgorithmError{Value: algo}
	}
}

// Digest returns the lowercase hex digest of everything read from r.
func Digest(r io.Reader, algo ChecksumAlgorithm) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether payload hashes to expected under algo. The full
// digest is compared (hex case-insensitive); an unknown algorithm never verifies.
func Verify(payload []byte, expected string, algo ChecksumAlgorithm) bool {
	h, err := newHash(algo)
	if err != nil {
		return false
	}
	_, _ = h.Write(payload) // hash.Hash.Write never returns an error
	return digestsEqual(hex.EncodeToString(h.Sum(nil)), expected)
}

// checkDigest returns nil when got matches expected, or a *ChecksumError
// naming the package.
func checkDigest(name, got, expected string, algo ChecksumAlgorithm) error {
	if digestsEqual(got, expected) {
		return nil
	}
	return &ChecksumError{
		Filename:  name,
		Algorithm: algo,
		Expected:  normalizeDigest(expected),
		Got:       got,
	}
}

// digestsEqual compares full hex digests, ignoring case and surrounding space.
func digestsEqual(got, expected string) bool {
	return got != "" && normalizeDigest(got) == normalizeDigest(expected)
}

func normalizeDigest(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
