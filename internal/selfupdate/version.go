// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalidVersion indicates the provided version string is not valid semver.
var ErrInvalidVersion = errors.New("invalid semantic version")

// normalizeVersion ensures the version string has the "v" prefix required by
// the semver package and validates the result.
func normalizeVersion(v string) (string, error) {
	norm := strings.TrimSpace(v)
	if !strings.HasPrefix(norm, "v") {
		norm = "v" + norm
	}
	if !semver.IsValid(norm) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	return norm, nil
}

// CompareVersions orders two versions by semver precedence, accepting both
// "1.2.3" and "v1.2.3". It returns -1, 0 or +1.
func CompareVersions(a, b string) (int, error) {
	na, err := normalizeVersion(a)
	if err != nil {
		return 0, err
	}
	nb, err := normalizeVersion(b)
	if err != nil {
		return 0, err
	}
	return semver.Compare(na, nb), nil
}

// IsNewer reports whether candidate is strictly greater than current.
func IsNewer(candidate, current string) (bool, error) {
	c, err := CompareVersions(candidate, current)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// DisplayVersion strips a leading "v" for user-facing output and records.
func DisplayVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}
