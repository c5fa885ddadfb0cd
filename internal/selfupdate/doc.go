// SPDX-License-Identifier: MPL-2.0

// Package selfupdate checks a release registry for newer versions and
// installs them with verification, backup and automatic rollback.
//
// The package is organized into these concerns:
//   - registry.go: HTTP client for the release registry (list, get, download)
//   - version.go: semantic version comparison
//   - release.go: release descriptors and their validation
//   - checksum.go: SHA-256/SHA-512 digests and verification
//   - checker.go: on-demand and periodic update checks
//   - installer.go: the single-attempt install state machine
//   - progress.go: non-blocking progress fan-out
//   - archive.go: .tar.gz and .zip extraction
package selfupdate
