// SPDX-License-Identifier: MPL-2.0

// Package rollback snapshots the installed application tree before an update
// and restores a snapshot when the update fails or an operator asks for it.
//
// A snapshot is a directory named backup-<version>-<timestamp> under the
// backup root, holding a manifest.json ({name, version, ...}) and a files/
// copy of the installation. Snapshots are assembled under a temporary name
// and renamed into place once the manifest is written, so a directory with a
// backup- name is never a partial copy.
package rollback
