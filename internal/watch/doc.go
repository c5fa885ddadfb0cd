// SPDX-License-Identifier: MPL-2.0

// Package watch reports debounced filesystem changes.
//
// Watcher monitors a directory tree for paths matching doublestar globs and
// calls back once per burst of events. ManifestWatcher builds on it to follow
// the installed release: it fires when the install directory's manifest
// names a different version, whether the swap was made by this process or by
// another updatectl invocation.
package watch
