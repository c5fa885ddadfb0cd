// SPDX-License-Identifier: MPL-2.0

// Package testutil holds helpers shared by tests across the update packages:
// environment manipulation, directory tree fixtures and update package builders.
package testutil
