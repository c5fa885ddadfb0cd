// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries the failed operation, the resource involved and
// remediation hints; the catalog holds longer Markdown pages, rendered with
// glamour, that the CLI prints for the failure kinds an operator must act on.
package issue
