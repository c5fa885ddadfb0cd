// SPDX-License-Identifier: MPL-2.0

// Package history keeps the durable audit trail of update and rollback
// attempts in an embedded SQLite database. The log is append-only except for
// the retention cap, which trims the oldest rows right after each insert.
package history
