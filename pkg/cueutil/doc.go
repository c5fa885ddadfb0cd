// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates user CUE files against an embedded schema.
//
// The flow is always the same:
//
//  1. Compile the embedded schema
//  2. Compile user data and unify it with a schema definition
//  3. Validate and decode to a Go value
//
// Errors carry the file name and a JSON-style path to the offending field:
//
//	config.cue: update.check_interval_hours: invalid value 0 (out of bound >=1)
package cueutil
