// SPDX-License-Identifier: MPL-2.0

// Package types holds small value types shared by the updatectl packages
// and its command-line front end.
package types

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

const (
	// ExitOK means the command did what was asked.
	ExitOK ExitCode = 0
	// ExitUserError means the operator can fix the problem: bad flags,
	// invalid configuration, an invalid backup or a refused prompt.
	ExitUserError ExitCode = 1
	// ExitFailed means the operation failed but the installation is
	// consistent: network errors, checksum mismatches, a busy installer or
	// an install that was rolled back.
	ExitFailed ExitCode = 2
	// ExitInconsistent means a rollback failed and the installation needs
	// manual repair.
	ExitInconsistent ExitCode = 3
)

type (
	// ExitCode represents a process exit status code in the POSIX range 0-255.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside 0-255.
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the ExitCode is outside 0-255.
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess reports whether the code means success.
func (c ExitCode) IsSuccess() bool { return c == ExitOK }

// IsRetryable reports whether rerunning the same command may succeed.
func (c ExitCode) IsRetryable() bool { return c == ExitFailed }

// NeedsAttention reports whether the installation may be left inconsistent.
func (c ExitCode) NeedsAttention() bool { return c == ExitInconsistent }

// String returns the decimal representation.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
