// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
)

const (
	// StageIdle means no attempt has started.
	StageIdle Stage = iota
	// StageDownloading streams the update package to a temp file.
	StageDownloading
	// StageVerifying compares the package digest with the published checksum.
	StageVerifying
	// StageInstalling swaps the installed tree. Cancellation is refused from here on.
	StageInstalling
	// StageComplete is terminal: the new release is installed.
	StageComplete
	// StageFailed is terminal: the attempt failed, possibly after a rollback.
	StageFailed
	// StageCancelled is terminal: the operator cancelled before installing.
	StageCancelled
)

// ErrInvalidStage is returned when a Stage value is not one of the defined stages.
var ErrInvalidStage = errors.New("invalid stage")

type (
	// Stage is the position of an installation attempt in its state machine.
	Stage int32

	// InvalidStageError is returned when a Stage value is not recognized.
	// It wraps ErrInvalidStage for errors.Is() compatibility.
	InvalidStageError struct {
		Value Stage
	}
)

// String returns the lowercase stage name.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageDownloading:
		return "downloading"
	case StageVerifying:
		return "verifying"
	case StageInstalling:
		return "installing"
	case StageComplete:
		return "complete"
	case StageFailed:
		return "failed"
	case StageCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText renders the stage name so events encode readably.
func (s Stage) MarshalText() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return []byte(s.String()), nil
}

// Error implements the error interface for InvalidStageError.
func (e *InvalidStageError) Error() string {
	return fmt.Sprintf("invalid stage %d (valid: 0=idle .. 6=cancelled)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidStageError) Unwrap() error {
	return ErrInvalidStage
}

// Validate returns nil for a defined stage, or an error wrapping ErrInvalidStage.
func (s Stage) Validate() error {
	if s < StageIdle || s > StageCancelled {
		return &InvalidStageError{Value: s}
	}
	return nil
}

// IsTerminal reports whether no further transition can follow s.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageFailed || s == StageCancelled
}

// Cancellable reports whether a cancel request is honored while in s.
func (s Stage) Cancellable() bool {
	return s == StageDownloading || s == StageVerifying
}

// canTransition encodes the attempt state machine.
func (s Stage) canTransition(next Stage) bool {
	switch s {
	case StageIdle:
		return next == StageDownloading || next == StageFailed
	case StageDownloading:
		return next == StageVerifying || next == StageFailed || next == StageCancelled
	case StageVerifying:
		return next == StageInstalling || next == StageFailed || next == StageCancelled
	case StageInstalling:
		return next == StageComplete || next == StageFailed
	default:
		return false
	}
}
