// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
)

const (
	// KindNetworkFailure covers registry and download transport errors.
	KindNetworkFailure ErrorKind = iota + 1
	// KindChecksumMismatch means the package digest differs from the published one.
	KindChecksumMismatch
	// KindBackupFailed means the pre-install snapshot could not be taken.
	KindBackupFailed
	// KindInstallFailed means the swap failed and the previous release was restored.
	KindInstallFailed
	// KindRollbackFailed means the swap failed and restoring the backup failed too.
	// The installation may be inconsistent.
	KindRollbackFailed
	// KindBusy means another attempt is already active.
	KindBusy
	// KindValidationFailed means the release descriptor or a backup is unusable.
	KindValidationFailed
	// KindCancelled means the operator cancelled during download or verification.
	KindCancelled
)

var (
	// ErrNetworkFailure is the sentinel for KindNetworkFailure.
	ErrNetworkFailure = errors.New("network failure")
	// ErrBackupFailed is the sentinel for KindBackupFailed.
	ErrBackupFailed = errors.New("backup failed")
	// ErrInstallFailed is the sentinel for KindInstallFailed.
	ErrInstallFailed = errors.New("install failed")
	// ErrRollbackFailed is the sentinel for KindRollbackFailed.
	ErrRollbackFailed = errors.New("rollback failed")
	// ErrBusy is returned when an installation is already in progress.
	ErrBusy = errors.New("an installation is already in progress")
	// ErrValidationFailed is the sentinel for KindValidationFailed.
	ErrValidationFailed = errors.New("validation failed")
	// ErrCancelled is the sentinel for KindCancelled.
	ErrCancelled = errors.New("installation cancelled")
)

type (
	// ErrorKind classifies installation failures.
	ErrorKind int

	// InstallError is returned by InstallUpdate. It matches both its kind
	// sentinel and the underlying cause with errors.Is.
	InstallError struct {
		Kind  ErrorKind
		Stage Stage // stage the attempt was in when it failed
		Err   error
	}
)

// String returns the kind name used in logs and history records.
func (k ErrorKind) String() string {
	switch k {
	case KindNetworkFailure:
		return "NetworkFailure"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindBackupFailed:
		return "BackupFailed"
	case KindInstallFailed:
		return "InstallFailed"
	case KindRollbackFailed:
		return "RollbackFailed"
	case KindBusy:
		return "Busy"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Sentinel returns the package sentinel error for k.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindNetworkFailure:
		return ErrNetworkFailure
	case KindChecksumMismatch:
		return ErrChecksumMismatch
	case KindBackupFailed:
		return ErrBackupFailed
	case KindInstallFailed:
		return ErrInstallFailed
	case KindRollbackFailed:
		return ErrRollbackFailed
	case KindBusy:
		return ErrBusy
	case KindValidationFailed:
		return ErrValidationFailed
	case KindCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// Error formats the kind, stage and cause.
func (e *InstallError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s during %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *InstallError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf reports the ErrorKind carried by err, if any. Bare sentinels are
// recognized as well as *InstallError values.
func KindOf(err error) (ErrorKind, bool) {
	if err == nil {
		return 0, false
	}
	var ie *InstallError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	for k := KindNetworkFailure; k <= KindCancelled; k++ {
		if errors.Is(err, k.Sentinel()) {
			return k, true
		}
	}
	return 0, false
}

func newInstallError(kind ErrorKind, stage Stage, err error) *InstallError {
	return &InstallError{Kind: kind, Stage: stage, Err: err}
}
