// SPDX-License-Identifier: MPL-2.0

package history

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// StatusSuccess means the update installed and the new release is live.
	StatusSuccess Status = "success"
	// StatusFailed means the update failed. The previous release is still
	// installed unless the error says the rollback failed too.
	StatusFailed Status = "failed"
	// StatusRolledBack means the install step failed and the backup was restored.
	StatusRolledBack Status = "rolled_back"
)

var (
	// ErrInvalidStatus is the sentinel for unknown status values.
	ErrInvalidStatus = errors.New("invalid update status")

	// ErrInvalidRecord indicates a RecordInput is missing required fields.
	ErrInvalidRecord = errors.New("invalid update record")
)

type (
	// Status is the outcome stored with each record.
	Status string

	// InvalidStatusError is returned when a Status is not recognized.
	// It wraps ErrInvalidStatus for errors.Is() compatibility.
	InvalidStatusError struct {
		Value Status
	}

	// Record is one persisted update attempt. Zero values of the optional
	// fields (ErrorMessage, BackupPath, InstallDuration, DownloadSizeBytes)
	// mean "not recorded".
	Record struct {
		ID                string        `json:"id" yaml:"id" toml:"id"`
		Timestamp         time.Time     `json:"timestamp" yaml:"timestamp" toml:"timestamp"`
		FromVersion       string        `json:"from_version" yaml:"from_version" toml:"from_version"`
		ToVersion         string        `json:"to_version" yaml:"to_version" toml:"to_version"`
		Status            Status        `json:"status" yaml:"status" toml:"status"`
		ErrorMessage      string        `json:"error_message,omitempty" yaml:"error_message,omitempty" toml:"error_message,omitempty"`
		BackupPath        string        `json:"backup_path,omitempty" yaml:"backup_path,omitempty" toml:"backup_path,omitempty"`
		InstallDuration   time.Duration `json:"install_duration,omitempty" yaml:"install_duration,omitempty" toml:"install_duration,omitempty"`
		DownloadSizeBytes int64         `json:"download_size_bytes,omitempty" yaml:"download_size_bytes,omitempty" toml:"download_size_bytes,omitempty"`
		ChecksumVerified  bool          `json:"checksum_verified" yaml:"checksum_verified" toml:"checksum_verified"`
	}

	// RecordInput carries the caller-supplied fields of a new Record; the
	// service assigns ID and Timestamp.
	RecordInput struct {
		FromVersion       string
		ToVersion         string
		Status            Status
		ErrorMessage      string
		BackupPath        string
		InstallDuration   time.Duration
		DownloadSizeBytes int64
		ChecksumVerified  bool
	}
)

// Error implements the error interface.
func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid update status %q (valid: success, failed, rolled_back)", e.Value)
}

// Unwrap returns ErrInvalidStatus for errors.Is() compatibility.
func (e *InvalidStatusError) Unwrap() error { return ErrInvalidStatus }

// IsValid returns whether the status is known, and a list of validation errors if not.
func (s Status) IsValid() (bool, []error) {
	switch s {
	case StatusSuccess, StatusFailed, StatusRolledBack:
		return true, nil
	default:
		return false, []error{&InvalidStatusError{Value: s}}
	}
}

func (in RecordInput) validate() error {
	var errs []error
	if _, statusErrs := in.Status.IsValid(); len(statusErrs) > 0 {
		errs = append(errs, statusErrs...)
	}
	if strings.TrimSpace(in.ToVersion) == "" {
		errs = append(errs, errors.New("to version is required"))
	}
	if in.InstallDuration < 0 || in.DownloadSizeBytes < 0 {
		errs = append(errs, errors.New("duration and size must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidRecord, errors.Join(errs...))
}

// normalizeVersion strips the optional "v" prefix so "v1.2.0" and "1.2.0"
// are stored and queried identically.
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}
