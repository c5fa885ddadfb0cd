// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/opsreport/updatectl/internal/config"
	"github.com/opsreport/updatectl/internal/issue"
	"github.com/opsreport/updatectl/internal/rollback"
	"github.com/opsreport/updatectl/internal/selfupdate"
	"github.com/opsreport/updatectl/internal/tui"
	"github.com/opsreport/updatectl/pkg/types"

	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

// ServiceError carries rendering hints for the CLI layer: a pre-styled
// message printed before the catalog page for IssueID.
// Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID overrides the catalog page chosen by classifyError.
	IssueID issue.Id
	// StyledMessage is printed verbatim before the catalog page.
	StyledMessage string
}

func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{Err: err, IssueID: issueID, StyledMessage: styledMessage}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// classifyError maps a command error to the process exit code and the catalog
// page that explains it. A zero Id means no page applies.
func classifyError(err error) (types.ExitCode, issue.Id) {
	if err == nil {
		return types.ExitOK, 0
	}
	code := exitCodeFor(err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}
	return code, issueFor(err)
}

func exitCodeFor(err error) types.ExitCode {
	if kind, ok := selfupdate.KindOf(err); ok {
		switch kind {
		case selfupdate.KindRollbackFailed:
			return types.ExitInconsistent
		case selfupdate.KindValidationFailed:
			return types.ExitUserError
		default:
			return types.ExitFailed
		}
	}
	switch {
	case errors.Is(err, rollback.ErrInvalidBackup),
		errors.Is(err, selfupdate.ErrReleaseNotFound),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, tui.ErrAborted):
		return types.ExitUserError
	}
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.Issue == issue.ConfigLoadFailedId {
		return types.ExitUserError
	}
	return types.ExitFailed
}

func issueFor(err error) issue.Id {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.IssueID != 0 {
		return svcErr.IssueID
	}
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.Issue != 0 {
		return ae.Issue
	}

	var rateErr *selfupdate.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		return issue.RateLimitedId
	case errors.Is(err, selfupdate.ErrReleaseNotFound):
		return issue.ReleaseNotFoundId
	case errors.Is(err, rollback.ErrInvalidBackup):
		return issue.InvalidBackupId
	case errors.Is(err, rollback.ErrRollbackInProgress):
		return issue.UpdateBusyId
	}

	kind, ok := selfupdate.KindOf(err)
	if !ok {
		return 0
	}
	switch kind {
	case selfupdate.KindNetworkFailure:
		return issue.RegistryUnreachableId
	case selfupdate.KindChecksumMismatch:
		return issue.ChecksumMismatchId
	case selfupdate.KindBackupFailed:
		return issue.BackupFailedId
	case selfupdate.KindInstallFailed:
		return issue.InstallFailedId
	case selfupdate.KindRollbackFailed:
		return issue.RollbackFailedId
	case selfupdate.KindBusy:
		return issue.UpdateBusyId
	case selfupdate.KindValidationFailed:
		return issue.InvalidReleaseId
	default:
		return 0
	}
}

// reportError prints err and, when one applies, its catalog page to stderr.
// It returns the exit code for the process.
func reportError(stderr io.Writer, err error, verbose bool) types.ExitCode {
	code, id := classifyError(err)
	if code.IsSuccess() {
		return code
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}
	fmt.Fprintln(stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))

	if id == 0 {
		return code
	}
	if entry := issue.Get(id); entry != nil {
		rendered, renderErr := entry.Render(issueStyle(stderr))
		if renderErr != nil {
			log.Warn("failed to render issue catalog entry", "issue", id, "error", renderErr)
		} else {
			fmt.Fprint(stderr, rendered)
		}
	}
	return code
}

// formatErrorForDisplay uses ActionableError formatting when available.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// issueStyle picks the glamour style: colors on a terminal, plain text otherwise.
func issueStyle(w io.Writer) string {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // Fd fits in int
		return "dark"
	}
	return "notty"
}
