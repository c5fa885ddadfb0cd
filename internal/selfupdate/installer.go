// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/opsreport/updatectl/internal/appdir"
	"github.com/opsreport/updatectl/internal/clock"
	"github.com/opsreport/updatectl/internal/history"
	"github.com/opsreport/updatectl/internal/rollback"

	"github.com/charmbracelet/log"
)

// indeterminateReportBytes is how often an unknown-length download reports progress.
const indeterminateReportBytes = 1 << 20

//nolint:gochecknoglobals // Test seams for checksum verification and the final directory swap.
var (
	replaceDir = appdir.ReplaceDir
	digest     = Digest
)

type (
	// BackupManager snapshots and restores the installation. *rollback.Manager implements it.
	BackupManager interface {
		CreateBackup(ctx context.Context, version string) (*rollback.Snapshot, error)
		Restore(ctx context.Context, path string) error
	}

	// HistoryRecorder persists attempt outcomes. *history.Service implements it.
	HistoryRecorder interface {
		RecordUpdate(ctx context.Context, in history.RecordInput) (history.Record, error)
	}

	// rollbackProbe is implemented by backup managers that can report a
	// restore running outside the installer.
	rollbackProbe interface {
		IsRollbackInProgress() bool
	}

	// Alert describes a failed rollback: the installation may be inconsistent
	// and needs an operator.
	Alert struct {
		FromVersion string
		ToVersion   string
		BackupPath  string
		Err         error
	}

	// AlertFunc receives critical alerts.
	AlertFunc func(ctx context.Context, a Alert)

	// Attempt is a snapshot of the active installation attempt. Two snapshots
	// taken without an intervening change compare equal.
	Attempt struct {
		FromVersion     string
		ToVersion       string
		Stage           Stage
		Progress        int
		Message         string
		StartedAt       time.Time
		CancelRequested bool
	}

	// InstallResult summarizes a successful installation.
	InstallResult struct {
		FromVersion  string
		ToVersion    string
		BackupPath   string
		Duration     time.Duration
		DownloadSize int64
	}

	// InstallerConfig locates the installation on disk.
	InstallerConfig struct {
		// InstallDir holds the live application tree and its manifest.json.
		InstallDir string
		// WorkDir receives temporary downloads.
		WorkDir string
		// AppName is written into manifests the package does not provide.
		AppName string
		// FallbackVersion is the running version when the install manifest is missing.
		FallbackVersion string
	}

	// Installer runs at most one installation attempt at a time.
	Installer struct {
		cfg      InstallerConfig
		source   PackageSource
		backups  BackupManager
		history  HistoryRecorder
		clock    clock.Clock
		logger   *log.Logger
		progress *Broadcaster
		alert    AlertFunc

		mu     sync.Mutex
		active *attemptState
		last   *Attempt
	}

	// InstallerOption configures an Installer.
	InstallerOption func(*Installer)

	attemptState struct {
		Attempt
		cancel context.CancelFunc
	}

	// attemptRun carries the per-attempt working values through the stages.
	attemptRun struct {
		in       *Installer
		release  *ReleaseDescriptor
		from     string
		to       string
		pkgPath  string
		size     int64
		verified bool
		backup   string
	}
)

// WithHistory records every attempt outcome in h.
func WithHistory(h HistoryRecorder) InstallerOption {
	return func(in *Installer) { in.history = h }
}

// WithInstallerClock sets the time source for StartedAt and durations.
func WithInstallerClock(c clock.Clock) InstallerOption {
	return func(in *Installer) { in.clock = c }
}

// WithInstallerLogger sets the logger.
func WithInstallerLogger(l *log.Logger) InstallerOption {
	return func(in *Installer) {
		in.logger = l
		in.progress.logger = l
	}
}

// WithCriticalAlert replaces the default rollback-failure alert, which logs at
// error level with severity=critical.
func WithCriticalAlert(fn AlertFunc) InstallerOption {
	return func(in *Installer) { in.alert = fn }
}

// NewInstaller wires an installer to its package source and backup manager.
func NewInstaller(cfg InstallerConfig, source PackageSource, backups BackupManager, opts ...InstallerOption) *Installer {
	logger := log.Default().WithPrefix("installer")
	in := &Installer{
		cfg:      cfg,
		source:   source,
		backups:  backups,
		clock:    clock.Real{},
		logger:   logger,
		progress: NewBroadcaster(logger),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.alert == nil {
		in.alert = in.logAlert
	}
	return in
}

// Subscribe registers a progress observer. See Broadcaster.Subscribe.
func (in *Installer) Subscribe(buffer int) (<-chan ProgressEvent, func()) {
	return in.progress.Subscribe(buffer)
}

// CurrentVersion returns the installed release version from the install
// manifest, or the configured fallback when no manifest exists.
func (in *Installer) CurrentVersion() (string, error) {
	m, err := appdir.ReadManifest(in.cfg.InstallDir)
	if err == nil {
		return DisplayVersion(m.Version), nil
	}
	if errors.Is(err, appdir.ErrManifestMissing) && in.cfg.FallbackVersion != "" {
		return DisplayVersion(in.cfg.FallbackVersion), nil
	}
	return "", err
}

// CurrentInstallation returns a snapshot of the active attempt, or false when idle.
func (in *Installer) CurrentInstallation() (Attempt, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.active == nil {
		return Attempt{}, false
	}
	return in.active.Attempt, true
}

// LastInstallation returns the final snapshot of the most recent finished attempt.
func (in *Installer) LastInstallation() (Attempt, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.last == nil {
		return Attempt{}, false
	}
	return *in.last, true
}

// CancelInstallation asks the active attempt to stop. It only takes effect
// while downloading or verifying and reports whether the request was accepted.
func (in *Installer) CancelInstallation() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.active == nil || !in.active.Stage.Cancellable() {
		return false
	}
	in.active.CancelRequested = true
	in.active.cancel()
	return true
}

// InstallUpdate downloads, verifies and installs release. A second call while
// an attempt is active fails with ErrBusy. Errors are *InstallError values.
//
// Once the installing stage begins neither CancelInstallation nor ctx can
// interrupt the attempt; a failure from there on restores the backup taken
// just before.
func (in *Installer) InstallUpdate(ctx context.Context, release *ReleaseDescriptor) (*InstallResult, error) {
	attemptCtx, run, err := in.begin(ctx, release)
	if err != nil {
		return nil, err
	}
	defer in.end()

	return run.execute(ctx, attemptCtx)
}

func (in *Installer) begin(ctx context.Context, release *ReleaseDescriptor) (context.Context, *attemptRun, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.active != nil {
		return nil, nil, newInstallError(KindBusy, in.active.Stage, nil)
	}
	if probe, ok := in.backups.(rollbackProbe); ok && probe.IsRollbackInProgress() {
		return nil, nil, newInstallError(KindBusy, StageIdle, rollback.ErrRollbackInProgress)
	}
	if err := release.Validate(); err != nil {
		return nil, nil, newInstallError(KindValidationFailed, StageIdle, err)
	}
	from, err := in.CurrentVersion()
	if err != nil {
		return nil, nil, newInstallError(KindValidationFailed, StageIdle, fmt.Errorf("determining installed version: %w", err))
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	to := DisplayVersion(release.Version)
	in.active = &attemptState{
		Attempt: Attempt{
			FromVersion: from,
			ToVersion:   to,
			Stage:       StageIdle,
			StartedAt:   in.clock.Now(),
			Message:     "starting",
		},
		cancel: cancel,
	}
	return attemptCtx, &attemptRun{in: in, release: release, from: from, to: to}, nil
}

func (in *Installer) end() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.active == nil {
		return
	}
	in.active.cancel()
	last := in.active.Attempt
	in.last = &last
	in.active = nil
}

// report publishes progress within the current stage. Progress never moves
// backwards within a stage.
func (in *Installer) report(progress int, msg string) {
	in.mu.Lock()
	a := in.active
	progress = min(max(progress, a.Progress), 100)
	a.Progress = progress
	a.Message = msg
	ev := ProgressEvent{Stage: a.Stage, Progress: progress, Message: msg}
	in.mu.Unlock()

	in.progress.Publish(ev)
}

// transition moves the attempt to next. Before a terminal stage the current
// stage is first brought to 100.
func (in *Installer) transition(next Stage, progress int, msg string) {
	in.mu.Lock()
	a := in.active
	if !a.Stage.canTransition(next) {
		in.mu.Unlock()
		in.logger.Error("ignoring illegal stage transition", "from", a.Stage, "to", next)
		return
	}
	events := make([]ProgressEvent, 0, 2)
	if next.IsTerminal() && a.Stage != StageIdle && a.Progress < 100 {
		events = append(events, ProgressEvent{Stage: a.Stage, Progress: 100, Message: msg})
	}
	a.Stage = next
	a.Progress = progress
	a.Message = msg
	events = append(events, ProgressEvent{Stage: next, Progress: progress, Message: msg})
	in.mu.Unlock()

	for _, ev := range events {
		in.progress.Publish(ev)
	}
}

// enterInstalling passes the point of no return unless a cancel request
// arrived first. The check and the stage change happen under one lock.
func (in *Installer) enterInstalling(msg string) bool {
	in.mu.Lock()
	a := in.active
	if a.CancelRequested {
		in.mu.Unlock()
		return false
	}
	a.Stage = StageInstalling
	a.Progress = 0
	a.Message = msg
	ev := ProgressEvent{Stage: StageInstalling, Progress: 0, Message: msg}
	in.mu.Unlock()

	in.progress.Publish(ev)
	return true
}

func (in *Installer) stage() Stage {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.active.Stage
}

func (in *Installer) record(ctx context.Context, rec history.RecordInput) {
	if in.history == nil {
		return
	}
	if _, err := in.history.RecordUpdate(context.WithoutCancel(ctx), rec); err != nil {
		in.logger.Warn("recording update history failed", "error", err, "to", rec.ToVersion, "status", rec.Status)
	}
}

func (in *Installer) logAlert(_ context.Context, a Alert) {
	in.logger.Error("rollback failed, installation may be inconsistent",
		"severity", "critical",
		"from", a.FromVersion,
		"to", a.ToVersion,
		"backup", a.BackupPath,
		"error", a.Err,
	)
}

func (r *attemptRun) execute(parent, ctx context.Context) (*InstallResult, error) {
	in := r.in
	started := in.clock.Now()
	defer func() {
		if r.pkgPath != "" {
			_ = os.Remove(r.pkgPath)
		}
	}()

	in.logger.Info("installing update", "from", r.from, "to", r.to)

	if err := r.download(ctx); err != nil {
		return nil, r.abort(parent, started, err)
	}
	if err := r.verify(ctx); err != nil {
		return nil, r.abort(parent, started, err)
	}

	// Point of no return: nothing below observes ctx cancellation.
	if !in.enterInstalling(fmt.Sprintf("Backing up %s", r.from)) {
		return nil, r.abort(parent, started, context.Canceled)
	}
	installCtx := context.WithoutCancel(parent)

	if err := r.install(installCtx); err != nil {
		return nil, r.rollBack(installCtx, started, err)
	}

	res := &InstallResult{
		FromVersion:  r.from,
		ToVersion:    r.to,
		BackupPath:   r.backup,
		Duration:     in.clock.Since(started),
		DownloadSize: r.size,
	}
	in.transition(StageComplete, 100, fmt.Sprintf("Updated %s -> %s", r.from, r.to))
	in.record(installCtx, history.RecordInput{
		FromVersion:       r.from,
		ToVersion:         r.to,
		Status:            history.StatusSuccess,
		BackupPath:        r.backup,
		InstallDuration:   res.Duration,
		DownloadSizeBytes: r.size,
		ChecksumVerified:  r.verified,
	})
	in.logger.Info("update installed", "from", r.from, "to", r.to, "duration", res.Duration)
	return res, nil
}

func (r *attemptRun) download(ctx context.Context) error {
	in := r.in
	in.transition(StageDownloading, 0, fmt.Sprintf("Downloading %s", r.to))

	lastPct := 0
	var lastMark int64
	onProgress := func(done, total int64) {
		if total <= 0 {
			if done-lastMark >= indeterminateReportBytes {
				lastMark = done
				in.report(0, fmt.Sprintf("Downloaded %s", FormatBytes(done)))
			}
			return
		}
		pct := int(done * 100 / total)
		if pct > lastPct && pct < 100 {
			lastPct = pct
			in.report(pct, fmt.Sprintf("Downloaded %s of %s", FormatBytes(done), FormatBytes(total)))
		}
	}

	path, size, err := downloadToTempFile(ctx, in.source, r.release.DownloadURL, in.cfg.WorkDir, onProgress)
	if err != nil {
		return err
	}
	r.pkgPath = path
	r.size = size
	in.report(100, fmt.Sprintf("Downloaded %s", FormatBytes(size)))
	return nil
}

func (r *attemptRun) verify(ctx context.Context) error {
	in := r.in
	if err := ctx.Err(); err != nil {
		return err
	}
	algo := r.release.ChecksumAlgorithm
	in.transition(StageVerifying, 0, fmt.Sprintf("Verifying %s checksum", algo))

	f, err := os.Open(r.pkgPath)
	if err != nil {
		return fmt.Errorf("%w: opening package: %w", ErrChecksumMismatch, err)
	}
	defer func() { _ = f.Close() }() // read-only handle

	lastPct := 0
	pr := &progressReader{ctx: ctx, r: f, total: r.size, fn: func(done, total int64) {
		if total <= 0 {
			return
		}
		if pct := int(done * 100 / total); pct > lastPct && pct < 100 {
			lastPct = pct
			in.report(pct, fmt.Sprintf("Verifying %s checksum", algo))
		}
	}}

	got, err := digest(pr, algo)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrChecksumMismatch, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkDigest(redactURL(r.release.DownloadURL), got, r.release.ExpectedChecksum, algo); err != nil {
		return err
	}
	r.verified = true
	in.report(100, "Checksum verified")
	return nil
}

func (r *attemptRun) install(ctx context.Context) error {
	in := r.in

	snap, err := in.backups.CreateBackup(ctx, r.from)
	if err != nil {
		return &backupError{err: err}
	}
	r.backup = snap.Path
	in.report(20, fmt.Sprintf("Backup of %s created", r.from))

	staging, err := appdir.StagingDir(in.cfg.InstallDir, ".updatectl-staging-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := extractPackage(r.pkgPath, staging); err != nil {
		return fmt.Errorf("extracting package: %w", err)
	}
	in.report(50, "Package extracted")

	root, err := packageRoot(staging)
	if err != nil {
		return err
	}
	if err := r.ensureManifest(root); err != nil {
		return err
	}
	in.report(70, "Package manifest checked")

	if err := replaceDir(root, in.cfg.InstallDir); err != nil {
		return fmt.Errorf("replacing installation: %w", err)
	}
	in.report(100, fmt.Sprintf("Installed %s", r.to))
	return nil
}

// ensureManifest requires a packaged manifest to match the release version
// and writes one when the package has none.
func (r *attemptRun) ensureManifest(root string) error {
	m, err := appdir.ReadManifest(root)
	switch {
	case err == nil:
		if c, cmpErr := CompareVersions(m.Version, r.to); cmpErr != nil || c != 0 {
			return fmt.Errorf("package manifest version %q does not match release %s", m.Version, r.to)
		}
		return nil
	case errors.Is(err, appdir.ErrManifestMissing):
		return appdir.WriteManifest(root, appdir.Manifest{Name: r.in.cfg.AppName, Version: r.to})
	default:
		return err
	}
}

// abort ends an attempt that failed before the point of no return.
func (r *attemptRun) abort(ctx context.Context, started time.Time, cause error) error {
	in := r.in
	stage := in.stage()

	var (
		kind ErrorKind
		next = StageFailed
		msg  string
	)
	switch {
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		kind, next, msg = KindCancelled, StageCancelled, "Installation cancelled"
		cause = ErrCancelled
	case errors.Is(cause, ErrChecksumMismatch):
		kind, msg = KindChecksumMismatch, "Checksum mismatch, package discarded"
	default:
		kind, msg = KindNetworkFailure, fmt.Sprintf("Download failed: %v", cause)
	}

	in.transition(next, 100, msg)
	in.record(ctx, history.RecordInput{
		FromVersion:       r.from,
		ToVersion:         r.to,
		Status:            history.StatusFailed,
		ErrorMessage:      cause.Error(),
		InstallDuration:   in.clock.Since(started),
		DownloadSizeBytes: r.size,
		ChecksumVerified:  false,
	})
	in.logger.Warn("update aborted", "to", r.to, "stage", stage, "kind", kind, "error", cause)
	return newInstallError(kind, stage, cause)
}

// rollBack handles failures after the point of no return. A backup failure
// leaves the installation untouched; anything later triggers a restore.
func (r *attemptRun) rollBack(ctx context.Context, started time.Time, cause error) error {
	in := r.in

	rec := history.RecordInput{
		FromVersion:       r.from,
		ToVersion:         r.to,
		Status:            history.StatusFailed,
		BackupPath:        r.backup,
		DownloadSizeBytes: r.size,
		ChecksumVerified:  r.verified,
	}

	var be *backupError
	if errors.As(cause, &be) {
		rec.ErrorMessage = be.Error()
		rec.InstallDuration = in.clock.Since(started)
		in.transition(StageFailed, 100, "Backup failed, installation left unchanged")
		in.record(ctx, rec)
		in.logger.Error("backup failed, update aborted", "to", r.to, "error", be.err)
		return newInstallError(KindBackupFailed, StageInstalling, be.err)
	}

	in.report(0, fmt.Sprintf("Installation failed, restoring %s", r.from))
	in.logger.Error("installation failed, restoring backup", "to", r.to, "backup", r.backup, "error", cause)

	restoreErr := in.backups.Restore(ctx, r.backup)
	rec.InstallDuration = in.clock.Since(started)

	if restoreErr == nil {
		rec.Status = history.StatusRolledBack
		rec.ErrorMessage = cause.Error()
		in.transition(StageFailed, 100, fmt.Sprintf("Installation failed, restored %s", r.from))
		in.record(ctx, rec)
		return newInstallError(KindInstallFailed, StageInstalling, cause)
	}

	combined := fmt.Errorf("install: %w; restore: %w", cause, restoreErr)
	rec.ErrorMessage = combined.Error()
	in.transition(StageFailed, 100, "Installation failed and the backup could not be restored")
	in.record(ctx, rec)
	in.alert(ctx, Alert{FromVersion: r.from, ToVersion: r.to, BackupPath: r.backup, Err: combined})
	return newInstallError(KindRollbackFailed, StageInstalling, combined)
}

// backupError tags CreateBackup failures inside the installing stage.
type backupError struct{ err error }

func (e *backupError) Error() string { return fmt.Sprintf("backup failed: %v", e.err) }
func (e *backupError) Unwrap() error { return e.err }

// progressReader reports bytes read and stops once ctx is done.
type progressReader struct {
	ctx   context.Context
	r     io.Reader
	done  int64
	total int64
	fn    func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	p.done += int64(n)
	if n > 0 && p.fn != nil {
		p.fn(p.done, p.total)
	}
	return n, err
}

// FormatBytes renders n with a binary unit, e.g. "1.5 MiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
