// SPDX-License-Identifier: MPL-2.0

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opsreport/updatectl/internal/clock"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultRetention is the number of records kept when no cap is configured.
const DefaultRetention = 100

const selectColumns = `id, timestamp, from_version, to_version, status, error_message,
	backup_path, install_duration_ms, download_size_bytes, checksum_verified`

//nolint:gochecknoglobals // Test seam for retention failures.
var enforceRetention = (*Service).enforceRetention

type (
	// Service records and queries update attempts.
	Service struct {
		db        *sql.DB
		retention int
		clock     clock.Clock
		logger    *log.Logger
		newID     func() string

		// mu serializes writes so the retention pass sees every prior insert.
		mu     sync.Mutex
		lastTS time.Time
	}

	// Option configures a Service.
	Option func(*Service)

	scanner interface {
		Scan(dest ...any) error
	}
)

// WithRetention sets the maximum number of records kept. Values below 1 are ignored.
func WithRetention(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.retention = n
		}
	}
}

// WithClock sets the time source for record timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger used for retention failures.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wraps an open, migrated database.
func NewService(db *sql.DB, opts ...Option) *Service {
	s := &Service{
		db:        db,
		retention: DefaultRetention,
		clock:     clock.Real{},
		logger:    log.Default().WithPrefix("history"),
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens (creating if needed) the history database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Service, error) {
	db, err := OpenDB(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewService(db, opts...), nil
}

// Close closes the underlying database.
func (s *Service) Close() error {
	return s.db.Close()
}

// Retention returns the configured record cap.
func (s *Service) Retention() int { return s.retention }

// RecordUpdate appends one record and then trims the log to the retention
// cap. Trimming failures are logged and never returned; the new record is
// always kept.
func (s *Service) RecordUpdate(ctx context.Context, in RecordInput) (Record, error) {
	if err := in.validate(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Timestamps are strictly increasing within the process so that
	// newest-first order matches insertion order even if the wall clock steps back.
	ts := s.clock.Now().UTC()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Nanosecond)
	}

	rec := Record{
		ID:                s.newID(),
		Timestamp:         ts,
		FromVersion:       normalizeVersion(in.FromVersion),
		ToVersion:         normalizeVersion(in.ToVersion),
		Status:            in.Status,
		ErrorMessage:      in.ErrorMessage,
		BackupPath:        in.BackupPath,
		InstallDuration:   in.InstallDuration,
		DownloadSizeBytes: in.DownloadSizeBytes,
		ChecksumVerified:  in.ChecksumVerified,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO update_history (`+selectColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixNano(), rec.FromVersion, rec.ToVersion, string(rec.Status),
		nullString(rec.ErrorMessage), nullString(rec.BackupPath),
		nullInt(rec.InstallDuration.Milliseconds()), nullInt(rec.DownloadSizeBytes),
		rec.ChecksumVerified,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert update record: %w", err)
	}
	s.lastTS = ts

	if err := enforceRetention(s, ctx, rec.ID); err != nil {
		s.logger.Warn("trimming update history failed", "error", err, "retention", s.retention)
	}

	// Round-trip precision: durations are stored in milliseconds.
	rec.InstallDuration = rec.InstallDuration.Truncate(time.Millisecond)
	return rec, nil
}

// enforceRetention deletes everything except keepID and the newest
// retention-1 other records. Must be called with mu held.
func (s *Service) enforceRetention(ctx context.Context, keepID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM update_history
		 WHERE id != ?
		   AND rowid NOT IN (
		     SELECT rowid FROM update_history
		     WHERE id != ?
		     ORDER BY timestamp DESC, rowid DESC
		     LIMIT ?)`,
		keepID, keepID, s.retention-1,
	)
	if err != nil {
		return fmt.Errorf("delete old update records: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("trimmed update history", "deleted", n, "retention", s.retention)
	}
	return nil
}

// GetHistory returns up to limit records, newest first. A non-positive limit
// returns every record.
func (s *Service) GetHistory(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM update_history
		 ORDER BY timestamp DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list update records: %w", err)
	}
	return collect(rows)
}

// GetHistoryByVersion returns records whose from or to version equals
// version ("v" prefix optional), newest first.
func (s *Service) GetHistoryByVersion(ctx context.Context, version string) ([]Record, error) {
	v := normalizeVersion(version)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM update_history
		 WHERE from_version = ? OR to_version = ?
		 ORDER BY timestamp DESC, rowid DESC`,
		v, v,
	)
	if err != nil {
		return nil, fmt.Errorf("list update records for %s: %w", v, err)
	}
	return collect(rows)
}

// GetRecordCount returns the number of stored records.
func (s *Service) GetRecordCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM update_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count update records: %w", err)
	}
	return n, nil
}

func collect(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec                Record
		tsNanos            int64
		status             string
		errMsg, backupPath sql.NullString
		durMS, size        sql.NullInt64
	)
	err := s.Scan(&rec.ID, &tsNanos, &rec.FromVersion, &rec.ToVersion, &status,
		&errMsg, &backupPath, &durMS, &size, &rec.ChecksumVerified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan update record: %w", err)
	}
	rec.Timestamp = time.Unix(0, tsNanos).UTC()
	rec.Status = Status(status)
	rec.ErrorMessage = errMsg.String
	rec.BackupPath = backupPath.String
	rec.InstallDuration = time.Duration(durMS.Int64) * time.Millisecond
	rec.DownloadSizeBytes = size.Int64
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n > 0}
}
