package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/freaghill/hangjegyzet-sub008/upload/session"
)

// schemaVersion is bumped on incompatible schema changes; stores with a
// different version refuse to open rather than guessing a migration.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by an incompatible
// version of this package.
var ErrSchemaMismatch = errors.New("session store schema version mismatch")

const schemaSQL = `
CREATE TABLE upload_sessions (
    upload_id       TEXT PRIMARY KEY,
    file_name       TEXT NOT NULL,
    file_size       INTEGER NOT NULL,
    file_type       TEXT NOT NULL,
    chunk_size      INTEGER NOT NULL,
    total_chunks    INTEGER NOT NULL,
    uploaded_chunks TEXT NOT NULL,
    extra_json      TEXT,
    status          TEXT NOT NULL,
    start_time      TEXT NOT NULL,
    expires_at      TEXT NOT NULL
);
CREATE INDEX idx_upload_sessions_expires_at ON upload_sessions (expires_at);
CREATE TABLE schema_version (version INTEGER NOT NULL);
`

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// OpenSQLite initializes or connects to the session database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &SQLite{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Save upserts the session under its upload id.
func (s *SQLite) Save(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return errors.New("session is nil")
	}

	uploadedJSON, err := json.Marshal(sess.UploadedIndices())
	if err != nil {
		return fmt.Errorf("marshal uploaded chunks: %w", err)
	}

	var extraJSON any
	if len(sess.Extra) > 0 {
		data, err := json.Marshal(sess.Extra)
		if err != nil {
			return fmt.Errorf("marshal extra fields: %w", err)
		}
		extraJSON = string(data)
	}

	return s.execWithRetry(ctx, `
        INSERT INTO upload_sessions (
            upload_id, file_name, file_size, file_type, chunk_size,
            total_chunks, uploaded_chunks, extra_json, status, start_time, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(upload_id) DO UPDATE SET
            uploaded_chunks = excluded.uploaded_chunks,
            extra_json      = excluded.extra_json,
            status          = excluded.status,
            expires_at      = excluded.expires_at`,
		sess.ID,
		sess.FileName,
		sess.FileSize,
		sess.FileType,
		sess.ChunkSize,
		sess.TotalChunks,
		string(uploadedJSON),
		extraJSON,
		string(sess.Status),
		sess.StartTime.UTC().Format(time.RFC3339Nano),
		sess.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
}

// Load fetches a session by upload id; it returns nil, nil when absent.
func (s *SQLite) Load(ctx context.Context, uploadID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT upload_id, file_name, file_size, file_type, chunk_size,
               total_chunks, uploaded_chunks, extra_json, status, start_time, expires_at
        FROM upload_sessions WHERE upload_id = ?`, uploadID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// Delete removes a session; deleting an absent session is not an error.
func (s *SQLite) Delete(ctx context.Context, uploadID string) error {
	return s.execWithRetry(ctx, `DELETE FROM upload_sessions WHERE upload_id = ?`, uploadID)
}

// ListResumable returns summaries of sessions still eligible for resume.
func (s *SQLite) ListResumable(ctx context.Context, now time.Time) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT upload_id, file_name, file_size, file_type, chunk_size,
               total_chunks, uploaded_chunks, expires_at
        FROM upload_sessions
        WHERE expires_at > ?
        ORDER BY start_time`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("list resumable sessions: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			summary       Summary
			chunkSize     int64
			totalChunks   int
			uploadedJSON  string
			expiresAtText string
		)
		if err := rows.Scan(
			&summary.UploadID, &summary.FileName, &summary.FileSize, &summary.FileType,
			&chunkSize, &totalChunks, &uploadedJSON, &expiresAtText,
		); err != nil {
			return nil, err
		}

		var uploaded []int
		if err := json.Unmarshal([]byte(uploadedJSON), &uploaded); err != nil {
			return nil, fmt.Errorf("decode uploaded chunks for %s: %w", summary.UploadID, err)
		}
		summary.Progress = progressPercent(len(uploaded), chunkSize, summary.FileSize)

		summary.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAtText)
		if err != nil {
			return nil, fmt.Errorf("parse expiry for %s: %w", summary.UploadID, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// DeleteExpired removes sessions whose expiry has passed.
func (s *SQLite) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM upload_sessions WHERE expires_at <= ?`,
			now.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return affected, nil
}

func scanSession(row *sql.Row) (*session.Session, error) {
	var (
		sess          session.Session
		uploadedJSON  string
		extraJSON     sql.NullString
		status        string
		startTimeText string
		expiresAtText string
	)
	if err := row.Scan(
		&sess.ID, &sess.FileName, &sess.FileSize, &sess.FileType, &sess.ChunkSize,
		&sess.TotalChunks, &uploadedJSON, &extraJSON, &status, &startTimeText, &expiresAtText,
	); err != nil {
		return nil, err
	}

	var uploaded []int
	if err := json.Unmarshal([]byte(uploadedJSON), &uploaded); err != nil {
		return nil, fmt.Errorf("decode uploaded chunks: %w", err)
	}
	sess.Uploaded = make(map[int]struct{}, len(uploaded))
	for _, index := range uploaded {
		sess.Uploaded[index] = struct{}{}
	}

	if extraJSON.Valid && extraJSON.String != "" {
		if err := json.Unmarshal([]byte(extraJSON.String), &sess.Extra); err != nil {
			return nil, fmt.Errorf("decode extra fields: %w", err)
		}
	}

	sess.Status = session.Status(status)

	var err error
	if sess.StartTime, err = time.Parse(time.RFC3339Nano, startTimeText); err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}
	if sess.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAtText); err != nil {
		return nil, fmt.Errorf("parse expiry: %w", err)
	}
	return &sess, nil
}

func progressPercent(uploadedChunks int, chunkSize, fileSize int64) int {
	if fileSize <= 0 {
		return 0
	}
	bytes := int64(uploadedChunks) * chunkSize
	if bytes > fileSize {
		bytes = fileSize
	}
	return int(math.Round(float64(bytes) / float64(fileSize) * 100))
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *SQLite) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
