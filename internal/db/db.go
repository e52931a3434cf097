// Package db keeps a local SQLite ledger of pipeline runs and the uploads
// each run performed.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	path string
}

// RunStatus is the state of a pipeline run
type RunStatus string

const (
	StatusRunning      RunStatus = "running"
	StatusSucceeded    RunStatus = "succeeded"
	StatusBuildFailed  RunStatus = "build_failed"
	StatusUploadFailed RunStatus = "upload_failed"
	StatusCancelled    RunStatus = "cancelled"
)

// UploadStatus is the final state of one upload
type UploadStatus string

const (
	UploadSucceeded UploadStatus = "succeeded"
	UploadFailed    UploadStatus = "failed"
)

// Run is one invocation of the pipeline
type Run struct {
	ID              string
	Board           string
	Bucket          string
	Suffix          string
	Clean           bool
	Status          RunStatus
	ExitCode        *int
	Packages        int
	LogPath         string
	User            string
	Host            string
	CreatedAt       time.Time
	CompletedAt     *time.Time
	DurationSeconds *int
	ErrorMessage    string

	// Filled by ListRuns.
	UploadsSucceeded int
	UploadsFailed    int
}

// Upload is one published file
type Upload struct {
	ID           int64
	RunID        string
	RemoteKey    string
	URL          string
	LocalPath    string
	SizeBytes    int64
	Attempts     int
	Status       UploadStatus
	ErrorMessage string
	CreatedAt    time.Time
}

// Open opens or creates the SQLite database at the given path
func Open(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases intact and serializes writers.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: dbPath,
	}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// migrate applies the schema to the database
func (db *DB) migrate() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := db.conn.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the underlying database file path
func (db *DB) Path() string {
	return db.path
}

// CreateRun inserts a new run record in the running state
func (db *DB) CreateRun(ctx context.Context, run *Run) error {
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO runs (
			id, board, bucket, suffix, clean, status, log_path, user, host, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		run.ID, run.Board, run.Bucket, run.Suffix, run.Clean, run.Status,
		run.LogPath, run.User, run.Host, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// SetPackages records the size of the resolved build order
func (db *DB) SetPackages(ctx context.Context, runID string, packages int) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE runs SET packages = ? WHERE id = ?`, packages, runID)
	if err != nil {
		return fmt.Errorf("failed to update run packages: %w", err)
	}
	return nil
}

// CompleteRun stores the final status of a run
func (db *DB) CompleteRun(ctx context.Context, runID string, status RunStatus, exitCode int, duration time.Duration, errorMsg string) error {
	query := `
		UPDATE runs
		SET status = ?, exit_code = ?, completed_at = ?, duration_seconds = ?, error_message = ?
		WHERE id = ?
	`
	res, err := db.conn.ExecContext(ctx, query, status, exitCode, time.Now(), int(duration.Seconds()), errorMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

const runColumns = `
	id, board, bucket, suffix, clean, status, exit_code, packages, log_path,
	user, host, created_at, completed_at, duration_seconds, error_message`

func scanRun(row interface{ Scan(...any) error }, run *Run, extra ...any) error {
	var errorMessage sql.NullString
	dest := []any{
		&run.ID, &run.Board, &run.Bucket, &run.Suffix, &run.Clean, &run.Status,
		&run.ExitCode, &run.Packages, &run.LogPath, &run.User, &run.Host,
		&run.CreatedAt, &run.CompletedAt, &run.DurationSeconds, &errorMessage,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}
	return nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	run := &Run{}
	err := scanRun(db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID), run)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, optionally for one board
func (db *DB) ListRuns(ctx context.Context, board string, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + `,
		(SELECT COUNT(*) FROM uploads u WHERE u.run_id = runs.id AND u.status = 'succeeded'),
		(SELECT COUNT(*) FROM uploads u WHERE u.run_id = runs.id AND u.status = 'failed')
		FROM runs
		WHERE 1=1
	`
	args := []any{}
	if board != "" {
		query += " AND board = ?"
		args = append(args, board)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		if err := scanRun(rows, run, &run.UploadsSucceeded, &run.UploadsFailed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AddUpload records the outcome of one upload
func (db *DB) AddUpload(ctx context.Context, upload *Upload) error {
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO uploads (run_id, remote_key, url, local_path, size_bytes, attempts, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.conn.ExecContext(ctx, query,
		upload.RunID, upload.RemoteKey, upload.URL, upload.LocalPath, upload.SizeBytes,
		upload.Attempts, upload.Status, upload.ErrorMessage, upload.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add upload: %w", err)
	}
	id, _ := result.LastInsertId()
	upload.ID = id
	return nil
}

// ListUploads returns the uploads of a run ordered by remote key
func (db *DB) ListUploads(ctx context.Context, runID string) ([]*Upload, error) {
	query := `
		SELECT id, run_id, remote_key, url, local_path, size_bytes, attempts, status, error_message, created_at
		FROM uploads WHERE run_id = ?
		ORDER BY remote_key
	`
	rows, err := db.conn.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	uploads := []*Upload{}
	for rows.Next() {
		upload := &Upload{}
		var errorMessage sql.NullString
		err := rows.Scan(
			&upload.ID, &upload.RunID, &upload.RemoteKey, &upload.URL, &upload.LocalPath,
			&upload.SizeBytes, &upload.Attempts, &upload.Status, &errorMessage, &upload.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		upload.ErrorMessage = errorMessage.String
		uploads = append(uploads, upload)
	}
	return uploads, rows.Err()
}

// DeleteRunsBefore removes runs (and their uploads) created before cutoff
func (db *DB) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}
