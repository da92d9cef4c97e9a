package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (creating if needed) the journal database.
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %v", err)
	}

	if err := initTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %v", err)
	}

	return &SQLiteDB{db: db}, nil
}

func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS timelapse_runs (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			force_run INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			duration_secs REAL DEFAULT 0
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_uploads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			local_path TEXT NOT NULL,
			remote_key TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_timelapse_runs_date ON timelapse_runs (date)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at)
	`)
	return err
}

// RecordTimelapseRun inserts one generation attempt.
func (s *SQLiteDB) RecordTimelapseRun(run TimelapseRun) error {
	_, err := s.db.Exec(`
		INSERT INTO timelapse_runs (
			id, date, force_run, success, message, started_at, finished_at, duration_secs
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Date,
		run.Force,
		run.Success,
		run.Message,
		run.StartedAt,
		run.FinishedAt,
		run.DurationSecs,
	)
	if err != nil {
		return fmt.Errorf("failed to record timelapse run: %v", err)
	}
	return nil
}

// ListTimelapseRuns returns the most recent runs, newest first.
func (s *SQLiteDB) ListTimelapseRuns(limit int) ([]TimelapseRun, error) {
	rows, err := s.db.Query(`
		SELECT id, date, force_run, success, message, started_at, finished_at, duration_secs
		FROM timelapse_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list timelapse runs: %v", err)
	}
	defer rows.Close()

	var runs []TimelapseRun
	for rows.Next() {
		var run TimelapseRun
		var message sql.NullString
		if err := rows.Scan(&run.ID, &run.Date, &run.Force, &run.Success,
			&message, &run.StartedAt, &run.FinishedAt, &run.DurationSecs); err != nil {
			return nil, err
		}
		run.Message = message.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LogEvent appends one operational event.
func (s *SQLiteDB) LogEvent(kind, detail string) error {
	_, err := s.db.Exec(`
		INSERT INTO events (kind, detail, created_at) VALUES (?, ?, ?)
	`, kind, detail, time.Now())
	if err != nil {
		return fmt.Errorf("failed to log event: %v", err)
	}
	return nil
}

// ListEvents returns the most recent events, newest first.
func (s *SQLiteDB) ListEvents(limit int) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, detail, created_at
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %v", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Kind, &detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Detail = detail.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// EnqueueUpload adds a failed artifact upload to the retry queue.
func (s *SQLiteDB) EnqueueUpload(localPath, remoteKey, lastError string) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_uploads (local_path, remote_key, attempts, last_error, created_at)
		VALUES (?, ?, 1, ?, ?)
	`, localPath, remoteKey, lastError, time.Now())
	if err != nil {
		return fmt.Errorf("failed to enqueue upload: %v", err)
	}
	return nil
}

// ListPendingUploads returns queued uploads, oldest first.
func (s *SQLiteDB) ListPendingUploads(limit int) ([]PendingUpload, error) {
	rows, err := s.db.Query(`
		SELECT id, local_path, remote_key, attempts, last_error, created_at
		FROM pending_uploads
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending uploads: %v", err)
	}
	defer rows.Close()

	var uploads []PendingUpload
	for rows.Next() {
		var up PendingUpload
		var lastError sql.NullString
		if err := rows.Scan(&up.ID, &up.LocalPath, &up.RemoteKey,
			&up.Attempts, &lastError, &up.CreatedAt); err != nil {
			return nil, err
		}
		up.LastError = lastError.String
		uploads = append(uploads, up)
	}
	return uploads, rows.Err()
}

// MarkUploadAttempt bumps the attempt counter after another failure.
func (s *SQLiteDB) MarkUploadAttempt(id int64, lastError string) error {
	_, err := s.db.Exec(`
		UPDATE pending_uploads SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, lastError, id)
	return err
}

// DeletePendingUpload removes a queue entry after a successful upload.
func (s *SQLiteDB) DeletePendingUpload(id int64) error {
	_, err := s.db.Exec(`DELETE FROM pending_uploads WHERE id = ?`, id)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
