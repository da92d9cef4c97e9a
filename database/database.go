// Package database is the operational journal: timelapse run history,
// capture lifecycle events and the archive upload retry queue. It is
// write-mostly observability. Recording health and timeline data are always
// derived from the filesystem, never from here.
package database

import (
	"time"
)

// Event kinds recorded to the journal.
const (
	EventCaptureStart   = "capture_start"
	EventCaptureExit    = "capture_exit"
	EventConfigReload   = "config_reload"
	EventStorageWait    = "storage_wait"
	EventThumbnailError = "thumbnail_error"
	EventArchiveUpload  = "archive_upload"
	EventHealthCheck    = "health_check"
)

// TimelapseRun is one record of a timelapse generation attempt.
type TimelapseRun struct {
	ID           string    `json:"id"`
	Date         string    `json:"date"`  // target day, YYYY-MM-DD
	Force        bool      `json:"force"` // overwrite was requested
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	DurationSecs float64   `json:"durationSecs"`
}

// Event is one operational event (capture restart, config reload, ...).
type Event struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

// PendingUpload is a timelapse artifact whose archive upload failed and is
// waiting to be retried.
type PendingUpload struct {
	ID        int64     `json:"id"`
	LocalPath string    `json:"localPath"`
	RemoteKey string    `json:"remoteKey"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError"`
	CreatedAt time.Time `json:"createdAt"`
}

// Database defines the journal operations.
type Database interface {
	// Timelapse history
	RecordTimelapseRun(run TimelapseRun) error
	ListTimelapseRuns(limit int) ([]TimelapseRun, error)

	// Event log
	LogEvent(kind, detail string) error
	ListEvents(limit int) ([]Event, error)

	// Archive retry queue
	EnqueueUpload(localPath, remoteKey, lastError string) error
	ListPendingUploads(limit int) ([]PendingUpload, error)
	MarkUploadAttempt(id int64, lastError string) error
	DeletePendingUpload(id int64) error

	Close() error
}
