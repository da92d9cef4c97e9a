package cron

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"

	"boxcam/database"
	"boxcam/storage"
)

const (
	// Queue entries are dropped once they have failed this many times.
	maxQueueAttempts = 10

	queueBatchSize = 20
)

// UploadRetryCron drains the archive upload retry queue every ten minutes.
// Entries land in the queue when the upload right after timelapse generation
// fails (box offline, credentials rotated); the artifact on disk stays the
// source of truth either way.
type UploadRetryCron struct {
	cron  *cron.Cron
	db    database.Database
	store *storage.ArchiveStorage
}

// NewUploadRetryCron creates the upload retry job.
func NewUploadRetryCron(db database.Database, store *storage.ArchiveStorage) *UploadRetryCron {
	return &UploadRetryCron{
		cron:  cron.New(cron.WithSeconds()),
		db:    db,
		store: store,
	}
}

// Start begins the retry job (every 10 minutes) and blocks until ctx is
// cancelled.
func (u *UploadRetryCron) Start(ctx context.Context) error {
	log.Println("Starting upload retry cron job (every 10 minutes)")

	_, err := u.cron.AddFunc("0 */10 * * * *", func() {
		u.drainQueue()
	})
	if err != nil {
		return err
	}

	u.cron.Start()
	u.drainQueue()

	<-ctx.Done()
	u.Stop()
	return nil
}

// Stop stops the upload retry cron job.
func (u *UploadRetryCron) Stop() {
	log.Println("Stopping upload retry cron job")
	u.cron.Stop()
}

func (u *UploadRetryCron) drainQueue() {
	if u.store == nil {
		// Archive disabled; leave any queued entries for when it comes back.
		return
	}
	pending, err := u.db.ListPendingUploads(queueBatchSize)
	if err != nil {
		log.Printf("Upload retry: listing queue: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	log.Printf("Upload retry: %d queued upload(s)", len(pending))

	for _, p := range pending {
		if _, err := os.Stat(p.LocalPath); err != nil {
			log.Printf("Upload retry: %s vanished, dropping from queue", p.LocalPath)
			u.db.DeletePendingUpload(p.ID)
			continue
		}
		if p.Attempts >= maxQueueAttempts {
			log.Printf("Upload retry: giving up on %s after %d attempts", p.LocalPath, p.Attempts)
			u.db.DeletePendingUpload(p.ID)
			continue
		}

		url, err := u.store.UploadFile(p.LocalPath, p.RemoteKey)
		if err != nil {
			log.Printf("Upload retry: %s failed again: %v", p.LocalPath, err)
			u.db.MarkUploadAttempt(p.ID, err.Error())
			continue
		}
		log.Printf("Upload retry: %s uploaded to %s", filepath.Base(p.LocalPath), url)
		u.db.DeletePendingUpload(p.ID)
		u.db.LogEvent(database.EventArchiveUpload, fmt.Sprintf("%s -> %s (retry)", filepath.Base(p.LocalPath), url))
	}
}
