// Package storage uploads finished timelapse artifacts to an S3-compatible
// archive bucket (R2, MinIO, S3). Uploads are best-effort: the local artifact
// is always the source of truth and a failed upload only queues a retry.
package storage

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// Number of attempts for the upload retry loop before the artifact is handed
// to the pending queue.
const maxUploadAttempts = 3

// ArchiveConfig holds the S3-compatible target configuration.
type ArchiveConfig struct {
	AccessKey string
	SecretKey string
	Endpoint  string
	Region    string
	Bucket    string
	BaseURL   string // public URL prefix for uploaded files
}

// ArchiveStorage handles uploads to the archive bucket.
type ArchiveStorage struct {
	config   ArchiveConfig
	uploader *s3manager.Uploader
}

// NewArchiveStorage creates an uploader session for the configured bucket.
func NewArchiveStorage(config ArchiveConfig) (*ArchiveStorage, error) {
	if config.Region == "" {
		config.Region = "auto"
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		Endpoint:    aws.String(config.Endpoint),
		Region:      aws.String(config.Region),
		// Path style keeps us compatible with R2/MinIO endpoints
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}

	// 10 MB parts, one connection: the appliance usually sits behind a
	// modest uplink and a timelapse is uploaded once a day, so sequential
	// parts are the right trade.
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 1
	})

	return &ArchiveStorage{
		config:   config,
		uploader: uploader,
	}, nil
}

// TimelapseKey returns the bucket key for a dated artifact.
func TimelapseKey(date string) string {
	return path.Join("timelapses", date+".mp4")
}

// UploadFile uploads one local file to the given bucket key, retrying with
// exponential backoff. Returns the public URL on success.
func (a *ArchiveStorage) UploadFile(localPath, remoteKey string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %v", localPath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to get file info: %v", err)
	}

	contentType := "application/octet-stream"
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".mp4":
		contentType = "video/mp4"
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	}

	metadata := map[string]*string{
		"OriginalFileName": aws.String(filepath.Base(localPath)),
		"UploadedAt":       aws.String(time.Now().Format(time.RFC3339)),
		"FileSize":         aws.String(fmt.Sprintf("%d", fileInfo.Size())),
	}

	log.Printf("[archive] Uploading %s (%.2f MB) to %s", localPath,
		float64(fileInfo.Size())/1024/1024, remoteKey)

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		if _, err := file.Seek(0, 0); err != nil {
			return "", fmt.Errorf("failed to seek to beginning of file: %v", err)
		}

		_, lastErr = a.uploader.Upload(&s3manager.UploadInput{
			Bucket:      aws.String(a.config.Bucket),
			Key:         aws.String(remoteKey),
			Body:        file,
			ContentType: aws.String(contentType),
			Metadata:    metadata,
		})
		if lastErr == nil {
			break
		}

		log.Printf("[archive] Upload attempt %d/%d failed for %s: %v",
			attempt, maxUploadAttempts, localPath, lastErr)
		time.Sleep(time.Duration(1<<uint(attempt)) * time.Second)
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to upload after %d attempts: %v", maxUploadAttempts, lastErr)
	}

	publicURL := fmt.Sprintf("%s/%s", strings.TrimSuffix(a.config.BaseURL, "/"), remoteKey)
	log.Printf("[archive] Uploaded %s", publicURL)
	return publicURL, nil
}
