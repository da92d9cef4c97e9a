// Package timelapse condenses one day of recordings into a single 100x
// speed video. Generation is idempotent: the artifact file's existence is
// the completion marker, so re-running a finished day is a cheap no-op.
package timelapse

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"boxcam/config"
	"boxcam/database"
	"boxcam/segment"
	"boxcam/storage"
)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Result is the outcome of one generation attempt.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Generator builds timelapse artifacts. A weighted semaphore serializes
// runs so a manual trigger and the nightly schedule cannot encode
// concurrently; whichever run goes second finds the artifact and skips.
type Generator struct {
	cfg   *config.Manager
	db    database.Database
	store *storage.ArchiveStorage
	sem   *semaphore.Weighted
}

// NewGenerator wires a generator. db and store may be nil (no journal, no
// archive upload).
func NewGenerator(cfg *config.Manager, db database.Database, store *storage.ArchiveStorage) *Generator {
	return &Generator{
		cfg:   cfg,
		db:    db,
		store: store,
		sem:   semaphore.NewWeighted(1),
	}
}

// OutputPath returns where the artifact for date lives under the current
// settings.
func (g *Generator) OutputPath(date string) string {
	conf := g.cfg.Current()
	return filepath.Join(g.cfg.Root(), conf.Subfolder, conf.TimelapseOutputDir, date+".mp4")
}

// Generate builds the timelapse for date (YYYY-MM-DD) synchronously and
// records the attempt in the journal. Today and future dates are rejected:
// today's directory is still being written to.
func (g *Generator) Generate(ctx context.Context, date string, force bool) Result {
	day, ok := parseDate(date)
	if !ok {
		return Result{Success: false, Message: "Invalid date format"}
	}
	if !beforeToday(day, time.Now()) {
		return Result{Success: false, Message: "Cannot generate timelapse for today or future dates."}
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Result{Success: false, Message: fmt.Sprintf("Timelapse generation cancelled: %v", err)}
	}
	defer g.sem.Release(1)

	started := time.Now()
	res := g.run(ctx, day, date, force)
	g.record(date, force, res, started)
	return res
}

// GenerateAsync validates the request, fires the generation in the
// background and reports immediately.
func (g *Generator) GenerateAsync(date string, force bool) Result {
	day, ok := parseDate(date)
	if !ok {
		return Result{Success: false, Message: "Invalid date format"}
	}
	if !beforeToday(day, time.Now()) {
		return Result{Success: false, Message: "Cannot generate timelapse for today or future dates."}
	}
	go g.Generate(context.Background(), date, force)
	return Result{Success: true, Message: fmt.Sprintf("Timelapse generation started for %s. Check back in a few minutes.", date)}
}

func (g *Generator) run(ctx context.Context, day time.Time, date string, force bool) Result {
	conf := g.cfg.Current()

	outDir := filepath.Join(g.cfg.Root(), conf.Subfolder, conf.TimelapseOutputDir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return Result{Success: false, Message: fmt.Sprintf("Error during timelapse generation: %v", err)}
	}
	outPath := filepath.Join(outDir, date+".mp4")

	if !force {
		if _, err := os.Stat(outPath); err == nil {
			msg := fmt.Sprintf("Timelapse already exists for %s. Skipping.", date)
			log.Printf("[timelapse] %s", msg)
			return Result{Success: true, Message: msg}
		}
	}

	srcDir := segment.DayDir(g.cfg.Root(), conf.Subfolder, day)
	log.Printf("[timelapse] checking for recordings in %s", srcDir)
	if _, err := os.Stat(srcDir); err != nil {
		return Result{Success: false, Message: fmt.Sprintf("No folder found for date: %s", date)}
	}

	files, err := segment.ListDay(srcDir)
	if err != nil || len(files) == 0 {
		return Result{Success: false, Message: fmt.Sprintf("No .mp4 files found for %s.", date)}
	}

	valid := make([]segment.File, 0, len(files))
	for _, f := range files {
		if f.Size > 0 {
			valid = append(valid, f)
		} else {
			log.Printf("[timelapse] skipping empty recording: %s", f.Name)
		}
	}
	if len(valid) == 0 {
		return Result{Success: false, Message: fmt.Sprintf("No valid recordings found for %s.", date)}
	}
	segment.SortByStart(day, valid)
	log.Printf("[timelapse] found %d videos", len(valid))

	manifest := filepath.Join(srcDir, fmt.Sprintf("playlist_%s.txt", uuid.New().String()[:8]))
	if err := writeManifest(manifest, valid); err != nil {
		os.Remove(manifest)
		return Result{Success: false, Message: fmt.Sprintf("Error during timelapse generation: %v", err)}
	}
	defer func() {
		if err := os.Remove(manifest); err == nil {
			log.Printf("[timelapse] cleaned up %s", filepath.Base(manifest))
		}
	}()

	// Encode into a scratch name so a failed run never leaves a partial
	// artifact behind to satisfy the exists-check of the next run.
	partPath := strings.TrimSuffix(outPath, ".mp4") + ".part.mp4"
	log.Printf("[timelapse] starting generation -> %s", outPath)
	start := time.Now()
	cmd := exec.CommandContext(ctx, "ffmpeg", encodeArgs(manifest, partPath)...)
	if err := cmd.Run(); err != nil {
		os.Remove(partPath)
		return Result{Success: false, Message: fmt.Sprintf("FFmpeg failed: %v", err)}
	}
	if err := os.Rename(partPath, outPath); err != nil {
		return Result{Success: false, Message: fmt.Sprintf("Error during timelapse generation: %v", err)}
	}

	msg := fmt.Sprintf("Timelapse created successfully in %.2f seconds!", time.Since(start).Seconds())
	log.Printf("[timelapse] %s", msg)
	g.archive(date, outPath)
	return Result{Success: true, Message: msg}
}

// archive pushes the finished artifact to remote storage. A failed upload
// goes on the retry queue instead of failing the generation; the artifact
// on disk is already the source of truth.
func (g *Generator) archive(date, outPath string) {
	if g.store == nil {
		return
	}
	key := storage.TimelapseKey(date)
	url, err := g.store.UploadFile(outPath, key)
	if err != nil {
		log.Printf("[timelapse] archive upload failed: %v", err)
		if g.db != nil {
			if qerr := g.db.EnqueueUpload(outPath, key, err.Error()); qerr != nil {
				log.Printf("[timelapse] queueing upload retry failed: %v", qerr)
			}
		}
		return
	}
	log.Printf("[timelapse] archived to %s", url)
	if g.db != nil {
		g.db.LogEvent(database.EventArchiveUpload, fmt.Sprintf("%s -> %s", filepath.Base(outPath), url))
	}
}

func (g *Generator) record(date string, force bool, res Result, started time.Time) {
	if g.db == nil {
		return
	}
	run := database.TimelapseRun{
		ID:         uuid.New().String(),
		Date:       date,
		Force:      force,
		Success:    res.Success,
		Message:    res.Message,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	run.DurationSecs = run.FinishedAt.Sub(started).Seconds()
	if err := g.db.RecordTimelapseRun(run); err != nil {
		log.Printf("[timelapse] recording run failed: %v", err)
	}
}

// writeManifest emits the ffmpeg concat playlist. Paths are absolute and
// single-quoted, with embedded quotes escaped as '\'' the way the concat
// demuxer expects.
func writeManifest(path string, files []segment.File) error {
	var b strings.Builder
	for _, f := range files {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(f.Path, "'", `'\''`))
		b.WriteString("'\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func encodeArgs(manifest, outPath string) []string {
	return []string{
		"-nostdin",
		"-hwaccel", "auto",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-filter:v", "setpts=0.01*PTS",
		"-an",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "ultrafast",
		"-r", "30",
		"-crf", "30",
		"-y",
		outPath,
	}
}

func parseDate(date string) (time.Time, bool) {
	if !dateRe.MatchString(date) {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func beforeToday(day, now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return day.Before(today)
}
