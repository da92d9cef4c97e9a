// Package thumbnail keeps a .thumb.jpg sibling next to every finished
// recording segment. The watcher polls the current day directory, waits for
// files to stop growing, and extracts a midpoint frame with ffmpeg. The
// thumbnail file itself is the completion marker, so work survives restarts
// without any bookkeeping store.
package thumbnail

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"boxcam/config"
	"boxcam/database"
	"boxcam/segment"
)

// Watcher scans for segments that need thumbnails.
type Watcher struct {
	cfg *config.Manager
	db  database.Database

	scanInterval time.Duration
	settleWindow time.Duration

	// seen caches paths already handled today so a pass does not re-stat
	// every thumbnail. It is advisory only; the disk marker is the truth.
	seen    map[string]bool
	seenDay string
}

func NewWatcher(cfg *config.Manager, db database.Database) *Watcher {
	return &Watcher{
		cfg:          cfg,
		db:           db,
		scanInterval: 10 * time.Second,
		settleWindow: 15 * time.Second,
		seen:         map[string]bool{},
	}
}

// Run sweeps until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log.Printf("[thumbnail] watcher started (settle window %s)", w.settleWindow)
	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()
	for {
		w.Sweep(time.Now())
		select {
		case <-ctx.Done():
			log.Printf("[thumbnail] watcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass over now's day directory and returns how many
// thumbnails it produced. Files newer than the settle window are left for a
// later pass, as are files whose extraction fails.
func (w *Watcher) Sweep(now time.Time) int {
	day := now.Format("2006-01-02")
	if day != w.seenDay {
		w.seen = map[string]bool{}
		w.seenDay = day
	}

	conf := w.cfg.Current()
	files, err := segment.ListDay(segment.DayDir(w.cfg.Root(), conf.Subfolder, now))
	if err != nil {
		// Day directory not created yet; nothing to do.
		return 0
	}

	made := 0
	for _, f := range files {
		if w.seen[f.Path] {
			continue
		}
		thumb := segment.ThumbPath(f.Path)
		if _, err := os.Stat(thumb); err == nil {
			w.seen[f.Path] = true
			continue
		}
		if now.Sub(f.ModTime) < w.settleWindow {
			// Still being written by the recorder.
			continue
		}
		if err := ExtractFrame(f.Path, thumb); err != nil {
			log.Printf("[thumbnail] %s: %v", f.Name, err)
			if w.db != nil {
				w.db.LogEvent(database.EventThumbnailError, fmt.Sprintf("%s: %v", f.Name, err))
			}
			continue
		}
		w.seen[f.Path] = true
		made++
	}
	return made
}

// ExtractFrame grabs a frame from the middle of the video and writes it to
// outPath. The frame lands in a temp file first so a crash mid-write cannot
// leave a truncated file behind as a completion marker.
func ExtractFrame(videoPath, outPath string) error {
	dur, err := probeDuration(videoPath)
	if err != nil {
		return fmt.Errorf("probe duration: %v", err)
	}
	middle := fmt.Sprintf("%.2f", dur/2)

	tmpPath := strings.TrimSuffix(outPath, ".jpg") + ".tmp.jpg"
	cmd := exec.Command("ffmpeg", "-y", "-ss", middle, "-i", videoPath, "-vframes", "1", "-q:v", "4", tmpPath)
	if err := cmd.Run(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ffmpeg: %v", err)
	}
	return os.Rename(tmpPath, outPath)
}

func probeDuration(videoPath string) (float64, error) {
	cmd := exec.Command("ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", videoPath)
	output, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	var dur float64
	_, err = fmt.Sscanf(string(output), "%f", &dur)
	return dur, err
}
