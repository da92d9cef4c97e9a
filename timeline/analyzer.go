// Package timeline reconstructs today's recording state from nothing but the
// segment directory: filenames carry start times, modification times mark
// segment ends, and everything else (durations, coverage, gaps, health) is
// derived arithmetic. There is no state between calls.
package timeline

import (
	"fmt"
	"math"
	"sort"
	"syscall"
	"time"

	"boxcam/config"
	"boxcam/segment"
)

const (
	// Newest-file age below which the recorder counts as actively writing.
	activeThreshold = 20 * time.Second

	secondsPerDay = 86400

	recentCount = 5
)

// Entry places one segment on a 24-hour timeline strip.
type Entry struct {
	OffsetPercent float64 `json:"offset_percent"`
	WidthPercent  float64 `json:"width_percent"`
}

// GapRecord is an uncovered interval between two adjacent segments.
type GapRecord struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"duration_minutes"`
}

// RecentFile is one row of the most-recent-files list.
type RecentFile struct {
	Name    string  `json:"name"`
	SizeMB  float64 `json:"size_mb"`
	EndedAt string  `json:"ended_at"`
}

// Snapshot is the analyzer output. The JSON field names are a contract with
// the dashboard; renaming one breaks the presentation layer.
type Snapshot struct {
	FilesToday          int          `json:"files_today"`
	CurrentFile         string       `json:"current_file"`
	CurrentSize         string       `json:"current_size"`
	StatusMsg           string       `json:"status_msg"`
	ElapsedSeconds      int          `json:"elapsed_seconds"`
	SegmentLimitSeconds int          `json:"segment_limit_seconds"`
	Timeline            []Entry      `json:"timeline"`
	Gaps                []GapRecord  `json:"gaps"`
	TotalSizeMB         float64      `json:"total_size_mb"`
	AvgSizeMB           float64      `json:"avg_size_mb"`
	EstBitrateMbps      float64      `json:"est_bitrate_mbps"`
	RecordedHours       float64      `json:"recorded_hours"`
	RecentFiles         []RecentFile `json:"recent_files"`
}

// span is one segment with its resolved time extent.
type span struct {
	file     segment.File
	start    time.Time
	end      time.Time
	duration time.Duration
}

// Analyze reads the day directory for now's date and derives the full
// snapshot. Missing directories and empty days produce a zeroed snapshot,
// never an error: an idle recorder is a state, not a failure.
func Analyze(root string, conf config.Settings, now time.Time) Snapshot {
	snap := Snapshot{
		CurrentFile:         "Waiting...",
		CurrentSize:         "0.00 MB",
		StatusMsg:           "Idle",
		SegmentLimitSeconds: conf.SegmentTime,
		Timeline:            []Entry{},
		Gaps:                []GapRecord{},
		RecentFiles:         []RecentFile{},
	}

	files, err := segment.ListDay(segment.DayDir(root, conf.Subfolder, now))
	if err != nil || len(files) == 0 {
		return snap
	}
	snap.FilesToday = len(files)

	newest := files[0]
	for _, f := range files[1:] {
		if f.ModTime.After(newest.ModTime) {
			newest = f
		}
	}
	age := now.Sub(newest.ModTime)
	hot := age < activeThreshold

	segLen := time.Duration(conf.SegmentTime) * time.Second
	spans := resolveSpans(files, newest, hot, segLen, now)

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, sp := range spans {
		offset := sp.start.Sub(midnight).Seconds() / secondsPerDay * 100
		if offset < 0 {
			offset = 0
		}
		width := sp.duration.Seconds() / secondsPerDay * 100
		snap.Timeline = append(snap.Timeline, Entry{
			OffsetPercent: round2(offset),
			WidthPercent:  round2(width),
		})
	}

	for i := 1; i < len(spans); i++ {
		gap := spans[i].start.Sub(spans[i-1].end)
		if gap > 2*segLen {
			snap.Gaps = append(snap.Gaps, GapRecord{
				Start:           spans[i-1].end.Format("3:04:05 PM"),
				End:             spans[i].start.Format("3:04:05 PM"),
				DurationMinutes: int(math.Round(gap.Minutes())),
			})
		}
	}

	snap.CurrentFile = newest.Name
	snap.CurrentSize = fmt.Sprintf("%.2f MB", float64(newest.Size)/(1024*1024))
	if hot {
		snap.StatusMsg = "Recording (Active)"
		if start, ok := segment.ParseName(newest.Name, now); ok {
			if elapsed := now.Sub(start); elapsed > 0 {
				snap.ElapsedSeconds = int(elapsed.Seconds())
			}
		}
	} else {
		snap.StatusMsg = fmt.Sprintf("Last write: %ds ago", int(age.Seconds()))
	}

	var totalBytes int64
	var totalDur time.Duration
	for _, sp := range spans {
		totalBytes += sp.file.Size
		totalDur += sp.duration
	}
	avgBytes := float64(totalBytes) / float64(len(spans))
	snap.TotalSizeMB = round2(float64(totalBytes) / (1024 * 1024))
	snap.AvgSizeMB = round2(avgBytes / (1024 * 1024))
	if conf.SegmentTime > 0 {
		snap.EstBitrateMbps = round1(avgBytes * 8 / float64(conf.SegmentTime) / 1e6)
	}
	snap.RecordedHours = round1(totalDur.Hours())

	for i := len(spans) - 1; i >= 0 && len(snap.RecentFiles) < recentCount; i-- {
		sp := spans[i]
		snap.RecentFiles = append(snap.RecentFiles, RecentFile{
			Name:    sp.file.Name,
			SizeMB:  round1(float64(sp.file.Size) / (1024 * 1024)),
			EndedAt: sp.end.Format("3:04 PM"),
		})
	}

	return snap
}

// resolveSpans turns raw files into ordered time spans. Start times come
// from the filename; when a name does not parse or yields a non-positive
// duration, the configured segment length is assumed. The exception is a
// newest file still being written, whose elapsed time is better approximated
// from its creation time.
func resolveSpans(files []segment.File, newest segment.File, hot bool, segLen time.Duration, now time.Time) []span {
	spans := make([]span, 0, len(files))
	for _, f := range files {
		end := f.ModTime
		start, ok := segment.ParseName(f.Name, now)
		var dur time.Duration
		if ok {
			dur = end.Sub(start)
		}
		if !ok || dur <= 0 {
			if hot && f.Path == newest.Path {
				dur = hotDuration(f.Path, end)
			} else {
				dur = segLen
			}
			start = end.Add(-dur)
		}
		spans = append(spans, span{file: f, start: start, end: end, duration: dur})
	}
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start.Before(spans[j].start)
	})
	return spans
}

// hotDuration estimates how long the in-progress segment has been recording
// from its creation time, with a one minute floor when the clock math comes
// out non-positive.
func hotDuration(path string, end time.Time) time.Duration {
	if ct, ok := creationTime(path); ok {
		if d := end.Sub(ct); d > 0 {
			return d
		}
	}
	return time.Minute
}

func creationTime(path string) (time.Time, bool) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return time.Time{}, false
	}
	return time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec)), true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
