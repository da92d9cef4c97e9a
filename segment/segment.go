// Package segment is the single home for the on-disk segment naming
// convention. Segments live under <root>/<subfolder>/<YYYY>/<MM>/<DD>/ and
// are named with a 12-hour clock stem like PM-01-18-00.mp4. The stem carries
// no date, so turning it into an absolute timestamp always needs the
// containing day as context.
package segment

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// StemLayout is the Go time layout matching the capture template
// %p-%I-%M-%S (AM/PM, 12-hour, minute, second).
const StemLayout = "PM-03-04-05"

const (
	videoExt = ".mp4"
	thumbExt = ".thumb.jpg"
)

// File is one segment file as found on disk.
type File struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// FormatStem renders the filename stem for a segment starting at t.
func FormatStem(t time.Time) string {
	return t.Format(StemLayout)
}

// ParseName resolves a segment filename (with or without the .mp4 suffix)
// against its containing day. Returns false when the stem does not match the
// encoding; callers fall back to the file's modification time.
func ParseName(name string, day time.Time) (time.Time, bool) {
	stem := strings.TrimSuffix(name, videoExt)
	t, err := time.Parse(StemLayout, stem)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, day.Location()), true
}

// DayDir returns the segment directory for a given day.
func DayDir(root, subfolder string, day time.Time) string {
	return filepath.Join(root, subfolder, day.Format("2006/01/02"))
}

// CaptureTemplate returns the strftime output template handed to the capture
// process. The date part of the path is expanded by the writer, so rollover
// lands segments in the right day directory without our involvement.
func CaptureTemplate(root, subfolder string) string {
	return filepath.Join(root, subfolder, "%Y/%m/%d/%p-%I-%M-%S"+videoExt)
}

// ThumbPath returns the sibling thumbnail path for a segment file.
func ThumbPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, videoExt) + thumbExt
}

// ListDay returns the segment files directly inside dir, skipping
// subdirectories, thumbnails and anything else that is not an .mp4. A
// missing directory is reported as an error for the caller to interpret.
func ListDay(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), videoExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Path:    filepath.Join(dir, entry.Name()),
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

// SortByStart orders files chronologically by their parsed start time,
// falling back to the modification time for names that do not parse. This is
// the one ordering policy for segments; nothing else in the tree re-derives
// it.
func SortByStart(day time.Time, files []File) {
	key := func(f File) time.Time {
		if ts, ok := ParseName(f.Name, day); ok {
			return ts
		}
		return f.ModTime
	}
	sort.Slice(files, func(i, j int) bool {
		return key(files[i]).Before(key(files[j]))
	})
}
