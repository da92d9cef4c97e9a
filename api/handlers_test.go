package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"boxcam/config"
	"boxcam/segment"
	"boxcam/timelapse"
)

func newTestAPIServer(t *testing.T) (*Server, string) {
	t.Helper()
	root, err := os.MkdirTemp("", "api-test")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })
	t.Setenv("SUBFOLDER", "Recordings")
	t.Setenv("TIMELAPSE_OUTPUT_DIR", "Timelapses")

	app := config.AppConfig{
		Root:         root,
		ConfigDir:    root,
		SettingsPath: filepath.Join(root, "boxcam.conf"),
		LogPath:      filepath.Join(root, "boxcam.log"),
		ServerPort:   "8080",
	}
	mgr := config.NewManager(app)
	gen := timelapse.NewGenerator(mgr, nil, nil)
	return NewServer(app, mgr, nil, nil, gen, nil), root
}

func writeDayFile(t *testing.T, root string, day time.Time, name, content string, mtime time.Time) string {
	t.Helper()
	dir := segment.DayDir(root, "Recordings", day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir day dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func TestGetStatsPayload(t *testing.T) {
	s, root := newTestAPIServer(t)
	r := NewTestServer(s)

	now := time.Now()
	writeDayFile(t, root, now, "AM-08-00-00.mp4", "video", now.Add(-2*time.Hour))

	rec := PerformJSONRequest(r, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/stats = %d: %s", rec.Code, rec.Body.String())
	}

	var m map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}

	if got := m["files_today"]; got != float64(1) {
		t.Errorf("files_today = %v, want 1", got)
	}
	if got, _ := m["status_msg"].(string); !strings.HasPrefix(got, "Last write: ") {
		t.Errorf("status_msg = %q, want stale status", got)
	}
	if got := m["cam_active"]; got != false {
		t.Errorf("cam_active = %v, want false for stale recorder", got)
	}
	tl, ok := m["timeline"].([]interface{})
	if !ok || len(tl) != 1 {
		t.Errorf("timeline = %v, want one entry", m["timeline"])
	}
	disk, ok := m["disk"].(map[string]interface{})
	if !ok {
		t.Fatalf("disk = %v, want object", m["disk"])
	}
	if text, _ := disk["text"].(string); text == "" {
		t.Error("disk.text is empty")
	}
	if _, present := disk["free_gb"]; !present {
		t.Error("disk payload missing free_gb")
	}
	if got := m["segment_limit_seconds"]; got != float64(900) {
		t.Errorf("segment_limit_seconds = %v, want 900", got)
	}
	for _, key := range []string{"gaps", "recent_files", "total_size_mb", "est_bitrate_mbps", "cpu_temp", "uptime", "logs", "memory_percent", "recorder_state"} {
		if _, present := m[key]; !present {
			t.Errorf("stats payload missing %q", key)
		}
	}
}

func TestGetLibraryListsVideosWithLinks(t *testing.T) {
	s, root := newTestAPIServer(t)
	r := NewTestServer(s)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
	video := writeDayFile(t, root, day, "AM-09-00-00.mp4", "video", day.Add(9*time.Hour+15*time.Minute))
	if err := os.WriteFile(segment.ThumbPath(video), []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write thumb: %v", err)
	}
	writeDayFile(t, root, day, "PM-02-00-00.mp4", "video2", day.Add(14*time.Hour+15*time.Minute))

	rec := PerformJSONRequest(r, http.MethodGet, "/api/library?date=2024-03-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/library = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Date   string         `json:"date"`
		Videos []libraryEntry `json:"videos"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal library: %v", err)
	}
	if resp.Date != "2024-03-01" {
		t.Errorf("date = %q", resp.Date)
	}
	if len(resp.Videos) != 2 {
		t.Fatalf("videos = %d, want 2", len(resp.Videos))
	}

	first := resp.Videos[0]
	if first.Name != "AM-09-00-00.mp4" {
		t.Errorf("first video = %q, want chronological order", first.Name)
	}
	if first.Path != "/play/Recordings/2024/03/01/AM-09-00-00.mp4" {
		t.Errorf("play path = %q", first.Path)
	}
	if first.Thumb != "/thumb/Recordings/2024/03/01/AM-09-00-00.thumb.jpg" {
		t.Errorf("thumb path = %q", first.Thumb)
	}
	if first.Time != "9:00 AM" {
		t.Errorf("time = %q, want 9:00 AM", first.Time)
	}
	if resp.Videos[1].Thumb != "" {
		t.Errorf("second video has thumb %q, want none", resp.Videos[1].Thumb)
	}
}

func TestGetLibraryRejectsBadDate(t *testing.T) {
	s, _ := newTestAPIServer(t)
	r := NewTestServer(s)

	for _, date := range []string{"2024/03/01", "..", "drop table", "2024-03-011"} {
		rec := PerformJSONRequest(r, http.MethodGet, "/api/library?date="+date, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET /api/library?date=%s = %d, want 400", date, rec.Code)
		}
	}
}

func TestGetTimelapsesNewestFirst(t *testing.T) {
	s, root := newTestAPIServer(t)
	r := NewTestServer(s)

	dir := filepath.Join(root, "Recordings", "Timelapses")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir timelapse dir: %v", err)
	}
	for _, name := range []string{"2024-03-01.mp4", "2024-03-02.mp4", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("timelapse"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	rec := PerformJSONRequest(r, http.MethodGet, "/api/timelapses", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/timelapses = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Timelapses []timelapseEntry `json:"timelapses"`
		Today      string           `json:"today"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal timelapses: %v", err)
	}
	if len(resp.Timelapses) != 2 {
		t.Fatalf("timelapses = %d, want 2 (non-mp4 files skipped)", len(resp.Timelapses))
	}
	first := resp.Timelapses[0]
	if first.Name != "2024-03-02.mp4" || first.Date != "2024-03-02" {
		t.Errorf("first entry = %+v, want newest day", first)
	}
	if first.Size != "0.0 MB" {
		t.Errorf("size = %q, want formatted megabytes", first.Size)
	}
	if first.Path != "/play/Recordings/Timelapses/2024-03-02.mp4" {
		t.Errorf("path = %q", first.Path)
	}
	if resp.Today != time.Now().Format("2006-01-02") {
		t.Errorf("today = %q", resp.Today)
	}
}

func TestPostTimelapseValidation(t *testing.T) {
	s, _ := newTestAPIServer(t)
	r := NewTestServer(s)

	rec := PerformJSONRequest(r, http.MethodPost, "/api/timelapse",
		map[string]interface{}{"date": time.Now().Format("2006-01-02")})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("today = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	rec = PerformJSONRequest(r, http.MethodPost, "/api/timelapse",
		map[string]interface{}{"date": "garbage"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("garbage date = %d, want 400", rec.Code)
	}

	date := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	rec = PerformJSONRequest(r, http.MethodPost, "/api/timelapse",
		map[string]interface{}{"date": date, "force": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("yesterday = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var res timelapse.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	want := fmt.Sprintf("Timelapse generation started for %s. Check back in a few minutes.", date)
	if !res.Success || res.Message != want {
		t.Errorf("result = %+v, want started message", res)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s, _ := newTestAPIServer(t)
	r := NewTestServer(s)

	rec := PerformJSONRequest(r, http.MethodGet, "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/settings = %d", rec.Code)
	}
	var before settingsPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &before); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if before.Subfolder != "Recordings" || before.SegmentTime != 900 {
		t.Errorf("defaults = %+v", before)
	}

	rec = PerformJSONRequest(r, http.MethodPost, "/api/settings",
		map[string]interface{}{"camera_ip": "10.1.2.3", "segment_time": 600})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/settings = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Settings saved! Services will restart shortly.") {
		t.Errorf("save response = %s", rec.Body.String())
	}

	rec = PerformJSONRequest(r, http.MethodGet, "/api/settings", nil)
	var after settingsPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if after.CameraIP != "10.1.2.3" || after.SegmentTime != 600 {
		t.Errorf("settings after save = %+v", after)
	}
	if after.Subfolder != "Recordings" {
		t.Errorf("untouched field changed: %+v", after)
	}

	rec = PerformJSONRequest(r, http.MethodPost, "/api/settings",
		map[string]interface{}{"segment_time": -5})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative segment_time = %d, want 400", rec.Code)
	}
}

func TestServeUnderRootGuards(t *testing.T) {
	s, root := newTestAPIServer(t)
	r := NewTestServer(s)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
	writeDayFile(t, root, day, "AM-09-00-00.mp4", "video-bytes", day.Add(9*time.Hour))

	rec := PerformJSONRequest(r, http.MethodGet, "/play/Recordings/2024/03/01/AM-09-00-00.mp4", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("legit play = %d", rec.Code)
	}
	if rec.Body.String() != "video-bytes" {
		t.Errorf("served content = %q", rec.Body.String())
	}

	rec = PerformJSONRequest(r, http.MethodGet, "/play/../../../etc/shadow.mp4", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("traversal = %d, want 403", rec.Code)
	}

	rec = PerformJSONRequest(r, http.MethodGet, "/play/Recordings/notes.txt", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong extension = %d, want 400", rec.Code)
	}

	rec = PerformJSONRequest(r, http.MethodGet, "/play/Recordings/2024/03/01/missing.mp4", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing file = %d, want 404", rec.Code)
	}
}

func TestGetJobsAndEventsWithoutJournal(t *testing.T) {
	s, _ := newTestAPIServer(t)
	r := NewTestServer(s)

	rec := PerformJSONRequest(r, http.MethodGet, "/api/jobs", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"jobs":[]`) {
		t.Errorf("GET /api/jobs = %d %s", rec.Code, rec.Body.String())
	}
	rec = PerformJSONRequest(r, http.MethodGet, "/api/events", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"events":[]`) {
		t.Errorf("GET /api/events = %d %s", rec.Code, rec.Body.String())
	}
}

func TestGetLogsTail(t *testing.T) {
	s, root := newTestAPIServer(t)
	r := NewTestServer(s)

	var b strings.Builder
	for i := 1; i <= 200; i++ {
		fmt.Fprintf(&b, "line-%03d\n", i)
	}
	if err := os.WriteFile(filepath.Join(root, "boxcam.log"), []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	rec := PerformJSONRequest(r, http.MethodGet, "/api/logs?lines=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/logs = %d", rec.Code)
	}
	want := "line-196\nline-197\nline-198\nline-199\nline-200"
	if rec.Body.String() != want {
		t.Errorf("log tail = %q, want %q", rec.Body.String(), want)
	}
}
