package api

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"boxcam/database"
	"boxcam/monitoring"
	"boxcam/segment"
	"boxcam/timelapse"
	"boxcam/timeline"
)

// Newest-segment age below which the recorder service counts as alive.
// Looser than the analyzer's "actively writing" threshold: a segment
// boundary can leave the directory quiet for a bit without the recorder
// being down.
const recorderActiveWindow = 60 * time.Second

// Pacing for the MJPEG feed: ~15fps while frames flow, a longer wait while
// the preview decoder has nothing fresh.
const (
	previewFrameInterval = 60 * time.Millisecond
	previewIdleWait      = 100 * time.Millisecond
)

var dateParamRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// statsResponse is the dashboard polling payload: the timeline snapshot
// flattened together with system vitals.
type statsResponse struct {
	timeline.Snapshot
	CamActive     bool     `json:"cam_active"`
	BoxActive     bool     `json:"box_active"`
	Disk          diskInfo `json:"disk"`
	Logs          string   `json:"logs"`
	Uptime        string   `json:"uptime"`
	CPUTemp       string   `json:"cpu_temp"`
	PingMs        *float64 `json:"ping_ms"`
	MemoryPercent float64  `json:"memory_percent"`
	RecorderState string   `json:"recorder_state"`
}

type diskInfo struct {
	Percent float64 `json:"percent"`
	FreeGB  float64 `json:"free_gb"`
	Text    string  `json:"text"`
}

type libraryEntry struct {
	Name  string `json:"name"`
	Size  string `json:"size"`
	Time  string `json:"time,omitempty"`
	Path  string `json:"path"`
	Thumb string `json:"thumb,omitempty"`
}

type timelapseEntry struct {
	Date string `json:"date"`
	Name string `json:"name"`
	Size string `json:"size"`
	Path string `json:"path"`
}

type settingsPayload struct {
	Subfolder          string `json:"subfolder"`
	SegmentTime        int    `json:"segment_time"`
	CameraIP           string `json:"camera_ip"`
	CameraUser         string `json:"camera_user"`
	CameraPass         string `json:"camera_pass"`
	TimelapseOutputDir string `json:"timelapse_output_dir"`
	EnableAudio        bool   `json:"enable_audio"`
}

// GET /api/stats
func (s *Server) getStats(c *gin.Context) {
	now := time.Now()
	conf := s.cfg.Current()
	root := s.cfg.Root()

	snap := timeline.Analyze(root, conf, now)
	health := monitoring.GetSystemHealth(root, conf.CameraIP)

	logs, err := readLastNLines(s.app.LogPath, 50)
	if err != nil {
		logs = fmt.Sprintf("Error reading logs: %v", err)
	}

	state := ""
	if s.sup != nil {
		state = s.sup.State()
	}

	c.JSON(http.StatusOK, statsResponse{
		Snapshot:      snap,
		CamActive:     monitoring.RecorderActive(root, conf.Subfolder, now, recorderActiveWindow),
		BoxActive:     health.StorageOK,
		Disk:          diskInfo{Percent: health.Disk.Percent, FreeGB: health.Disk.FreeGB, Text: health.Disk.Text},
		Logs:          logs,
		Uptime:        fmt.Sprintf("%dh", int(health.UptimeHours)),
		CPUTemp:       health.CPUTemp,
		PingMs:        health.PingMs,
		MemoryPercent: health.MemoryPercent,
		RecorderState: state,
	})
}

// GET /api/library?date=YYYY-MM-DD
func (s *Server) getLibrary(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	day, ok := parseDateParam(date)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date parameter"})
		return
	}

	conf := s.cfg.Current()
	root := s.cfg.Root()

	videos := []libraryEntry{}
	files, err := segment.ListDay(segment.DayDir(root, conf.Subfolder, day))
	if err == nil {
		segment.SortByStart(day, files)
		for _, f := range files {
			entry := libraryEntry{
				Name: f.Name,
				Size: fmt.Sprintf("%.1f MB", float64(f.Size)/(1024*1024)),
				Path: servePath("/play", root, f.Path),
			}
			if start, ok := segment.ParseName(f.Name, day); ok {
				entry.Time = start.Format("3:04 PM")
			}
			if thumb := segment.ThumbPath(f.Path); fileExists(thumb) {
				entry.Thumb = servePath("/thumb", root, thumb)
			}
			videos = append(videos, entry)
		}
	}

	c.JSON(http.StatusOK, gin.H{"date": date, "videos": videos})
}

// GET /api/timelapses
func (s *Server) getTimelapses(c *gin.Context) {
	conf := s.cfg.Current()
	root := s.cfg.Root()
	dir := filepath.Join(root, conf.Subfolder, conf.TimelapseOutputDir)

	entries := []timelapseEntry{}
	if dirents, err := os.ReadDir(dir); err == nil {
		for _, d := range dirents {
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".mp4") {
				continue
			}
			info, err := d.Info()
			if err != nil {
				continue
			}
			entries = append(entries, timelapseEntry{
				Date: strings.TrimSuffix(d.Name(), ".mp4"),
				Name: d.Name(),
				Size: fmt.Sprintf("%.1f MB", float64(info.Size())/(1024*1024)),
				Path: servePath("/play", root, filepath.Join(dir, d.Name())),
			})
		}
		// Newest day first; the names are date-keyed.
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name > entries[j].Name })
	}

	c.JSON(http.StatusOK, gin.H{
		"timelapses": entries,
		"today":      time.Now().Format("2006-01-02"),
	})
}

// POST /api/timelapse
func (s *Server) postTimelapse(c *gin.Context) {
	var req struct {
		Date  string `json:"date"`
		Force bool   `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, timelapse.Result{Success: false, Message: "Invalid request body"})
		return
	}

	res := s.gen.GenerateAsync(req.Date, req.Force)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	c.JSON(status, res)
}

// GET /api/settings
func (s *Server) getSettings(c *gin.Context) {
	conf := s.cfg.Current()
	c.JSON(http.StatusOK, settingsPayload{
		Subfolder:          conf.Subfolder,
		SegmentTime:        conf.SegmentTime,
		CameraIP:           conf.CameraIP,
		CameraUser:         conf.CameraUser,
		CameraPass:         conf.CameraPass,
		TimelapseOutputDir: conf.TimelapseOutputDir,
		EnableAudio:        conf.EnableAudio,
	})
}

// POST /api/settings
// Saving rewrites the settings file; the recording supervisor notices the
// mtime change within about a second and restarts the capture with the new
// parameters.
func (s *Server) postSettings(c *gin.Context) {
	var req struct {
		Subfolder          *string `json:"subfolder"`
		SegmentTime        *int    `json:"segment_time"`
		CameraIP           *string `json:"camera_ip"`
		CameraUser         *string `json:"camera_user"`
		CameraPass         *string `json:"camera_pass"`
		TimelapseOutputDir *string `json:"timelapse_output_dir"`
		EnableAudio        *bool   `json:"enable_audio"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	conf := s.cfg.Current()
	if req.Subfolder != nil {
		conf.Subfolder = *req.Subfolder
	}
	if req.SegmentTime != nil {
		conf.SegmentTime = *req.SegmentTime
	}
	if req.CameraIP != nil {
		conf.CameraIP = *req.CameraIP
	}
	if req.CameraUser != nil {
		conf.CameraUser = *req.CameraUser
	}
	if req.CameraPass != nil {
		conf.CameraPass = *req.CameraPass
	}
	if req.TimelapseOutputDir != nil {
		conf.TimelapseOutputDir = *req.TimelapseOutputDir
	}
	if req.EnableAudio != nil {
		conf.EnableAudio = *req.EnableAudio
	}

	if conf.SegmentTime <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "segment_time must be positive"})
		return
	}
	if strings.TrimSpace(conf.Subfolder) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "subfolder must not be empty"})
		return
	}

	if err := s.cfg.Save(conf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Settings saved! Services will restart shortly."})
}

// GET /api/jobs
func (s *Server) getJobs(c *gin.Context) {
	runs := []database.TimelapseRun{}
	if s.db != nil {
		listed, err := s.db.ListTimelapseRuns(50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if listed != nil {
			runs = listed
		}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": runs})
}

// GET /api/events
func (s *Server) getEvents(c *gin.Context) {
	events := []database.Event{}
	if s.db != nil {
		listed, err := s.db.ListEvents(100)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if listed != nil {
			events = listed
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GET /api/system_health
func (s *Server) getSystemHealth(c *gin.Context) {
	conf := s.cfg.Current()
	health := monitoring.GetSystemHealth(s.cfg.Root(), conf.CameraIP)

	state := ""
	if s.sup != nil {
		state = s.sup.State()
	}

	c.JSON(http.StatusOK, gin.H{
		"disk": gin.H{
			"percent": health.Disk.Percent,
			"free_gb": health.Disk.FreeGB,
			"text":    health.Disk.Text,
		},
		"memory_percent": health.MemoryPercent,
		"uptime_hours":   health.UptimeHours,
		"cpu_temp":       health.CPUTemp,
		"ping_ms":        health.PingMs,
		"storage_ok":     health.StorageOK,
		"goroutines":     health.Goroutines,
		"recorder_state": state,
	})
}

// GET /api/logs
func (s *Server) getLogs(c *gin.Context) {
	n := 100
	if q := c.Query("lines"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 1000 {
			n = v
		}
	}
	data, err := readLastNLines(s.app.LogPath, n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(data))
}

// GET /video_feed
// Streams the latest preview frames as MJPEG. Stale frames (camera down,
// decoder reconnecting) are simply not sent; the browser keeps showing the
// last delivered frame.
func (s *Server) videoFeed(c *gin.Context) {
	if s.camera == nil {
		c.String(http.StatusServiceUnavailable, "preview not running")
		return
	}

	c.Writer.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Writer.WriteHeader(http.StatusOK)

	for {
		wait := previewIdleWait
		if frame, ok := s.camera.Frame(); ok {
			fmt.Fprintf(c.Writer, "--frame\r\nContent-Type: image/jpeg\r\n\r\n")
			c.Writer.Write(frame)
			fmt.Fprintf(c.Writer, "\r\n")
			c.Writer.Flush()
			wait = previewFrameInterval
		}
		select {
		case <-c.Request.Context().Done():
			return
		case <-time.After(wait):
		}
	}
}

// GET /play/*filepath
func (s *Server) playFile(c *gin.Context) {
	s.serveUnderRoot(c, c.Param("filepath"), ".mp4")
}

// GET /thumb/*filepath
func (s *Server) thumbFile(c *gin.Context) {
	s.serveUnderRoot(c, c.Param("filepath"), ".jpg")
}

// serveUnderRoot serves a file strictly inside the capture root. The
// wildcard value is joined and cleaned, so ../ escapes resolve to a path
// outside the root and get refused.
func (s *Server) serveUnderRoot(c *gin.Context, rel, wantExt string) {
	if !strings.HasSuffix(rel, wantExt) {
		c.String(http.StatusBadRequest, "Invalid path")
		return
	}
	root := filepath.Clean(s.cfg.Root())
	full := filepath.Clean(filepath.Join(root, rel))
	if !strings.HasPrefix(full, root+string(os.PathSeparator)) {
		c.String(http.StatusForbidden, "Access Denied")
		return
	}
	if _, err := os.Stat(full); err != nil {
		c.String(http.StatusNotFound, "Not found")
		return
	}
	c.File(full)
}

// servePath converts an absolute media path into its serving route.
func servePath(route, root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	return route + "/" + filepath.ToSlash(rel)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func parseDateParam(date string) (time.Time, bool) {
	if !dateParamRe.MatchString(date) {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// readLastNLines reads the last N lines from a file.
func readLastNLines(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), scanner.Err()
}
