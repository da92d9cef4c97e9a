package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Settings is one snapshot of the mutable camera/recording parameters. It is
// persisted as newline-delimited KEY="VALUE" pairs and re-read from disk on
// every access so that edits (from the dashboard or by hand) take effect
// without a restart. Unknown keys survive a load/save round trip untouched.
type Settings struct {
	Subfolder          string
	SegmentTime        int // seconds per segment
	CameraIP           string
	CameraUser         string
	CameraPass         string
	TimelapseOutputDir string
	EnableAudio        bool

	// Extra carries unrecognized keys so a save never drops them.
	Extra map[string]string
}

// RTSPURL builds the capture URL for the configured camera.
func (s Settings) RTSPURL() string {
	return fmt.Sprintf("rtsp://%s:%s@%s:554/h264Preview_01_main",
		s.CameraUser, s.CameraPass, s.CameraIP)
}

// Manager reads and writes the settings file. It holds no cached state:
// Current always reflects the file as it is on disk right now, which is what
// lets the supervisor pick up edits by watching the file's mtime.
type Manager struct {
	app AppConfig
}

func NewManager(app AppConfig) *Manager {
	return &Manager{app: app}
}

func (m *Manager) Root() string         { return m.app.Root }
func (m *Manager) SettingsPath() string { return m.app.SettingsPath }

// ModTime reports the settings file's modification time. A missing file is
// not an error worth acting on; the zero time is returned alongside err so
// pollers can treat "no file yet" as "nothing changed".
func (m *Manager) ModTime() (time.Time, error) {
	info, err := os.Stat(m.app.SettingsPath)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Current returns the effective settings: environment-seeded defaults
// overlaid with whatever the settings file holds.
func (m *Manager) Current() Settings {
	s := defaultSettings()
	kv, err := parseSettingsFile(m.app.SettingsPath)
	if err != nil {
		// No file (or unreadable) means defaults apply.
		return s
	}
	applyValues(&s, kv)
	return s
}

// Save writes the settings atomically (temp file + rename) so the
// supervisor's mtime poll can never observe a half-written file.
func (m *Manager) Save(s Settings) error {
	if err := os.MkdirAll(m.app.ConfigDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SUBFOLDER=%q\n", s.Subfolder)
	fmt.Fprintf(&b, "SEGMENT_TIME=%q\n", strconv.Itoa(s.SegmentTime))
	fmt.Fprintf(&b, "CAMERA_IP=%q\n", s.CameraIP)
	fmt.Fprintf(&b, "CAMERA_USER=%q\n", s.CameraUser)
	fmt.Fprintf(&b, "CAMERA_PASS=%q\n", s.CameraPass)
	fmt.Fprintf(&b, "TIMELAPSE_OUTPUT_DIR=%q\n", s.TimelapseOutputDir)
	fmt.Fprintf(&b, "ENABLE_AUDIO=%q\n", strconv.FormatBool(s.EnableAudio))

	extraKeys := make([]string, 0, len(s.Extra))
	for k := range s.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		fmt.Fprintf(&b, "%s=%q\n", k, s.Extra[k])
	}

	tmpPath := m.app.SettingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write settings: %v", err)
	}
	if err := os.Rename(tmpPath, m.app.SettingsPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace settings: %v", err)
	}
	return nil
}

func defaultSettings() Settings {
	segTime, err := strconv.Atoi(getEnv("SEGMENT_TIME", "900"))
	if err != nil || segTime <= 0 {
		segTime = 900
	}
	return Settings{
		Subfolder:          getEnv("SUBFOLDER", "Recordings"),
		SegmentTime:        segTime,
		CameraIP:           getEnv("CAMERA_IP", "192.168.1.10"),
		CameraUser:         getEnv("CAMERA_USER", "admin"),
		CameraPass:         getEnv("CAMERA_PASS", "admin"),
		TimelapseOutputDir: getEnv("TIMELAPSE_OUTPUT_DIR", "Timelapses"),
		EnableAudio:        getEnv("ENABLE_AUDIO", "false") == "true",
		Extra:              map[string]string{},
	}
}

// parseSettingsFile reads KEY="VALUE" lines. Malformed lines (no '=', empty
// key) are skipped silently; a bad value for a typed key leaves the default
// in place. This parser is deliberately forgiving: a hand-edited file must
// never take the recorder down.
func parseSettingsFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kv := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.Contains(line, "=") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"`)
		kv[key] = value
	}
	return kv, scanner.Err()
}

func applyValues(s *Settings, kv map[string]string) {
	for key, value := range kv {
		switch key {
		case "SUBFOLDER":
			s.Subfolder = value
		case "SEGMENT_TIME":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				s.SegmentTime = n
			}
		case "CAMERA_IP":
			s.CameraIP = value
		case "CAMERA_USER":
			s.CameraUser = value
		case "CAMERA_PASS":
			s.CameraPass = value
		case "TIMELAPSE_OUTPUT_DIR":
			s.TimelapseOutputDir = value
		case "ENABLE_AUDIO":
			if v, err := strconv.ParseBool(value); err == nil {
				s.EnableAudio = v
			}
		default:
			s.Extra[key] = value
		}
	}
}
