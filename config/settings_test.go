package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testManager(t *testing.T) (*Manager, string) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "settings_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	app := AppConfig{
		Root:         filepath.Join(tmpDir, "box"),
		ConfigDir:    tmpDir,
		SettingsPath: filepath.Join(tmpDir, "settings.env"),
	}
	return NewManager(app), tmpDir
}

func TestCurrentUsesDefaultsWhenFileMissing(t *testing.T) {
	m, _ := testManager(t)
	s := m.Current()
	if s.SegmentTime != 900 {
		t.Errorf("expected default segment time 900, got %d", s.SegmentTime)
	}
	if s.TimelapseOutputDir != "Timelapses" {
		t.Errorf("expected default timelapse dir, got %s", s.TimelapseOutputDir)
	}
	if s.EnableAudio {
		t.Error("expected audio disabled by default")
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	m, _ := testManager(t)
	content := `SUBFOLDER="Cats"
this line has no equals sign
="orphan value"
SEGMENT_TIME="600"
SEGMENT_TIME_TYPO
CAMERA_IP=10.0.0.5

MYSTERY_KEY="kept"
`
	if err := os.WriteFile(m.SettingsPath(), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write settings: %v", err)
	}

	s := m.Current()
	if s.Subfolder != "Cats" {
		t.Errorf("expected subfolder Cats, got %s", s.Subfolder)
	}
	if s.SegmentTime != 600 {
		t.Errorf("expected segment time 600, got %d", s.SegmentTime)
	}
	if s.CameraIP != "10.0.0.5" {
		t.Errorf("expected unquoted value to parse, got %s", s.CameraIP)
	}
	if s.Extra["MYSTERY_KEY"] != "kept" {
		t.Errorf("expected unknown key retained, got %v", s.Extra)
	}
}

func TestBadTypedValuesKeepDefaults(t *testing.T) {
	m, _ := testManager(t)
	content := `SEGMENT_TIME="not-a-number"
ENABLE_AUDIO="maybe"
`
	if err := os.WriteFile(m.SettingsPath(), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write settings: %v", err)
	}

	s := m.Current()
	if s.SegmentTime != 900 {
		t.Errorf("expected default segment time on parse failure, got %d", s.SegmentTime)
	}
	if s.EnableAudio {
		t.Error("expected default audio flag on parse failure")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	m, _ := testManager(t)

	in := m.Current()
	in.Subfolder = "Other/CatCam"
	in.SegmentTime = 300
	in.CameraIP = "192.168.1.163"
	in.CameraUser = "viewer"
	in.CameraPass = "s3cret"
	in.EnableAudio = true
	in.Extra["CUSTOM"] = "survives"

	if err := m.Save(in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	out := m.Current()
	if out.Subfolder != in.Subfolder || out.SegmentTime != in.SegmentTime ||
		out.CameraIP != in.CameraIP || out.CameraUser != in.CameraUser ||
		out.CameraPass != in.CameraPass || !out.EnableAudio {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
	if out.Extra["CUSTOM"] != "survives" {
		t.Errorf("expected extra key to survive a save, got %v", out.Extra)
	}

	// No temp file left behind
	if _, err := os.Stat(m.SettingsPath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected temp file to be gone after save")
	}
}

func TestRTSPURL(t *testing.T) {
	s := Settings{CameraIP: "192.168.1.163", CameraUser: "admin", CameraPass: "pw"}
	want := "rtsp://admin:pw@192.168.1.163:554/h264Preview_01_main"
	if got := s.RTSPURL(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestModTimeMissingFile(t *testing.T) {
	m, _ := testManager(t)
	if _, err := m.ModTime(); err == nil {
		t.Error("expected an error for a missing settings file")
	}
}
