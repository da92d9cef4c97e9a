// Package recording owns the capture subprocess lifecycle: start ffmpeg
// against the camera, watch it, and restart it on crash, on settings change
// and at the day boundary. The supervisor never gives up once storage is
// up; every exit path leads back to a running capture.
package recording

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"boxcam/config"
	"boxcam/database"
	"boxcam/monitoring"
	"boxcam/segment"
)

// Supervisor states.
const (
	StateAwaitingStorage = "AWAITING_STORAGE"
	StateRunning         = "RUNNING"
	StateFatal           = "FATAL"
	StateStopped         = "STOPPED"
)

// Why a capture run ended.
type exitReason int

const (
	exitProcess  exitReason = iota // ffmpeg exited on its own (crash, stream loss, midnight bound)
	exitConfig                     // stopped to apply changed settings
	exitShutdown                   // context cancelled
)

// Supervisor keeps exactly one ffmpeg capture process alive. Settings are
// re-read before every launch, and the settings file's mtime is polled while
// the capture runs so an edit takes effect within seconds.
type Supervisor struct {
	cfg *config.Manager
	db  database.Database

	pollInterval time.Duration
	restartDelay time.Duration
	graceTimeout time.Duration
	storageTries int
	storageDelay time.Duration

	mu          sync.Mutex
	state       string
	lastConfMod time.Time
}

func NewSupervisor(cfg *config.Manager, db database.Database) *Supervisor {
	return &Supervisor{
		cfg:          cfg,
		db:           db,
		pollInterval: time.Second,
		restartDelay: 5 * time.Second,
		graceTimeout: 10 * time.Second,
		storageTries: 60,
		storageDelay: 2 * time.Second,
		state:        StateAwaitingStorage,
	}
}

// State reports the current supervisor state.
func (s *Supervisor) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run supervises the capture until ctx is cancelled. The only error return
// is storage never becoming available inside the retry allowance; everything
// else is retried forever.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.waitForStorage(ctx); err != nil {
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return nil
		}
		s.setState(StateFatal)
		return err
	}
	s.setState(StateRunning)

	for {
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return nil
		}
		switch s.captureOnce(ctx) {
		case exitShutdown:
			s.setState(StateStopped)
			log.Printf("[recording] supervisor stopped")
			return nil
		case exitConfig:
			// Relaunch immediately with the fresh settings.
		case exitProcess:
			log.Printf("[recording] restarting capture in %s", s.restartDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.restartDelay):
			}
		}
	}
}

// waitForStorage blocks until the capture root exists and is writable.
func (s *Supervisor) waitForStorage(ctx context.Context) error {
	root := s.cfg.Root()
	log.Printf("[recording] waiting for storage at %s...", root)
	for attempt := 1; attempt <= s.storageTries; attempt++ {
		if monitoring.StorageWritable(root) {
			log.Printf("[recording] storage is ready")
			return nil
		}
		log.Printf("[recording] waiting... (%d/%d)", attempt, s.storageTries)
		if s.db != nil && attempt == 1 {
			s.db.LogEvent(database.EventStorageWait, root)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.storageDelay):
		}
	}
	return fmt.Errorf("storage at %s not available after %d attempts", root, s.storageTries)
}

// captureOnce launches one bounded ffmpeg run and monitors it until it
// exits, the settings file changes, or ctx is cancelled.
func (s *Supervisor) captureOnce(ctx context.Context) exitReason {
	conf := s.cfg.Current()
	if mod, err := s.cfg.ModTime(); err == nil {
		s.mu.Lock()
		s.lastConfMod = mod
		s.mu.Unlock()
	}

	now := time.Now()
	dayDir := segment.DayDir(s.cfg.Root(), conf.Subfolder, now)
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		log.Printf("[recording] creating %s: %v", dayDir, err)
		return exitProcess
	}

	// Bound the run to the day boundary so segment paths stay under the
	// right date directory; the restart after the bound lands in the new
	// day's directory.
	runFor := secondsUntilMidnight(now)
	cmd := exec.Command("ffmpeg", captureArgs(conf, s.cfg.Root(), runFor)...)
	if logFile := s.openCaptureLog(); logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		defer logFile.Close()
	}

	log.Printf("[recording] starting capture from %s (segment %ds, bounded %ds until midnight)",
		conf.CameraIP, conf.SegmentTime, runFor)
	if err := cmd.Start(); err != nil {
		log.Printf("[recording] starting ffmpeg: %v", err)
		return exitProcess
	}
	log.Printf("[recording] ffmpeg started with PID %d", cmd.Process.Pid)
	if s.db != nil {
		s.db.LogEvent(database.EventCaptureStart, fmt.Sprintf("pid %d camera %s", cmd.Process.Pid, conf.CameraIP))
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitCh:
			if err != nil {
				log.Printf("[recording] ffmpeg exited: %v", err)
			} else {
				log.Printf("[recording] ffmpeg exited normally")
			}
			if s.db != nil {
				s.db.LogEvent(database.EventCaptureExit, exitDetail(err))
			}
			return exitProcess
		case <-ctx.Done():
			s.stopProcess(cmd, waitCh)
			return exitShutdown
		case <-ticker.C:
			if s.configChanged() {
				log.Printf("[recording] settings changed, restarting capture")
				if s.db != nil {
					s.db.LogEvent(database.EventConfigReload, "settings file modified")
				}
				s.stopProcess(cmd, waitCh)
				return exitConfig
			}
		}
	}
}

// configChanged reports whether the settings file has been modified since
// the current capture launched.
func (s *Supervisor) configChanged() bool {
	mod, err := s.cfg.ModTime()
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mod.After(s.lastConfMod) {
		s.lastConfMod = mod
		return true
	}
	return false
}

// stopProcess asks ffmpeg to exit cleanly so the open segment gets its
// trailer written, then force-kills after the grace period.
func (s *Supervisor) stopProcess(cmd *exec.Cmd, waitCh <-chan error) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-waitCh:
	case <-time.After(s.graceTimeout):
		log.Printf("[recording] ffmpeg did not stop within %s, killing", s.graceTimeout)
		cmd.Process.Kill()
		<-waitCh
	}
}

func (s *Supervisor) openCaptureLog() *os.File {
	dir := filepath.Join(s.cfg.Root(), "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, "capture.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	return f
}

// captureArgs builds the ffmpeg segment-capture invocation. The stream is
// copied, never transcoded; audio is dropped unless enabled.
func captureArgs(conf config.Settings, root string, boundSecs int) []string {
	args := []string{
		"-nostdin",
		"-rtsp_transport", "tcp",
		"-i", conf.RTSPURL(),
		"-c", "copy",
		"-map", "0",
	}
	if !conf.EnableAudio {
		args = append(args, "-an")
	}
	return append(args,
		"-f", "segment",
		"-segment_time", strconv.Itoa(conf.SegmentTime),
		"-strftime", "1",
		"-t", strconv.Itoa(boundSecs),
		segment.CaptureTemplate(root, conf.Subfolder),
	)
}

func secondsUntilMidnight(now time.Time) int {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	secs := int(next.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

func exitDetail(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
