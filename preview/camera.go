// Package preview keeps the newest live frame from the camera available for
// the dashboard. One producer goroutine decodes the RTSP stream into small
// JPEGs; consumers pull the latest frame from a timestamped single-slot cell
// and treat anything older than the freshness window as no frame at all.
package preview

import (
	"bytes"
	"context"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"boxcam/config"
)

const (
	// Frames older than this are not shown; the feed goes dark instead of
	// freezing on a stale image.
	freshnessWindow = 5 * time.Second

	// Delay before reconnecting after the decoder exits.
	reconnectDelay = 2 * time.Second
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Camera owns the capture side of the live preview.
type Camera struct {
	cfg *config.Manager

	mu    sync.RWMutex
	frame []byte
	stamp time.Time
}

func NewCamera(cfg *config.Manager) *Camera {
	return &Camera{cfg: cfg}
}

// Frame returns the latest frame while it is fresh. The returned slice is
// owned by the cell; callers must not modify it.
func (c *Camera) Frame() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.frame == nil || time.Since(c.stamp) > freshnessWindow {
		return nil, false
	}
	return c.frame, true
}

func (c *Camera) store(frame []byte) {
	c.mu.Lock()
	c.frame = frame
	c.stamp = time.Now()
	c.mu.Unlock()
}

// Run decodes the stream until ctx is cancelled, reconnecting after any
// exit. The RTSP URL is loaded fresh on each connect so credential edits
// take effect at the next reconnect.
func (c *Camera) Run(ctx context.Context) {
	log.Printf("[preview] Starting live preview producer")
	for {
		if ctx.Err() != nil {
			return
		}

		settings := c.cfg.Current()
		if err := c.decodeOnce(ctx, settings.RTSPURL()); err != nil && ctx.Err() == nil {
			log.Printf("[preview] Decoder exited: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// decodeOnce runs one ffmpeg decoder process and feeds its MJPEG output
// into the cell until the process dies or ctx is cancelled.
func (c *Camera) decodeOnce(ctx context.Context, rtspURL string) error {
	args := []string{
		"-nostdin",
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
		"-vf", "scale=640:360",
		"-r", "10",
		"-q:v", "7",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	log.Printf("[preview] Decoder started with PID %d", cmd.Process.Pid)

	scanErr := scanFrames(stdout, c.store)
	waitErr := cmd.Wait()
	if waitErr != nil {
		return waitErr
	}
	return scanErr
}

// scanFrames splits a concatenated JPEG stream on start/end-of-image markers
// and emits a private copy of each complete frame.
func scanFrames(r io.Reader, emit func([]byte)) error {
	chunk := make([]byte, 32*1024)
	var buf []byte
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				end := bytes.Index(buf, jpegEOI)
				if end < 0 {
					break
				}
				frame := buf[:end+2]
				buf = append([]byte(nil), buf[end+2:]...)
				if start := bytes.Index(frame, jpegSOI); start >= 0 {
					emit(append([]byte(nil), frame[start:]...))
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
