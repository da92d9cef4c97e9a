package preview

import (
	"bytes"
	"testing"
	"time"
)

func fakeJPEG(payload byte) []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, payload, 0xFF, 0xD9}
}

func TestScanFramesSplitsOnMarkers(t *testing.T) {
	stream := append(fakeJPEG(0x01), fakeJPEG(0x02)...)
	stream = append(stream, fakeJPEG(0x03)...)

	var frames [][]byte
	if err := scanFrames(bytes.NewReader(stream), func(f []byte) {
		frames = append(frames, f)
	}); err != nil {
		t.Fatalf("scanFrames failed: %v", err)
	}

	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if !bytes.Equal(f, fakeJPEG(byte(i+1))) {
			t.Errorf("frame %d mismatch: %x", i, f)
		}
	}
}

func TestScanFramesDiscardsLeadingGarbage(t *testing.T) {
	stream := append([]byte{0x00, 0x01, 0x02}, fakeJPEG(0x05)...)

	var frames [][]byte
	if err := scanFrames(bytes.NewReader(stream), func(f []byte) {
		frames = append(frames, f)
	}); err != nil {
		t.Fatalf("scanFrames failed: %v", err)
	}

	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0][0] != 0xFF || frames[0][1] != 0xD8 {
		t.Errorf("expected frame to start at SOI, got %x", frames[0][:2])
	}
}

func TestScanFramesIgnoresIncompleteTail(t *testing.T) {
	stream := append(fakeJPEG(0x01), 0xFF, 0xD8, 0xAA) // second frame truncated

	var frames [][]byte
	if err := scanFrames(bytes.NewReader(stream), func(f []byte) {
		frames = append(frames, f)
	}); err != nil {
		t.Fatalf("scanFrames failed: %v", err)
	}
	if len(frames) != 1 {
		t.Errorf("expected only the complete frame, got %d", len(frames))
	}
}

func TestFrameFreshness(t *testing.T) {
	cam := &Camera{}

	if _, ok := cam.Frame(); ok {
		t.Error("expected no frame before the producer stored one")
	}

	cam.store(fakeJPEG(0x01))
	frame, ok := cam.Frame()
	if !ok || len(frame) == 0 {
		t.Fatal("expected a fresh frame right after store")
	}

	// Backdate the stamp past the freshness window
	cam.mu.Lock()
	cam.stamp = time.Now().Add(-freshnessWindow - time.Second)
	cam.mu.Unlock()

	if _, ok := cam.Frame(); ok {
		t.Error("expected a stale frame to be reported as absent")
	}
}
