package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeBackend delivers scripted PCM data and records lifecycle calls
type fakeBackend struct {
	mu              sync.Mutex
	permissionErr   error
	permissionCalls int
	started         bool
	stopped         int
	onData          func(pcm []byte)
}

func (f *fakeBackend) RequestPermission() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permissionCalls++
	return f.permissionErr
}

func (f *fakeBackend) Start(sampleRate, channels int, onData func(pcm []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.onData = onData
	return nil
}

func (f *fakeBackend) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	f.stopped++
	return nil
}

func (f *fakeBackend) push(pcm []byte) {
	f.mu.Lock()
	onData := f.onData
	f.mu.Unlock()
	if onData != nil {
		onData(pcm)
	}
}

// testCaptureConfig uses a tiny frame so tests need little data:
// 1kHz mono 16-bit, 10ms frames = 20 bytes/frame, 5ms levels = 10 bytes
func testCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRateHertz: 1000,
		Channels:        1,
		FrameDuration:   10 * time.Millisecond,
		LevelInterval:   5 * time.Millisecond,
	}
}

func TestCapture_EmitsFixedFrames(t *testing.T) {
	backend := &fakeBackend{}
	capture := NewCapture(backend, testCaptureConfig(), zerolog.Nop())

	var mu sync.Mutex
	var frames [][]byte
	err := capture.Start(func(payload []byte, capturedAt time.Time) {
		mu.Lock()
		frames = append(frames, payload)
		mu.Unlock()
		if capturedAt.IsZero() {
			t.Error("Expected non-zero capture timestamp")
		}
	}, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 50 bytes = 2 full 20-byte frames + 10 pending bytes
	backend.push(make([]byte, 50))

	mu.Lock()
	n := len(frames)
	mu.Unlock()
	if n != 2 {
		t.Fatalf("Expected 2 frames from 50 bytes, got %d", n)
	}
	for i, frame := range frames {
		if len(frame) != 20 {
			t.Errorf("Frame %d: expected 20 bytes, got %d", i, len(frame))
		}
	}
}

func TestCapture_SilenceStillEmitted(t *testing.T) {
	backend := &fakeBackend{}
	capture := NewCapture(backend, testCaptureConfig(), zerolog.Nop())

	frameCount := 0
	capture.Start(func(payload []byte, _ time.Time) {
		frameCount++
	}, nil)

	// All-zero PCM is still framed and emitted
	backend.push(make([]byte, 20))
	if frameCount != 1 {
		t.Errorf("Expected silent frame to be emitted, got %d frames", frameCount)
	}
}

func TestCapture_LevelsEmittedMoreOften(t *testing.T) {
	backend := &fakeBackend{}
	capture := NewCapture(backend, testCaptureConfig(), zerolog.Nop())

	var frames, levels int
	capture.Start(
		func(payload []byte, _ time.Time) { frames++ },
		func(level float64) {
			levels++
			if level < 0.0 || level > 1.0 {
				t.Errorf("Level out of range: %f", level)
			}
		},
	)

	backend.push(make([]byte, 40)) // 2 frames, 4 level windows
	if frames != 2 {
		t.Errorf("Expected 2 frames, got %d", frames)
	}
	if levels != 4 {
		t.Errorf("Expected 4 level updates, got %d", levels)
	}
}

func TestCapture_PermissionDeniedCached(t *testing.T) {
	backend := &fakeBackend{permissionErr: ErrPermissionDenied}
	capture := NewCapture(backend, testCaptureConfig(), zerolog.Nop())

	err := capture.Start(nil, nil)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
	if backend.started {
		t.Error("Expected backend not to start after denial")
	}

	// Denial is cached for the process lifetime; the backend is not re-asked
	capture.Start(nil, nil)
	if backend.permissionCalls != 1 {
		t.Errorf("Expected 1 permission request, got %d", backend.permissionCalls)
	}
}

func TestCapture_StartWhileRunning(t *testing.T) {
	backend := &fakeBackend{}
	capture := NewCapture(backend, testCaptureConfig(), zerolog.Nop())

	if err := capture.Start(nil, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := capture.Start(nil, nil); !errors.Is(err, ErrCaptureActive) {
		t.Errorf("Expected ErrCaptureActive, got %v", err)
	}
}

func TestCapture_StopFlushesPartialFrame(t *testing.T) {
	backend := &fakeBackend{}
	capture := NewCapture(backend, testCaptureConfig(), zerolog.Nop())

	var frames [][]byte
	capture.Start(func(payload []byte, _ time.Time) {
		frames = append(frames, payload)
	}, nil)

	backend.push(make([]byte, 12)) // less than one 20-byte frame
	if len(frames) != 0 {
		t.Fatalf("Expected no full frame yet, got %d", len(frames))
	}

	capture.Stop()
	if len(frames) != 1 {
		t.Fatalf("Expected flushed partial frame on stop, got %d frames", len(frames))
	}
	if len(frames[0]) != 12 {
		t.Errorf("Expected 12-byte partial frame, got %d bytes", len(frames[0]))
	}
	if backend.stopped != 1 {
		t.Errorf("Expected device released once, got %d", backend.stopped)
	}
}

func TestCapture_StopIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	capture := NewCapture(backend, testCaptureConfig(), zerolog.Nop())

	// Stop before start is a no-op, not an error
	capture.Stop()
	if backend.stopped != 0 {
		t.Errorf("Expected no backend stop before start, got %d", backend.stopped)
	}

	capture.Start(nil, nil)
	capture.Stop()
	capture.Stop()
	if backend.stopped != 1 {
		t.Errorf("Expected exactly 1 backend stop, got %d", backend.stopped)
	}
}

func TestCapture_NoDataAfterStop(t *testing.T) {
	backend := &fakeBackend{}
	capture := NewCapture(backend, testCaptureConfig(), zerolog.Nop())

	frames := 0
	capture.Start(func(payload []byte, _ time.Time) { frames++ }, nil)
	capture.Stop()

	backend.push(make([]byte, 40))
	if frames != 0 {
		t.Errorf("Expected no frames after stop, got %d", frames)
	}
}
