package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrPermissionDenied indicates the OS denied microphone access. It is
// terminal for the attempted start but recoverable by retrying after the
// user changes settings, so callers surface it through a dedicated callback
// rather than a generic error path.
var ErrPermissionDenied = errors.New("microphone permission denied")

// ErrCaptureActive indicates Start was called while already capturing
var ErrCaptureActive = errors.New("capture already active")

// CaptureBackend abstracts the platform capture device. Implementations are
// selected at construction time, never branched on inline.
type CaptureBackend interface {
	// RequestPermission acquires microphone permission.
	// Returns ErrPermissionDenied (possibly wrapped) on denial.
	RequestPermission() error

	// Start opens the device and delivers PCM bytes to onData as they
	// arrive. The byte cadence is device-defined; the capture layer
	// reframes to fixed-duration windows.
	Start(sampleRate, channels int, onData func(pcm []byte)) error

	// Stop closes the device and releases it
	Stop() error
}

// FrameFunc receives one fixed-duration frame of captured audio
type FrameFunc func(payload []byte, capturedAt time.Time)

// LevelFunc receives a normalized 0-1 audio level for UI feedback
type LevelFunc func(level float64)

// CaptureConfig holds the capture format and cadence
type CaptureConfig struct {
	SampleRateHertz int
	Channels        int
	FrameDuration   time.Duration // One frame every fixed interval, silence included
	LevelInterval   time.Duration // Levels are emitted roughly twice per frame
}

// DefaultCaptureConfig returns the format the remote recognizer expects:
// 16kHz mono 16-bit PCM, 100ms frames, 50ms level updates
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRateHertz: 16000,
		Channels:        1,
		FrameDuration:   100 * time.Millisecond,
		LevelInterval:   50 * time.Millisecond,
	}
}

// Capture acquires microphone permission, opens a PCM capture stream and
// emits fixed-duration frames plus a normalized audio level. Permission is
// requested lazily on the first Start and cached for the process lifetime.
type Capture struct {
	backend CaptureBackend
	config  CaptureConfig
	logger  zerolog.Logger

	mu              sync.Mutex
	running         bool
	permissionAsked bool
	permissionErr   error

	frameBytes   int
	levelBytes   int
	framePending []byte
	levelPending []byte
	onFrame      FrameFunc
	onLevel      LevelFunc
}

// NewCapture creates a capture pipeline over the given backend
func NewCapture(backend CaptureBackend, config CaptureConfig, logger zerolog.Logger) *Capture {
	bytesPerSecond := config.SampleRateHertz * config.Channels * 2 // 16-bit samples
	frameBytes := int(float64(bytesPerSecond) * config.FrameDuration.Seconds())
	levelBytes := int(float64(bytesPerSecond) * config.LevelInterval.Seconds())
	if frameBytes < 2 {
		frameBytes = 2
	}
	if levelBytes < 2 {
		levelBytes = 2
	}

	return &Capture{
		backend:    backend,
		config:     config,
		logger:     logger,
		frameBytes: frameBytes,
		levelBytes: levelBytes,
	}
}

// RequestPermission acquires microphone permission, caching the outcome for
// the process lifetime
func (c *Capture) RequestPermission() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestPermissionLocked()
}

func (c *Capture) requestPermissionLocked() error {
	if c.permissionAsked {
		return c.permissionErr
	}
	c.permissionAsked = true
	c.permissionErr = c.backend.RequestPermission()
	if c.permissionErr != nil {
		c.logger.Warn().Err(c.permissionErr).Msg("Microphone permission denied")
	}
	return c.permissionErr
}

// Start begins capturing. onFrame receives one frame every FrameDuration
// regardless of silence; onLevel receives normalized levels at the shorter
// LevelInterval cadence. Level computation failures never stop frame
// emission.
func (c *Capture) Start(onFrame FrameFunc, onLevel LevelFunc) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrCaptureActive
	}

	if err := c.requestPermissionLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	c.onFrame = onFrame
	c.onLevel = onLevel
	c.framePending = c.framePending[:0]
	c.levelPending = c.levelPending[:0]
	c.running = true
	c.mu.Unlock()

	err := c.backend.Start(c.config.SampleRateHertz, c.config.Channels, c.handleData)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("failed to open capture device: %w", err)
	}

	c.logger.Debug().
		Int("sample_rate", c.config.SampleRateHertz).
		Int("frame_bytes", c.frameBytes).
		Msg("Capture started")
	return nil
}

// handleData reframes device-cadence PCM into fixed-duration frames
func (c *Capture) handleData(pcm []byte) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}

	c.framePending = append(c.framePending, pcm...)
	c.levelPending = append(c.levelPending, pcm...)

	var frames [][]byte
	for len(c.framePending) >= c.frameBytes {
		frame := make([]byte, c.frameBytes)
		copy(frame, c.framePending[:c.frameBytes])
		c.framePending = c.framePending[c.frameBytes:]
		frames = append(frames, frame)
	}

	var levels []float64
	for len(c.levelPending) >= c.levelBytes {
		window := c.levelPending[:c.levelBytes]
		levels = append(levels, safeLevel(window))
		c.levelPending = c.levelPending[c.levelBytes:]
	}

	onFrame := c.onFrame
	onLevel := c.onLevel
	c.mu.Unlock()

	now := time.Now()
	if onFrame != nil {
		for _, frame := range frames {
			onFrame(frame, now)
		}
	}
	if onLevel != nil {
		for _, level := range levels {
			onLevel(level)
		}
	}
}

// safeLevel isolates level computation so a failure there cannot take down
// frame emission
func safeLevel(window []byte) (level float64) {
	defer func() {
		if recover() != nil {
			level = 0.0
		}
	}()
	return NormalizedLevel(window)
}

// Stop flushes the in-flight partial frame and releases the device.
// Calling it when not capturing is a no-op, not an error.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false

	var flush []byte
	if len(c.framePending) > 0 {
		flush = make([]byte, len(c.framePending))
		copy(flush, c.framePending)
		c.framePending = c.framePending[:0]
	}
	c.levelPending = c.levelPending[:0]
	onFrame := c.onFrame
	c.mu.Unlock()

	if flush != nil && onFrame != nil {
		onFrame(flush, time.Now())
	}

	if err := c.backend.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("Error releasing capture device")
	}
	c.logger.Debug().Msg("Capture stopped")
}

// IsRunning returns whether capture is active
func (c *Capture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
