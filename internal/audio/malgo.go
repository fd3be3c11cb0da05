package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoBackend captures microphone audio through miniaudio.
// It owns the device exclusively; exactly one backend may be active per
// process for a given device.
type MalgoBackend struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMalgoBackend creates an uninitialized miniaudio capture backend.
// The audio context is initialized lazily on first use.
func NewMalgoBackend() *MalgoBackend {
	return &MalgoBackend{}
}

func (b *MalgoBackend) ensureContextLocked() error {
	if b.ctx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}
	b.ctx = ctx
	return nil
}

// RequestPermission probes the capture device. miniaudio has no separate
// permission API; a device that cannot be opened is reported as a denial so
// the caller can render the "enable microphone" affordance.
func (b *MalgoBackend) RequestPermission() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureContextLocked(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = 16000
	cfg.Alsa.NoMMap = 1

	probe, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	probe.Uninit()
	return nil
}

// Start opens the capture device and streams PCM bytes to onData
func (b *MalgoBackend) Start(sampleRate, channels int, onData func(pcm []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device != nil {
		return ErrCaptureActive
	}
	if err := b.ensureContextLocked(); err != nil {
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1 // Better compatibility on some systems

	device, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if pInput == nil {
				return
			}
			// The device owns pInput; hand a copy downstream
			chunk := make([]byte, len(pInput))
			copy(chunk, pInput)
			onData(chunk)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	b.device = device
	return nil
}

// Stop releases the capture device
func (b *MalgoBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device == nil {
		return nil
	}
	b.device.Uninit()
	b.device = nil
	return nil
}

// Close releases the device and the audio context
func (b *MalgoBackend) Close() error {
	b.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		_ = b.ctx.Uninit()
		b.ctx.Free()
		b.ctx = nil
	}
	return nil
}
