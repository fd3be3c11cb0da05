package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/kestrelvoice/voice-client/internal/audio"
)

// MalgoPlayer renders PCM through the system's default output device via
// miniaudio. One device is opened per Play call so each chunk can carry its
// own sample rate.
type MalgoPlayer struct {
	mu       sync.Mutex
	audioCtx *malgo.AllocatedContext
}

// NewMalgoPlayer creates an output player. The miniaudio context is
// initialized lazily on first playback.
func NewMalgoPlayer() *MalgoPlayer {
	return &MalgoPlayer{}
}

func (p *MalgoPlayer) ensureContext() (*malgo.AllocatedContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.audioCtx != nil {
		return p.audioCtx, nil
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	p.audioCtx = audioCtx
	return audioCtx, nil
}

// Play blocks until the PCM has been handed to the device or the context is
// cancelled. Mono 16-bit little-endian samples are assumed.
func (p *MalgoPlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	audioCtx, err := p.ensureContext()
	if err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	// The device callback pulls fixed-size reads; the ring buffer bridges
	// them to the chunk-sized PCM the queue hands us
	ring := audio.NewRingBuffer(len(pcm) + 1)
	ring.Write(pcm)

	var doneOnce sync.Once
	done := make(chan struct{})

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			n := ring.Read(pOutput)

			// Zero-fill the tail so the device does not replay stale
			// buffer contents after the chunk ends
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}

			if ring.IsEmpty() {
				doneOnce.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to open playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the miniaudio context
func (p *MalgoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.audioCtx != nil {
		_ = p.audioCtx.Uninit()
		p.audioCtx.Free()
		p.audioCtx = nil
	}
	return nil
}
