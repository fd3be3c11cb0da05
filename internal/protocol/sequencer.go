package protocol

import (
	"sync"
	"time"
)

// AudioFrame is one outbound unit of captured audio
type AudioFrame struct {
	Payload        []byte    // Raw encoded audio bytes for a fixed duration window
	SequenceNumber uint64    // Assigned by the FrameSequencer, strictly increasing per session
	CapturedAt     time.Time // Capture timestamp, monotonic clock
}

// FrameSequencer assigns monotonically increasing sequence numbers to
// outgoing audio frames. It is the sole owner of the counter; the counter
// is reset to 0 on every new session, so the first frame of a session is
// numbered 1.
type FrameSequencer struct {
	mu      sync.Mutex
	counter uint64
	now     func() time.Time
}

// NewFrameSequencer creates a sequencer with its counter at zero
func NewFrameSequencer() *FrameSequencer {
	return &FrameSequencer{now: time.Now}
}

// Next wraps a captured payload into the next sequenced frame
func (s *FrameSequencer) Next(payload []byte) AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	return AudioFrame{
		Payload:        payload,
		SequenceNumber: s.counter,
		CapturedAt:     s.now(),
	}
}

// Reset returns the counter to zero for a new session
func (s *FrameSequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = 0
}

// Current returns the sequence number of the last frame issued
func (s *FrameSequencer) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}
