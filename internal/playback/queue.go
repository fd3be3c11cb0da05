package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kestrelvoice/voice-client/internal/audio"
)

// Chunk is one unit of synthesized speech awaiting playback
type Chunk struct {
	AudioData       []byte
	Encoding        string
	SampleRateHertz int
	IsComplete      bool // true on the final chunk of an utterance
}

// DecodeError marks a chunk whose bytes could not be turned into playable
// PCM. It is isolated to the one chunk: the queue skips it and continues.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s chunk: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Player renders decoded PCM to the output device. Play blocks until the
// audio has been rendered or the context is cancelled. Implementations are
// selected at construction time.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
	Close() error
}

// Callbacks observe queue activity. The queue reports exactly one
// OnRunStart and one OnRunEnd per run (a burst of back-to-back enqueues),
// not one per chunk, so the state machine sees one speaking interval per
// utterance even when it is assembled from several chunks.
type Callbacks struct {
	OnRunStart   func()
	OnRunEnd     func()
	OnChunkError func(err error)
}

// Queue buffers synthesized-speech chunks in arrival order, plays them
// back-to-back, and supports immediate idempotent interruption. The queue
// exclusively owns its contents; at most one chunk is being rendered at a
// time.
type Queue struct {
	player    Player
	logger    zerolog.Logger
	callbacks Callbacks

	mu           sync.Mutex
	cond         *sync.Cond
	pending      []*Chunk
	running      bool
	interrupting bool
	paused       bool
	closed       bool
	cancelActive context.CancelFunc
	runDone      chan struct{}
}

// NewQueue creates a playback queue over the given player
func NewQueue(player Player, callbacks Callbacks, logger zerolog.Logger) *Queue {
	q := &Queue{
		player:    player,
		callbacks: callbacks,
		logger:    logger,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a chunk. The first enqueue of an idle queue starts a new
// run. A chunk arriving while an interrupt is in progress is discarded, not
// played: this closes the race where an in-flight decode completes after the
// user has already started talking over the assistant.
func (q *Queue) Enqueue(chunk *Chunk) {
	q.mu.Lock()
	if q.closed || q.interrupting {
		q.mu.Unlock()
		q.logger.Debug().Msg("Discarding chunk enqueued during interrupt")
		return
	}

	q.pending = append(q.pending, chunk)
	q.startRunLocked()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// PlaySingle clears the queue, stops the active chunk and enqueues exactly
// one complete chunk. Used for non-streamed replies.
func (q *Queue) PlaySingle(chunk *Chunk) {
	q.mu.Lock()
	q.pending = nil
	cancel := q.cancelActive
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	chunk.IsComplete = true
	q.Enqueue(chunk)
}

// startRunLocked launches the run goroutine if none is active. Caller holds mu.
func (q *Queue) startRunLocked() {
	if q.running {
		return
	}
	q.running = true
	q.runDone = make(chan struct{})
	go q.run(q.runDone)
}

// run renders pending chunks in enqueue order until the queue drains or an
// interrupt clears it
func (q *Queue) run(done chan struct{}) {
	if q.callbacks.OnRunStart != nil {
		q.callbacks.OnRunStart()
	}

	for {
		q.mu.Lock()
		for q.paused && !q.interrupting && !q.closed {
			q.cond.Wait()
		}
		if q.interrupting || q.closed || len(q.pending) == 0 {
			q.running = false
			q.cancelActive = nil
			q.mu.Unlock()
			break
		}

		chunk := q.pending[0]
		q.pending = q.pending[1:]
		ctx, cancel := context.WithCancel(context.Background())
		q.cancelActive = cancel
		q.mu.Unlock()

		q.renderChunk(ctx, chunk)
		cancel()

		q.mu.Lock()
		q.cancelActive = nil
		q.mu.Unlock()
	}

	if q.callbacks.OnRunEnd != nil {
		q.callbacks.OnRunEnd()
	}
	close(done)
}

// renderChunk decodes and plays one chunk. Decode failures are reported and
// skipped without failing the run.
func (q *Queue) renderChunk(ctx context.Context, chunk *Chunk) {
	pcm, rate, err := decodeChunk(chunk)
	if err != nil {
		q.logger.Warn().Err(err).Msg("Skipping undecodable chunk")
		if q.callbacks.OnChunkError != nil {
			q.callbacks.OnChunkError(err)
		}
		return
	}

	// The decode may have raced an interrupt; a cancelled chunk is
	// discarded rather than played
	if ctx.Err() != nil {
		return
	}

	if err := q.player.Play(ctx, pcm, rate); err != nil && ctx.Err() == nil {
		q.logger.Warn().Err(err).Msg("Playback failed for chunk")
		if q.callbacks.OnChunkError != nil {
			q.callbacks.OnChunkError(err)
		}
	}
}

// decodeChunk normalizes a chunk to raw PCM and a sample rate. Raw payloads
// with no recognized container are wrapped in a minimal WAV header using the
// chunk's declared sample rate, the deterministic fallback for streamed TTS.
func decodeChunk(chunk *Chunk) ([]byte, int, error) {
	if len(chunk.AudioData) == 0 {
		return nil, 0, &DecodeError{Format: "empty", Err: fmt.Errorf("chunk has no audio data")}
	}

	format := audio.DetectFormat(chunk.AudioData)
	switch format {
	case audio.FormatWav:
		pcm, rate, err := audio.ParseWav(chunk.AudioData)
		if err != nil {
			return nil, 0, &DecodeError{Format: format.String(), Err: err}
		}
		return pcm, rate, nil

	case audio.FormatRawPCM:
		rate := chunk.SampleRateHertz
		if rate <= 0 {
			rate = 16000
		}
		wrapped := audio.NewWavBuffer(chunk.AudioData, rate)
		pcm, rate, err := audio.ParseWav(wrapped)
		if err != nil {
			return nil, 0, &DecodeError{Format: format.String(), Err: err}
		}
		return pcm, rate, nil

	default:
		// No codec for compressed containers; the chunk is skipped and
		// the session continues
		return nil, 0, &DecodeError{Format: format.String(), Err: fmt.Errorf("unsupported container")}
	}
}

// Interrupt stops playback immediately and idempotently: it marks the
// interrupt in progress, atomically clears all pending chunks, stops the
// actively-rendering chunk, and only then clears the mark, so a chunk
// delivered by a concurrent decode after the interrupt was requested is
// discarded rather than played.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	q.interrupting = true
	q.pending = nil
	cancel := q.cancelActive
	running := q.running
	done := q.runDone
	q.cond.Broadcast()
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if running && done != nil {
		<-done
	}

	q.mu.Lock()
	q.interrupting = false
	q.mu.Unlock()
}

// Pause suspends playback at the next chunk boundary
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume continues a paused queue
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

// PendingCount returns the number of chunks awaiting playback
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsActive returns whether a run is in progress
func (q *Queue) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Close interrupts playback and releases the output device
func (q *Queue) Close() error {
	q.Interrupt()

	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	return q.player.Close()
}
