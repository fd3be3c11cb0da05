package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelvoice/voice-client/internal/audio"
	"github.com/kestrelvoice/voice-client/internal/config"
	"github.com/kestrelvoice/voice-client/internal/observability"
	"github.com/kestrelvoice/voice-client/internal/playback"
	"github.com/kestrelvoice/voice-client/internal/protocol"
	"github.com/kestrelvoice/voice-client/internal/resilience"
	"github.com/kestrelvoice/voice-client/internal/session"
	"github.com/kestrelvoice/voice-client/internal/transport"
)

// Observers receive user-facing pipeline activity. All callbacks are
// optional and must not block.
type Observers struct {
	OnStateChange       func(previous, next session.State)
	OnInterimTranscript func(transcript string)
	OnFinalTranscript   func(transcript string, confidence float64)
	OnNluResult         func(result *protocol.NluResult)
	OnAudioLevel        func(level float64)

	// OnPermissionDenied fires when microphone permission is refused, the
	// one failure that needs its own user guidance rather than a generic
	// error surface
	OnPermissionDenied func(err error)

	OnSessionError func(err error)
}

// Controller drives the full voice loop: microphone capture through the
// gateway session to speaker playback. It owns the lifecycle of every
// component and is the only writer of voice-mode state.
type Controller struct {
	config        *config.Config
	logger        zerolog.Logger
	metrics       *observability.Metrics
	observers     Observers
	correlationID string

	capture   *audio.Capture
	sequencer *protocol.FrameSequencer
	machine   *session.Machine
	queue     *playback.Queue
	transport *transport.Transport

	vadMu sync.Mutex
	vad   *audio.VADDetector

	mu            sync.Mutex
	active        bool
	connected     bool
	tornDown      bool
	sessionReady  chan struct{}
	endSpeechAck  chan struct{}
	connectCancel context.CancelFunc

	interruptInFlight atomic.Bool
	assistantAudible  atomic.Bool
}

// New wires a controller from its device backends. The transport handler
// set is fixed here and never changes afterwards.
func New(cfg *config.Config, backend audio.CaptureBackend, player playback.Player, observers Observers, logger zerolog.Logger) *Controller {
	correlationID := observability.NewCorrelationID()
	log := logger.With().Str("correlation_id", correlationID).Logger()
	metrics := observability.NewSessionMetrics(correlationID)

	c := &Controller{
		config:        cfg,
		logger:        log,
		metrics:       metrics,
		observers:     observers,
		correlationID: correlationID,
		sequencer:     protocol.NewFrameSequencer(),
		vad: audio.NewVADDetector(&audio.VADConfig{
			LevelThreshold: cfg.BargeInThreshold,
			HoldFrames:     cfg.BargeInHoldFrames,
			SilenceFrames:  10,
			PlaybackFactor: cfg.BargeInPlaybackFactor,
		}),
	}

	c.machine = session.NewMachine(log, c.handleStateChange, c.handleRecoverableError)

	c.capture = audio.NewCapture(backend, audio.CaptureConfig{
		SampleRateHertz: cfg.SampleRateHertz,
		Channels:        1,
		FrameDuration:   cfg.FrameDuration(),
		LevelInterval:   cfg.LevelInterval(),
	}, log)

	c.queue = playback.NewQueue(player, playback.Callbacks{
		OnRunStart: c.handlePlaybackStart,
		OnRunEnd:   c.handlePlaybackEnd,
		OnChunkError: func(err error) {
			metrics.RecordChunkSkipped()
			log.Warn().Err(err).Msg("Playback chunk skipped")
		},
	}, log)

	c.transport = transport.New(transport.Config{
		GatewayURL:       cfg.GatewayURL,
		HandshakeTimeout: time.Duration(cfg.HandshakeTimeout) * time.Second,
		Session: protocol.SessionConfig{
			AudioEncoding:   cfg.AudioEncoding,
			SampleRateHertz: cfg.SampleRateHertz,
			LanguageCode:    cfg.LanguageCode,
		},
		Reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  1.0,
			MaxBackoff:  30 * time.Second,
		},
		BreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		BreakerResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
	}, transport.Handlers{
		OnSessionStarted:    c.handleSessionStarted,
		OnSpeechStart:       c.handleSpeechStart,
		OnInterimTranscript: c.handleInterimTranscript,
		OnFinalTranscript:   c.handleFinalTranscript,
		OnNluResult:         c.handleNluResult,
		OnTtsAudio:          c.handleTtsAudio,
		OnStateChange:       c.handleServerStateChange,
		OnError:             c.handleGatewayError,
		OnReconnect:         c.handleReconnect,
		OnDisconnect:        c.handleDisconnect,
	}, metrics, log)

	return c
}

// ToggleVoiceMode turns the voice loop on or off. It returns the resulting
// mode.
func (c *Controller) ToggleVoiceMode(ctx context.Context) (bool, error) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active {
		if err := c.stopVoiceMode(); err != nil {
			return true, err
		}
		return false, nil
	}

	if err := c.StartListening(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Active reports whether voice mode is on
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// State returns the current session state
func (c *Controller) State() session.State {
	return c.machine.State()
}

// StartListening brings the pipeline up: permission, connection, session,
// capture. Any failure rolls back every step already taken so the pipeline
// is back in idle, never half-started.
func (c *Controller) StartListening(ctx context.Context) error {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return fmt.Errorf("controller is torn down")
	}
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Permission first: denial is surfaced through its own callback so
	// the UI can point the user at system settings
	if err := c.capture.RequestPermission(); err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			c.metrics.RecordError("permission_denied", "controller")
			if c.observers.OnPermissionDenied != nil {
				c.observers.OnPermissionDenied(err)
			}
		}
		return err
	}

	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	ready := make(chan struct{}, 1)
	c.mu.Lock()
	c.sessionReady = ready
	c.mu.Unlock()

	if err := c.transport.StartSession(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	select {
	case <-ready:
	case <-time.After(time.Duration(c.config.SessionStartTimeout) * time.Second):
		_ = c.transport.StopSession()
		return fmt.Errorf("timed out waiting for session confirmation")
	case <-ctx.Done():
		_ = c.transport.StopSession()
		return ctx.Err()
	}

	c.sequencer.Reset()
	c.vadMu.Lock()
	c.vad.Reset()
	c.vadMu.Unlock()

	if err := c.capture.Start(c.handleFrame, c.handleLevel); err != nil {
		// Roll the session back so the gateway is not left waiting for
		// audio that will never come
		_ = c.transport.StopSession()
		c.machine.NoteStop()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	c.mu.Lock()
	c.active = true
	c.mu.Unlock()

	c.metrics.RecordSessionStart()
	c.logger.Info().Str("session_id", c.transport.CurrentSession()).Msg("Voice mode started")
	return nil
}

// StopListening ends the user's turn without leaving the session: end_speech
// is sent and capture keeps running until the gateway acknowledges (or the
// wait times out), then stops. With forceProcess the gateway processes
// whatever it buffered even if its endpointing never fired.
func (c *Controller) StopListening(forceProcess bool) error {
	ack := make(chan struct{}, 1)
	c.mu.Lock()
	c.endSpeechAck = ack
	c.mu.Unlock()

	if err := c.transport.EndOfSpeech(forceProcess); err != nil {
		return err
	}

	// Capture keeps running until the gateway acknowledges so the tail of
	// the utterance is not cut off while end_speech is in flight
	select {
	case <-ack:
	case <-time.After(time.Duration(c.config.EndOfSpeechTimeout) * time.Second):
		c.logger.Debug().Msg("No end-of-speech acknowledgement before timeout")
	}

	c.capture.Stop()
	return nil
}

// Interrupt cuts assistant playback immediately. Safe to call at any time
// and from any goroutine; concurrent and repeated calls coalesce.
func (c *Controller) Interrupt() {
	if !c.interruptInFlight.CompareAndSwap(false, true) {
		return
	}
	defer c.interruptInFlight.Store(false)

	c.queue.Interrupt()
	if err := c.transport.CancelPlayback(); err != nil {
		c.logger.Debug().Err(err).Msg("Cancel playback not sent")
	}
	c.machine.NoteInterrupt()
	c.metrics.RecordInterrupt()
}

// Teardown shuts the whole pipeline down from any state, including
// mid-connect. Idempotent.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	c.active = false
	cancel := c.connectCancel
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.capture.Stop()
	_ = c.queue.Close()

	if wasConnected {
		_ = c.transport.StopSession()
	}
	_ = c.transport.Close()

	c.machine.NoteStop()
	c.metrics.RecordSessionEnd()
	c.logger.Info().Msg("Voice pipeline torn down")
}

// stopVoiceMode ends the session but keeps the connection for the next
// toggle
func (c *Controller) stopVoiceMode() error {
	c.capture.Stop()
	c.queue.Interrupt()
	err := c.transport.StopSession()
	c.machine.NoteStop()

	c.mu.Lock()
	c.active = false
	c.mu.Unlock()

	c.metrics.RecordSessionEnd()
	c.logger.Info().Msg("Voice mode stopped")
	return err
}

// ensureConnected dials the gateway once; later calls reuse the connection
func (c *Controller) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	connectCtx, cancel := context.WithCancel(ctx)
	c.connectCancel = cancel
	c.mu.Unlock()

	if err := c.transport.Connect(connectCtx); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.connectCancel = nil
	c.mu.Unlock()
	cancel()
	return nil
}

// handleFrame sequences one captured frame and ships it. Frames racing a
// session boundary are dropped by the transport, not errored.
func (c *Controller) handleFrame(payload []byte, capturedAt time.Time) {
	frame := c.sequencer.Next(payload)
	frame.CapturedAt = capturedAt
	if err := c.transport.SendAudio(frame); err != nil {
		c.logger.Warn().Err(err).Uint64("sequence_number", frame.SequenceNumber).Msg("Failed to send audio frame")
		c.metrics.RecordError("send_audio", "controller")
	}
}

// handleLevel forwards the level to observers and runs barge-in detection.
// While the assistant is audible the detector's threshold is raised so the
// speaker does not trip it through the microphone.
func (c *Controller) handleLevel(level float64) {
	if c.observers.OnAudioLevel != nil {
		c.observers.OnAudioLevel(level)
	}

	audible := c.assistantAudible.Load()

	c.vadMu.Lock()
	_, speechStarted, _ := c.vad.ProcessLevel(level, audible)
	c.vadMu.Unlock()

	if speechStarted && audible {
		c.logger.Info().Float64("level", level).Msg("Barge-in detected")
		go c.Interrupt()
	}
}

// apply runs one gateway event through the state machine, counting events
// that arrived for a session that is no longer current
func (c *Controller) apply(ev protocol.Event) bool {
	if !c.machine.Apply(ev) {
		c.metrics.RecordStaleEvent()
		return false
	}
	return true
}

func (c *Controller) handleSessionStarted(e *protocol.SessionStarted) {
	if !c.apply(e) {
		return
	}
	sessionLog := observability.WithSession(c.correlationID, e.Session)
	sessionLog.Info().Msg("Session confirmed")

	c.mu.Lock()
	ready := c.sessionReady
	c.mu.Unlock()
	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}
}

func (c *Controller) handleSpeechStart(e *protocol.SpeechStart) {
	c.apply(e)
}

func (c *Controller) handleInterimTranscript(e *protocol.InterimTranscript) {
	if !c.apply(e) {
		return
	}
	if c.observers.OnInterimTranscript != nil {
		c.observers.OnInterimTranscript(e.Transcript)
	}
}

func (c *Controller) handleFinalTranscript(e *protocol.FinalTranscript) {
	if !c.apply(e) {
		return
	}
	c.signalEndSpeechAck()
	if c.observers.OnFinalTranscript != nil {
		c.observers.OnFinalTranscript(e.Transcript, e.Confidence)
	}
}

func (c *Controller) handleNluResult(e *protocol.NluResult) {
	if !c.apply(e) {
		return
	}
	if c.observers.OnNluResult != nil {
		c.observers.OnNluResult(e)
	}
}

func (c *Controller) handleTtsAudio(e *protocol.TtsAudioChunk) {
	if !c.apply(e) {
		return
	}
	c.queue.Enqueue(&playback.Chunk{
		AudioData:       e.AudioData,
		Encoding:        e.Encoding,
		SampleRateHertz: e.SampleRateHertz,
		IsComplete:      e.IsComplete,
	})
}

// handleServerStateChange consumes server-side state notifications. A state
// leaving listening doubles as the end-of-speech acknowledgement.
func (c *Controller) handleServerStateChange(e *protocol.StateChange) {
	if !c.apply(e) {
		return
	}
	if e.PreviousState == "listening" && e.NewState != "listening" {
		c.signalEndSpeechAck()
	}
}

func (c *Controller) handleGatewayError(e *protocol.ErrorEvent) {
	if !c.apply(e) {
		return
	}
	c.metrics.RecordError(e.Code, "gateway")
	if !e.Recoverable && c.observers.OnSessionError != nil {
		c.observers.OnSessionError(fmt.Errorf("gateway error %s: %s", e.Code, e.Message))
	}
}

// handleRecoverableError surfaces a recoverable gateway error without a
// state transition
func (c *Controller) handleRecoverableError(e *protocol.ErrorEvent) {
	c.logger.Warn().Str("code", e.Code).Str("message", e.Message).Msg("Recoverable gateway error")
	if c.observers.OnSessionError != nil {
		c.observers.OnSessionError(fmt.Errorf("gateway error %s: %s", e.Code, e.Message))
	}
}

// handleReconnect restarts the session on the fresh connection when voice
// mode was active through the drop
func (c *Controller) handleReconnect() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}

	c.logger.Info().Msg("Reconnected, starting replacement session")
	c.sequencer.Reset()
	if err := c.transport.StartSession(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to restart session after reconnect")
		c.machine.NoteError()
		if c.observers.OnSessionError != nil {
			c.observers.OnSessionError(err)
		}
	}
}

// handleDisconnect reacts to terminal connection loss. A deliberate close
// arrives with a nil error and needs no escalation.
func (c *Controller) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if err == nil {
		return
	}

	c.capture.Stop()
	c.queue.Interrupt()
	c.machine.NoteError()

	c.mu.Lock()
	c.active = false
	c.mu.Unlock()

	if c.observers.OnSessionError != nil {
		c.observers.OnSessionError(err)
	}
}

// handleStateChange tracks whether assistant audio should be considered
// audible for barge-in and fans out to observers
func (c *Controller) handleStateChange(prev, next session.State) {
	c.assistantAudible.Store(next == session.StateSpeaking)
	if next != session.StateSpeaking {
		c.vadMu.Lock()
		c.vad.Reset()
		c.vadMu.Unlock()
	}

	if c.observers.OnStateChange != nil {
		c.observers.OnStateChange(prev, next)
	}
}

// handlePlaybackStart marks the start of one assistant utterance
func (c *Controller) handlePlaybackStart() {
	c.metrics.RecordPlaybackRun()
}

// handlePlaybackEnd returns the session to listening after the utterance
// has fully rendered
func (c *Controller) handlePlaybackEnd() {
	c.machine.NotePlaybackComplete()
}

func (c *Controller) signalEndSpeechAck() {
	c.mu.Lock()
	ack := c.endSpeechAck
	c.mu.Unlock()
	if ack != nil {
		select {
		case ack <- struct{}{}:
		default:
		}
	}
}
