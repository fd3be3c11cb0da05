package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kestrelvoice/voice-client/internal/observability"
	"github.com/kestrelvoice/voice-client/internal/protocol"
	"github.com/kestrelvoice/voice-client/internal/resilience"
)

// ErrGatewayClosed reports that the gateway deliberately closed the
// connection. The session did not survive; the owner must surface the loss
// rather than keep listening into the void.
var ErrGatewayClosed = errors.New("gateway closed the connection")

// Handlers receive decoded gateway events. The set is fixed at construction
// time; a transport never gains or loses handlers mid-session, so a
// reconnect cannot race a handler swap.
type Handlers struct {
	OnSessionStarted    func(*protocol.SessionStarted)
	OnSpeechStart       func(*protocol.SpeechStart)
	OnInterimTranscript func(*protocol.InterimTranscript)
	OnFinalTranscript   func(*protocol.FinalTranscript)
	OnNluResult         func(*protocol.NluResult)
	OnTtsAudio          func(*protocol.TtsAudioChunk)
	OnStateChange       func(*protocol.StateChange)
	OnError             func(*protocol.ErrorEvent)

	// OnReconnect fires after a dropped connection was re-established.
	// The previous session is gone; the owner must start a new one.
	OnReconnect func()

	// OnDisconnect fires once the connection is terminally lost. err is
	// nil only when the transport was closed locally; a remote close
	// arrives as ErrGatewayClosed and exhausted reconnects carry the
	// consolidated failure.
	OnDisconnect func(err error)
}

// Config holds the gateway connection parameters
type Config struct {
	GatewayURL          string
	HandshakeTimeout    time.Duration
	Session             protocol.SessionConfig
	Reconnect           *resilience.ReconnectConfig
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// Transport owns the WebSocket connection to the voice gateway. It encodes
// outbound control and audio messages, decodes inbound events into the
// fixed handler set, and transparently reconnects with bounded fixed
// backoff when the connection drops mid-session.
type Transport struct {
	config   Config
	handlers Handlers
	logger   zerolog.Logger
	metrics  *observability.Metrics
	breaker  *resilience.CircuitBreaker
	dialer   *websocket.Dialer

	lifetime context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	stopped   bool // stop was sent; frames are dropped until the next session
	closing   bool

	// gorilla/websocket permits one concurrent writer
	writeMu sync.Mutex
}

// New creates a transport for the given gateway. Handlers are bound here
// and cannot change afterwards.
func New(config Config, handlers Handlers, metrics *observability.Metrics, logger zerolog.Logger) *Transport {
	if config.Reconnect == nil {
		config.Reconnect = resilience.DefaultReconnectConfig()
	}
	if config.BreakerMaxFailures <= 0 {
		config.BreakerMaxFailures = 5
	}
	if config.BreakerResetTimeout <= 0 {
		config.BreakerResetTimeout = 30 * time.Second
	}

	lifetime, cancel := context.WithCancel(context.Background())

	return &Transport{
		config:   config,
		handlers: handlers,
		logger:   logger,
		metrics:  metrics,
		breaker:  resilience.NewCircuitBreaker("voice-gateway", config.BreakerMaxFailures, config.BreakerResetTimeout),
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		lifetime: lifetime,
		cancel:   cancel,
	}
}

// Connect dials the gateway and starts the receive loop. The circuit
// breaker guards the handshake so a dead gateway is not hammered.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	t.mu.Unlock()

	var conn *websocket.Conn
	err := t.breaker.Call(func() error {
		c, _, dialErr := t.dialer.DialContext(ctx, t.config.GatewayURL, nil)
		if dialErr != nil {
			return fmt.Errorf("failed to dial gateway %s: %w", t.config.GatewayURL, dialErr)
		}
		conn = c
		return nil
	})
	if err != nil {
		t.metrics.RecordError("connect", "transport")
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.logger.Info().Str("gateway_url", t.config.GatewayURL).Msg("Connected to voice gateway")

	go t.readLoop(conn)
	return nil
}

// StartSession asks the gateway to open a new session with the configured
// audio format. The session is live once the session_started event arrives.
// The write is retried briefly since it often lands right after a reconnect.
func (t *Transport) StartSession() error {
	t.mu.Lock()
	t.stopped = false
	t.mu.Unlock()

	return resilience.Retry(func() error {
		return t.writeJSON(protocol.NewStartMessage(t.config.Session))
	}, &resilience.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}, resilience.IsRetryableNetworkError)
}

// SendAudio transmits one captured frame. Frames offered before the session
// is confirmed, or after stop, are dropped silently with a debug note so a
// capture pipeline racing session teardown never errors.
func (t *Transport) SendAudio(frame protocol.AudioFrame) error {
	t.mu.Lock()
	sessionID := t.sessionID
	stopped := t.stopped
	t.mu.Unlock()

	if sessionID == "" {
		reason := "no_session"
		if stopped {
			reason = "stopped"
		}
		t.logger.Debug().
			Uint64("sequence_number", frame.SequenceNumber).
			Str("reason", reason).
			Msg("Dropping audio frame without active session")
		t.metrics.RecordFrameDropped(reason)
		return nil
	}

	data, err := protocol.EncodeAudioMessage(sessionID, frame)
	if err != nil {
		return err
	}
	if err := t.writeMessage(data); err != nil {
		return err
	}
	t.metrics.RecordFrameSent(len(frame.Payload))
	return nil
}

// EndOfSpeech tells the gateway the user's utterance is done. With
// forceProcess set the gateway processes whatever it buffered even if its
// endpointing has not fired.
func (t *Transport) EndOfSpeech(forceProcess bool) error {
	t.mu.Lock()
	sessionID := t.sessionID
	t.mu.Unlock()
	if sessionID == "" {
		return fmt.Errorf("no active session")
	}
	return t.writeJSON(&protocol.EndSpeechMessage{
		Type:         protocol.TypeEndSpeech,
		SessionID:    sessionID,
		ForceProcess: forceProcess,
	})
}

// CancelPlayback tells the gateway to abandon in-flight synthesis after a
// barge-in
func (t *Transport) CancelPlayback() error {
	t.mu.Lock()
	sessionID := t.sessionID
	t.mu.Unlock()
	if sessionID == "" {
		return fmt.Errorf("no active session")
	}
	return t.writeJSON(&protocol.CancelTTSMessage{
		Type:      protocol.TypeCancelTTS,
		SessionID: sessionID,
	})
}

// StopSession ends the current session. The session ID is cleared first so
// any frame still in flight through the capture pipeline is dropped rather
// than sent against a dead session.
func (t *Transport) StopSession() error {
	t.mu.Lock()
	sessionID := t.sessionID
	t.sessionID = ""
	t.stopped = true
	t.mu.Unlock()

	if sessionID == "" {
		return nil
	}
	return t.writeJSON(&protocol.StopMessage{
		Type:      protocol.TypeStop,
		SessionID: sessionID,
	})
}

// CurrentSession returns the confirmed session ID, or empty when none is live
func (t *Transport) CurrentSession() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Close tears the connection down deliberately. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.sessionID = ""
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.cancel()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	if t.handlers.OnDisconnect != nil {
		t.handlers.OnDisconnect(nil)
	}
	return nil
}

// writeJSON marshals and sends one control message
func (t *Transport) writeJSON(msg interface{}) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// writeMessage sends pre-encoded bytes
func (t *Transport) writeMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	return nil
}

// readLoop receives and dispatches gateway events until the connection
// drops or the transport closes
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadFailure(conn, err)
			return
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			t.logger.Warn().Err(err).Msg("Ignoring undecodable gateway message")
			t.metrics.RecordError("protocol", "transport")
			continue
		}

		t.metrics.RecordEvent(ev.EventType())
		t.dispatch(ev)
	}
}

// dispatch routes one decoded event to its handler. The transport records
// the session ID itself so frame gating does not depend on the owner.
func (t *Transport) dispatch(ev protocol.Event) {
	switch e := ev.(type) {
	case *protocol.SessionStarted:
		t.mu.Lock()
		t.sessionID = e.Session
		t.stopped = false
		t.mu.Unlock()
		if t.handlers.OnSessionStarted != nil {
			t.handlers.OnSessionStarted(e)
		}
	case *protocol.SpeechStart:
		if t.handlers.OnSpeechStart != nil {
			t.handlers.OnSpeechStart(e)
		}
	case *protocol.InterimTranscript:
		if t.handlers.OnInterimTranscript != nil {
			t.handlers.OnInterimTranscript(e)
		}
	case *protocol.FinalTranscript:
		if t.handlers.OnFinalTranscript != nil {
			t.handlers.OnFinalTranscript(e)
		}
	case *protocol.NluResult:
		if t.handlers.OnNluResult != nil {
			t.handlers.OnNluResult(e)
		}
	case *protocol.TtsAudioChunk:
		t.metrics.RecordTTSBytes(len(e.AudioData))
		if t.handlers.OnTtsAudio != nil {
			t.handlers.OnTtsAudio(e)
		}
	case *protocol.StateChange:
		if t.handlers.OnStateChange != nil {
			t.handlers.OnStateChange(e)
		}
	case *protocol.ErrorEvent:
		if t.handlers.OnError != nil {
			t.handlers.OnError(e)
		}
	}
}

// handleReadFailure attempts a bounded reconnect after an unexpected
// connection loss. The in-flight session does not survive; the owner is
// told to start a new one on success, or given a terminal error when
// attempts are exhausted.
func (t *Transport) handleReadFailure(conn *websocket.Conn, readErr error) {
	t.mu.Lock()
	if t.closing || t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.sessionID = ""
	t.mu.Unlock()

	_ = conn.Close()

	// A clean remote close is a deliberate end of service, not a fault
	// worth reconnect attempts. It still killed the session, so it is
	// reported as a terminal loss rather than a local close.
	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		!resilience.IsRetryableNetworkError(readErr) {
		t.logger.Info().Err(readErr).Msg("Gateway closed the connection")
		if t.handlers.OnDisconnect != nil {
			t.handlers.OnDisconnect(ErrGatewayClosed)
		}
		return
	}

	t.logger.Warn().Err(readErr).Msg("Gateway connection lost, attempting reconnect")

	err := resilience.Reconnect(t.lifetime, t.logger, func() error {
		return t.redial()
	}, t.config.Reconnect)

	if err != nil {
		t.metrics.RecordReconnect(false)
		t.metrics.RecordError("reconnect_exhausted", "transport")
		t.logger.Error().Err(err).Msg("Reconnection attempts exhausted")
		if t.handlers.OnDisconnect != nil {
			t.handlers.OnDisconnect(err)
		}
		return
	}

	t.metrics.RecordReconnect(true)
	if t.handlers.OnReconnect != nil {
		t.handlers.OnReconnect()
	}
}

// redial is one reconnection attempt, guarded by the same circuit breaker
// as the initial connect
func (t *Transport) redial() error {
	var conn *websocket.Conn
	err := t.breaker.Call(func() error {
		c, _, dialErr := t.dialer.DialContext(t.lifetime, t.config.GatewayURL, nil)
		if dialErr != nil {
			return fmt.Errorf("failed to dial gateway %s: %w", t.config.GatewayURL, dialErr)
		}
		conn = c
		return nil
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("transport closed during reconnect")
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}
