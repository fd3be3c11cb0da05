package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/kestrelvoice/voice-client/internal/protocol"
)

// State is the session state. It is owned by the Machine; all other
// components are read-only observers.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ChangeFunc observes state transitions
type ChangeFunc func(previous, next State)

// Machine is the authoritative mapping from gateway events to session state.
// Transitions are driven by inbound events, never inferred locally, with
// three exceptions the pipeline owns: barge-in interrupt, playback completion
// and local stop. Only one transition is processed at a time; events are
// applied in arrival order.
type Machine struct {
	mu        sync.Mutex
	state     State
	sessionID string
	ttsSeen   bool // first TTS chunk of the current utterance already transitioned us

	logger        zerolog.Logger
	onChange      ChangeFunc
	onRecoverable func(*protocol.ErrorEvent)
}

// NewMachine creates a state machine in the idle state
func NewMachine(logger zerolog.Logger, onChange ChangeFunc, onRecoverable func(*protocol.ErrorEvent)) *Machine {
	return &Machine{
		state:         StateIdle,
		logger:        logger,
		onChange:      onChange,
		onRecoverable: onRecoverable,
	}
}

// State returns the current session state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentSession returns the server-assigned session ID, or "" outside a session
func (m *Machine) CurrentSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Apply processes one gateway event in arrival order. It returns true if the
// event belongs to the current session and may be consumed downstream; events
// referencing a stale session are dropped with a debug-level note.
func (m *Machine) Apply(ev protocol.Event) bool {
	m.mu.Lock()

	// session_started establishes the session; everything else must match it
	if _, ok := ev.(*protocol.SessionStarted); !ok {
		if ev.SessionID() != m.sessionID || m.sessionID == "" {
			current := m.sessionID
			m.mu.Unlock()
			m.logger.Debug().
				Str("event", ev.EventType()).
				Str("event_session", ev.SessionID()).
				Str("current_session", current).
				Msg("Dropping event for stale session")
			return false
		}
	}

	var prev, next State
	transitioned := false
	var recoverable *protocol.ErrorEvent

	switch e := ev.(type) {
	case *protocol.SessionStarted:
		m.sessionID = e.Session
		m.ttsSeen = false
		prev, next, transitioned = m.transitionLocked(StateListening)

	case *protocol.FinalTranscript:
		// The user stopped talking; awaiting the understanding result.
		// Interim transcripts do not transition state.
		if m.state == StateListening {
			prev, next, transitioned = m.transitionLocked(StateProcessing)
		}

	case *protocol.TtsAudioChunk:
		if m.state == StateProcessing && !m.ttsSeen {
			m.ttsSeen = true
			prev, next, transitioned = m.transitionLocked(StateSpeaking)
		}

	case *protocol.ErrorEvent:
		if e.Recoverable {
			recoverable = e
		} else {
			prev, next, transitioned = m.transitionLocked(StateError)
		}
	}

	m.mu.Unlock()

	if transitioned {
		m.notify(prev, next)
	}
	if recoverable != nil && m.onRecoverable != nil {
		m.onRecoverable(recoverable)
	}
	return true
}

// NotePlaybackComplete transitions speaking → listening after the last TTS
// chunk of an utterance finishes playback
func (m *Machine) NotePlaybackComplete() {
	m.mu.Lock()
	var prev, next State
	transitioned := false
	if m.state == StateSpeaking {
		m.ttsSeen = false
		prev, next, transitioned = m.transitionLocked(StateListening)
	}
	m.mu.Unlock()

	if transitioned {
		m.notify(prev, next)
	}
}

// NoteInterrupt transitions speaking → listening immediately on barge-in,
// without waiting for a server acknowledgement
func (m *Machine) NoteInterrupt() {
	m.mu.Lock()
	var prev, next State
	transitioned := false
	if m.state == StateSpeaking || m.state == StateProcessing {
		m.ttsSeen = false
		prev, next, transitioned = m.transitionLocked(StateListening)
	}
	m.mu.Unlock()

	if transitioned {
		m.notify(prev, next)
	}
}

// NoteStop transitions any state to idle on local stop and clears the session
func (m *Machine) NoteStop() {
	m.mu.Lock()
	m.sessionID = ""
	m.ttsSeen = false
	prev, next, transitioned := m.transitionLocked(StateIdle)
	m.mu.Unlock()

	if transitioned {
		m.notify(prev, next)
	}
}

// NoteError forces the error state; used when transport retries are exhausted
func (m *Machine) NoteError() {
	m.mu.Lock()
	prev, next, transitioned := m.transitionLocked(StateError)
	m.mu.Unlock()

	if transitioned {
		m.notify(prev, next)
	}
}

// transitionLocked moves to next and reports the transition. Caller holds mu.
func (m *Machine) transitionLocked(next State) (State, State, bool) {
	if m.state == next {
		return m.state, next, false
	}
	prev := m.state
	m.state = next
	m.logger.Debug().
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("Session state transition")
	return prev, next, true
}

func (m *Machine) notify(prev, next State) {
	if m.onChange != nil {
		m.onChange(prev, next)
	}
}
