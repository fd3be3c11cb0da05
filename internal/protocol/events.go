package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event is one inbound gateway event. Every event carries the session ID it
// belongs to; consumers must drop events for a stale session rather than
// applying them to the current one.
type Event interface {
	// SessionID returns the session the event belongs to
	SessionID() string
	// EventType returns the wire message type
	EventType() string
}

// SessionStarted confirms a new session and carries the negotiated config
type SessionStarted struct {
	Session string
	State   string
	Config  SessionConfig
}

func (e *SessionStarted) SessionID() string { return e.Session }
func (e *SessionStarted) EventType() string { return TypeSessionStarted }

// SpeechStart signals the recognizer detected the user speaking
type SpeechStart struct {
	Session   string
	Timestamp int64
}

func (e *SpeechStart) SessionID() string { return e.Session }
func (e *SpeechStart) EventType() string { return TypeSpeechStart }

// InterimTranscript is a partial, non-final recognition result
type InterimTranscript struct {
	Session      string
	Transcript   string
	Confidence   float64
	Alternatives []string
}

func (e *InterimTranscript) SessionID() string { return e.Session }
func (e *InterimTranscript) EventType() string { return TypeInterimTranscript }

// FinalTranscript is the final recognition result for the utterance
type FinalTranscript struct {
	Session    string
	Transcript string
	Confidence float64
}

func (e *FinalTranscript) SessionID() string { return e.Session }
func (e *FinalTranscript) EventType() string { return TypeFinalTranscript }

// NluResult carries the understanding result for a final transcript
type NluResult struct {
	Session              string
	Intent               string
	Confidence           float64
	Entities             map[string]string
	RequiresConfirmation bool
	SuggestedResponse    string
}

func (e *NluResult) SessionID() string { return e.Session }
func (e *NluResult) EventType() string { return TypeNluResult }

// TtsAudioChunk is one unit of synthesized speech. IsComplete is true on the
// final chunk of an utterance.
type TtsAudioChunk struct {
	Session         string
	AudioData       []byte
	Encoding        string
	SampleRateHertz int
	Text            string
	IsComplete      bool
}

func (e *TtsAudioChunk) SessionID() string { return e.Session }
func (e *TtsAudioChunk) EventType() string { return TypeTtsAudio }

// StateChange reports a server-side session state transition
type StateChange struct {
	Session       string
	PreviousState string
	NewState      string
	Timestamp     int64
}

func (e *StateChange) SessionID() string { return e.Session }
func (e *StateChange) EventType() string { return TypeStateChange }

// ErrorEvent reports a gateway error. Recoverable errors are surfaced to the
// caller without a state transition; unrecoverable ones force the session
// into the error state.
type ErrorEvent struct {
	Session     string
	Code        string
	Message     string
	Recoverable bool
}

func (e *ErrorEvent) SessionID() string { return e.Session }
func (e *ErrorEvent) EventType() string { return TypeError }

// serverEnvelope is the superset of all server → client message fields
type serverEnvelope struct {
	Type            string            `json:"type"`
	SessionID       string            `json:"sessionId"`
	State           string            `json:"state,omitempty"`
	Config          *SessionConfig    `json:"config,omitempty"`
	Timestamp       int64             `json:"timestamp,omitempty"`
	Transcript      string            `json:"transcript,omitempty"`
	Confidence      float64           `json:"confidence,omitempty"`
	IsFinal         bool              `json:"isFinal,omitempty"`
	Alternatives    []string          `json:"alternatives,omitempty"`
	Intent          string            `json:"intent,omitempty"`
	Entities        map[string]string `json:"entities,omitempty"`
	RequiresConfirm bool              `json:"requiresConfirmation,omitempty"`
	Suggested       string            `json:"suggestedResponse,omitempty"`
	AudioData       string            `json:"audioData,omitempty"`
	Encoding        string            `json:"encoding,omitempty"`
	SampleRateHertz int               `json:"sampleRateHertz,omitempty"`
	Text            string            `json:"text,omitempty"`
	IsComplete      bool              `json:"isComplete,omitempty"`
	PreviousState   string            `json:"previousState,omitempty"`
	NewState        string            `json:"newState,omitempty"`
	Code            string            `json:"code,omitempty"`
	Message         string            `json:"message,omitempty"`
	Recoverable     bool              `json:"recoverable,omitempty"`
}

// DecodeEvent parses a raw gateway message into a typed event.
// A malformed or unknown message yields an error; the caller treats it as a
// protocol error rather than silently discarding it.
func DecodeEvent(data []byte) (Event, error) {
	var env serverEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed gateway message: %w", err)
	}

	switch env.Type {
	case TypeSessionStarted:
		if env.SessionID == "" {
			return nil, fmt.Errorf("session_started without sessionId")
		}
		ev := &SessionStarted{Session: env.SessionID, State: env.State}
		if env.Config != nil {
			ev.Config = *env.Config
		}
		return ev, nil

	case TypeSpeechStart:
		return &SpeechStart{Session: env.SessionID, Timestamp: env.Timestamp}, nil

	case TypeInterimTranscript:
		return &InterimTranscript{
			Session:      env.SessionID,
			Transcript:   env.Transcript,
			Confidence:   env.Confidence,
			Alternatives: env.Alternatives,
		}, nil

	case TypeFinalTranscript:
		return &FinalTranscript{
			Session:    env.SessionID,
			Transcript: env.Transcript,
			Confidence: env.Confidence,
		}, nil

	case TypeNluResult:
		return &NluResult{
			Session:              env.SessionID,
			Intent:               env.Intent,
			Confidence:           env.Confidence,
			Entities:             env.Entities,
			RequiresConfirmation: env.RequiresConfirm,
			SuggestedResponse:    env.Suggested,
		}, nil

	case TypeTtsAudio:
		audio, err := base64.StdEncoding.DecodeString(env.AudioData)
		if err != nil {
			return nil, fmt.Errorf("tts_audio with invalid base64 payload: %w", err)
		}
		return &TtsAudioChunk{
			Session:         env.SessionID,
			AudioData:       audio,
			Encoding:        env.Encoding,
			SampleRateHertz: env.SampleRateHertz,
			Text:            env.Text,
			IsComplete:      env.IsComplete,
		}, nil

	case TypeStateChange:
		return &StateChange{
			Session:       env.SessionID,
			PreviousState: env.PreviousState,
			NewState:      env.NewState,
			Timestamp:     env.Timestamp,
		}, nil

	case TypeError:
		return &ErrorEvent{
			Session:     env.SessionID,
			Code:        env.Code,
			Message:     env.Message,
			Recoverable: env.Recoverable,
		}, nil

	default:
		return nil, fmt.Errorf("unknown gateway message type %q", env.Type)
	}
}
