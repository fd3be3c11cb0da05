package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Client → server message types
const (
	TypeStart     = "start"
	TypeAudio     = "audio"
	TypeEndSpeech = "end_speech"
	TypeStop      = "stop"
	TypeCancelTTS = "cancel_tts"
)

// Server → client message types
const (
	TypeSessionStarted    = "session_started"
	TypeSpeechStart       = "speech_start"
	TypeInterimTranscript = "interim_transcript"
	TypeFinalTranscript   = "final_transcript"
	TypeNluResult         = "nlu_result"
	TypeTtsAudio          = "tts_audio"
	TypeStateChange       = "state_change"
	TypeError             = "error"
)

// SessionConfig is the audio format negotiated once at session start.
// It is immutable for the session's lifetime.
type SessionConfig struct {
	AudioEncoding   string `json:"audioEncoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	LanguageCode    string `json:"languageCode"`
}

// StartMessage opens a new session on the gateway
type StartMessage struct {
	Type            string `json:"type"`
	AudioEncoding   string `json:"audioEncoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	LanguageCode    string `json:"languageCode"`
}

// NewStartMessage builds a start message from a session config
func NewStartMessage(cfg SessionConfig) *StartMessage {
	return &StartMessage{
		Type:            TypeStart,
		AudioEncoding:   cfg.AudioEncoding,
		SampleRateHertz: cfg.SampleRateHertz,
		LanguageCode:    cfg.LanguageCode,
	}
}

// AudioMessage carries one captured audio frame
type AudioMessage struct {
	Type           string `json:"type"`
	SessionID      string `json:"sessionId"`
	AudioData      string `json:"audioData"` // Base64 encoded payload
	SequenceNumber uint64 `json:"sequenceNumber"`
	Timestamp      int64  `json:"timestamp"` // Capture timestamp, Unix milliseconds
}

// EndSpeechMessage signals the end of the user's utterance
type EndSpeechMessage struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	ForceProcess bool   `json:"forceProcess"`
}

// StopMessage ends the session
type StopMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// CancelTTSMessage cancels in-flight synthesis after a barge-in
type CancelTTSMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// EncodeAudioMessage serializes an audio frame into the wire envelope
func EncodeAudioMessage(sessionID string, frame AudioFrame) ([]byte, error) {
	msg := AudioMessage{
		Type:           TypeAudio,
		SessionID:      sessionID,
		AudioData:      base64.StdEncoding.EncodeToString(frame.Payload),
		SequenceNumber: frame.SequenceNumber,
		Timestamp:      frame.CapturedAt.UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio frame %d: %w", frame.SequenceNumber, err)
	}
	return data, nil
}
