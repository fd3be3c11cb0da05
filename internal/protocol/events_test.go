package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeEvent_SessionStarted(t *testing.T) {
	raw := `{"type":"session_started","sessionId":"sess-1","state":"listening",
		"config":{"audioEncoding":"linear16","sampleRateHertz":16000,"languageCode":"en-US"}}`

	ev, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	started, ok := ev.(*SessionStarted)
	if !ok {
		t.Fatalf("Expected *SessionStarted, got %T", ev)
	}
	if started.SessionID() != "sess-1" {
		t.Errorf("Expected session sess-1, got %q", started.SessionID())
	}
	if started.Config.SampleRateHertz != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", started.Config.SampleRateHertz)
	}
}

func TestDecodeEvent_SessionStartedMissingID(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"session_started"}`)); err == nil {
		t.Error("Expected error for session_started without sessionId")
	}
}

func TestDecodeEvent_Transcripts(t *testing.T) {
	interim := `{"type":"interim_transcript","sessionId":"sess-1","transcript":"hel","confidence":0.4,"isFinal":false,"alternatives":["hell"]}`
	ev, err := DecodeEvent([]byte(interim))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	it, ok := ev.(*InterimTranscript)
	if !ok {
		t.Fatalf("Expected *InterimTranscript, got %T", ev)
	}
	if it.Transcript != "hel" || len(it.Alternatives) != 1 {
		t.Errorf("Unexpected interim transcript: %+v", it)
	}

	final := `{"type":"final_transcript","sessionId":"sess-1","transcript":"hello","confidence":0.93,"isFinal":true}`
	ev, err = DecodeEvent([]byte(final))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	ft, ok := ev.(*FinalTranscript)
	if !ok {
		t.Fatalf("Expected *FinalTranscript, got %T", ev)
	}
	if ft.Transcript != "hello" || ft.Confidence != 0.93 {
		t.Errorf("Unexpected final transcript: %+v", ft)
	}
}

func TestDecodeEvent_TtsAudio(t *testing.T) {
	pcm := []byte{0x00, 0x01, 0x02, 0x03}
	raw := `{"type":"tts_audio","sessionId":"sess-1","audioData":"` +
		base64.StdEncoding.EncodeToString(pcm) +
		`","encoding":"linear16","sampleRateHertz":24000,"text":"hi","isComplete":true}`

	ev, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	chunk, ok := ev.(*TtsAudioChunk)
	if !ok {
		t.Fatalf("Expected *TtsAudioChunk, got %T", ev)
	}
	if string(chunk.AudioData) != string(pcm) {
		t.Errorf("Audio payload mismatch: %v", chunk.AudioData)
	}
	if !chunk.IsComplete {
		t.Error("Expected isComplete true")
	}
	if chunk.SampleRateHertz != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", chunk.SampleRateHertz)
	}
}

func TestDecodeEvent_TtsAudioBadBase64(t *testing.T) {
	raw := `{"type":"tts_audio","sessionId":"sess-1","audioData":"!!not-base64!!"}`
	if _, err := DecodeEvent([]byte(raw)); err == nil {
		t.Error("Expected error for invalid base64 payload")
	}
}

func TestDecodeEvent_ErrorEvent(t *testing.T) {
	raw := `{"type":"error","sessionId":"sess-1","code":"STT_FAILED","message":"recognizer unavailable","recoverable":true}`

	ev, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	errEv, ok := ev.(*ErrorEvent)
	if !ok {
		t.Fatalf("Expected *ErrorEvent, got %T", ev)
	}
	if !errEv.Recoverable || errEv.Code != "STT_FAILED" {
		t.Errorf("Unexpected error event: %+v", errEv)
	}
}

func TestDecodeEvent_UnknownType(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"mystery","sessionId":"sess-1"}`)); err == nil {
		t.Error("Expected error for unknown message type")
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{not json`)); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestEncodeAudioMessage_RoundTrip(t *testing.T) {
	frame := AudioFrame{
		Payload:        []byte{0xAA, 0xBB, 0xCC},
		SequenceNumber: 7,
		CapturedAt:     time.UnixMilli(1700000000000),
	}

	data, err := EncodeAudioMessage("sess-1", frame)
	if err != nil {
		t.Fatalf("EncodeAudioMessage failed: %v", err)
	}

	var msg AudioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal audio message: %v", err)
	}
	if msg.Type != TypeAudio {
		t.Errorf("Expected type audio, got %q", msg.Type)
	}
	if msg.SessionID != "sess-1" {
		t.Errorf("Expected sessionId sess-1, got %q", msg.SessionID)
	}
	if msg.SequenceNumber != 7 {
		t.Errorf("Expected sequence 7, got %d", msg.SequenceNumber)
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.AudioData)
	if err != nil || string(decoded) != string(frame.Payload) {
		t.Errorf("Payload round trip failed: %v %v", decoded, err)
	}
	if msg.Timestamp != 1700000000000 {
		t.Errorf("Expected timestamp 1700000000000, got %d", msg.Timestamp)
	}
}
