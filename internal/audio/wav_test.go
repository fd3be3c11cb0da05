package audio

import (
	"bytes"
	"testing"
)

func TestNewWavBuffer_RoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	wav := NewWavBuffer(pcm, 16000)

	if DetectFormat(wav) != FormatWav {
		t.Fatal("Expected generated buffer to be classified as WAV")
	}

	gotPCM, rate, err := ParseWav(wav)
	if err != nil {
		t.Fatalf("ParseWav failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Errorf("PCM round trip failed: %v", gotPCM)
	}
}

func TestNewWavBuffer_DeclaredSampleRate(t *testing.T) {
	wav := NewWavBuffer(make([]byte, 8), 24000)
	_, rate, err := ParseWav(wav)
	if err != nil {
		t.Fatalf("ParseWav failed: %v", err)
	}
	if rate != 24000 {
		t.Errorf("Expected declared rate 24000, got %d", rate)
	}
}

func TestParseWav_NotWav(t *testing.T) {
	if _, _, err := ParseWav([]byte("definitely not audio")); err == nil {
		t.Error("Expected error for non-WAV data")
	}
	if _, _, err := ParseWav(nil); err == nil {
		t.Error("Expected error for empty data")
	}
}

func TestParseWav_TruncatedData(t *testing.T) {
	wav := NewWavBuffer(make([]byte, 100), 16000)

	// Streamed writers may cut the data chunk short; the parser tolerates it
	pcm, _, err := ParseWav(wav[:len(wav)-40])
	if err != nil {
		t.Fatalf("Expected truncated data chunk to parse, got %v", err)
	}
	if len(pcm) != 60 {
		t.Errorf("Expected 60 bytes of PCM, got %d", len(pcm))
	}
}

func TestParseWav_UnsupportedEncoding(t *testing.T) {
	wav := NewWavBuffer(make([]byte, 4), 16000)
	// Corrupt the audio format field (byte 20) to IEEE float
	wav[20] = 3

	if _, _, err := ParseWav(wav); err == nil {
		t.Error("Expected error for non-PCM encoding")
	}
}
