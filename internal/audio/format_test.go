package audio

import (
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"wav", NewWavBuffer([]byte{0, 0, 0, 0}, 16000), FormatWav},
		{"ogg", []byte("OggS\x00\x02rest-of-page"), FormatOgg},
		{"mp3 id3", []byte("ID3\x04\x00\x00\x00\x00\x00\x00"), FormatMp3},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, FormatMp3},
		{"raw pcm", []byte{0x10, 0x20, 0x30, 0x40, 0x50}, FormatRawPCM},
		{"riff but not wave", []byte("RIFF\x00\x00\x00\x00AVI LIST"), FormatRawPCM},
		{"too short", []byte{0x01}, FormatRawPCM},
		{"empty", nil, FormatRawPCM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.data); got != tt.want {
				t.Errorf("DetectFormat(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestFormatString(t *testing.T) {
	if FormatWav.String() != "wav" || FormatRawPCM.String() != "raw_pcm" {
		t.Error("Unexpected format names")
	}
}
