package audio

import (
	"bytes"
)

// Format is the recognized container format of an audio payload
type Format int

const (
	FormatRawPCM Format = iota // No recognized container; treated as raw samples
	FormatWav
	FormatMp3
	FormatOgg
)

// String returns the format name
func (f Format) String() string {
	switch f {
	case FormatWav:
		return "wav"
	case FormatMp3:
		return "mp3"
	case FormatOgg:
		return "ogg"
	}
	return "raw_pcm"
}

// DetectFormat classifies an audio payload by its magic bytes.
// Payloads matching no known container are classified as raw PCM; the
// playback path wraps those in a minimal WAV header before rendering.
func DetectFormat(data []byte) Format {
	if len(data) < 4 {
		return FormatRawPCM
	}

	// RIFF....WAVE
	if bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && bytes.Equal(data[8:12], []byte("WAVE")) {
		return FormatWav
	}

	// OggS
	if bytes.HasPrefix(data, []byte("OggS")) {
		return FormatOgg
	}

	// ID3 tag or MPEG frame sync (0xFF 0xEx / 0xFF 0xFx)
	if bytes.HasPrefix(data, []byte("ID3")) {
		return FormatMp3
	}
	if data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return FormatMp3
	}

	return FormatRawPCM
}
