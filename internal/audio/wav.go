package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NewWavBuffer wraps raw 16-bit mono PCM in a minimal WAV container using
// the declared sample rate. This is the deterministic fallback for TTS
// chunks that arrive without a recognized container.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))            // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1))            // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// ParseWav extracts the PCM data and sample rate from a WAV container.
// Only 16-bit PCM is supported; anything else is a decode error the playback
// queue skips.
func ParseWav(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < 12 || !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, 0, fmt.Errorf("not a WAV container")
	}

	pos := 12
	var rate int
	var bitsPerSample uint16
	var audioFormat uint16

	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		if body+chunkSize > len(data) {
			// Tolerate truncated data chunks from streamed writers
			if chunkID == "data" {
				chunkSize = len(data) - body
			} else {
				return nil, 0, fmt.Errorf("truncated %q chunk", chunkID)
			}
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			audioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			rate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])

		case "data":
			if rate == 0 {
				return nil, 0, fmt.Errorf("data chunk before fmt chunk")
			}
			if audioFormat != 1 || bitsPerSample != 16 {
				return nil, 0, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", audioFormat, bitsPerSample)
			}
			return data[body : body+chunkSize], rate, nil
		}

		// Chunks are word-aligned
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
	}

	return nil, 0, fmt.Errorf("no data chunk found")
}
