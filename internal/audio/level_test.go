package audio

import (
	"math"
	"testing"
)

func TestBytesToSamples_RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1000}
	pcm := SamplesToBytes(samples)
	got := BytesToSamples(pcm)

	if len(got) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestBytesToSamples_OddByteIgnored(t *testing.T) {
	got := BytesToSamples([]byte{0x01, 0x00, 0xFF})
	if len(got) != 1 {
		t.Errorf("Expected 1 sample from 3 bytes, got %d", len(got))
	}
}

func TestCalculateRMS_Silence(t *testing.T) {
	samples := make([]int16, 160)
	if rms := CalculateRMS(samples); rms != 0.0 {
		t.Errorf("Expected RMS 0 for silence, got %f", rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("Expected RMS 0 for empty input, got %f", rms)
	}
}

func TestCalculateRMS_ConstantAmplitude(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = 1000
	}
	rms := CalculateRMS(samples)
	if math.Abs(rms-1000.0) > 0.01 {
		t.Errorf("Expected RMS 1000, got %f", rms)
	}
}

func TestNormalizedLevel_Range(t *testing.T) {
	// Full-scale signal normalizes to ~1.0
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = 32767
	}
	level := NormalizedLevel(SamplesToBytes(samples))
	if level < 0.99 || level > 1.0 {
		t.Errorf("Expected level near 1.0 for full-scale signal, got %f", level)
	}

	// Silence normalizes to 0
	if level := NormalizedLevel(make([]byte, 200)); level != 0.0 {
		t.Errorf("Expected level 0 for silence, got %f", level)
	}

	// Empty input yields 0, not NaN
	if level := NormalizedLevel(nil); level != 0.0 {
		t.Errorf("Expected level 0 for empty input, got %f", level)
	}
}

func TestDetectSilence(t *testing.T) {
	silence := make([]int16, 160)
	if !DetectSilence(silence, 100.0) {
		t.Error("Expected silence to be detected")
	}

	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 10000
	}
	if DetectSilence(loud, 100.0) {
		t.Error("Expected loud signal to not be silence")
	}
}
