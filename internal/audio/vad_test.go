package audio

import (
	"testing"
)

func testVADConfig() *VADConfig {
	return &VADConfig{
		LevelThreshold: 0.05,
		HoldFrames:     2,
		SilenceFrames:  3,
		PlaybackFactor: 3.0,
	}
}

func TestVAD_SpeechStartAfterHoldFrames(t *testing.T) {
	vad := NewVADDetector(testVADConfig())

	// First loud frame does not yet report speech
	speaking, started, _ := vad.ProcessLevel(0.2, false)
	if speaking || started {
		t.Error("Expected no speech after a single loud frame")
	}

	// Second consecutive loud frame crosses the hold threshold
	speaking, started, _ = vad.ProcessLevel(0.2, false)
	if !speaking || !started {
		t.Errorf("Expected speech start after hold frames, got speaking=%v started=%v", speaking, started)
	}

	// Started fires exactly once
	_, started, _ = vad.ProcessLevel(0.2, false)
	if started {
		t.Error("Expected started to fire only once per utterance")
	}
}

func TestVAD_SilenceEndsSpeech(t *testing.T) {
	vad := NewVADDetector(testVADConfig())
	vad.ProcessLevel(0.2, false)
	vad.ProcessLevel(0.2, false)
	if !vad.IsSpeaking() {
		t.Fatal("Expected speaking")
	}

	var ended bool
	for i := 0; i < 3; i++ {
		_, _, ended = vad.ProcessLevel(0.0, false)
	}
	if !ended {
		t.Error("Expected speech end after silence frames")
	}
	if vad.IsSpeaking() {
		t.Error("Expected not speaking after silence")
	}
}

func TestVAD_QuietBlipResetsHold(t *testing.T) {
	vad := NewVADDetector(testVADConfig())

	vad.ProcessLevel(0.2, false)
	vad.ProcessLevel(0.0, false) // blip resets the hold counter
	_, started, _ := vad.ProcessLevel(0.2, false)
	if started {
		t.Error("Expected hold counter to reset after a quiet frame")
	}
}

func TestVAD_PlaybackRaisesThreshold(t *testing.T) {
	vad := NewVADDetector(testVADConfig())

	// 0.1 exceeds the base threshold but not 0.05*3.0 while the
	// assistant is audible
	for i := 0; i < 5; i++ {
		_, started, _ := vad.ProcessLevel(0.1, true)
		if started {
			t.Fatal("Expected speaker bleed to not trigger barge-in")
		}
	}

	// A genuinely loud user still gets through
	vad.ProcessLevel(0.3, true)
	_, started, _ := vad.ProcessLevel(0.3, true)
	if !started {
		t.Error("Expected loud speech to trigger barge-in during playback")
	}
}

func TestVAD_Reset(t *testing.T) {
	vad := NewVADDetector(testVADConfig())
	vad.ProcessLevel(0.2, false)
	vad.ProcessLevel(0.2, false)

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected not speaking after reset")
	}
}

func TestVAD_NilConfigUsesDefaults(t *testing.T) {
	vad := NewVADDetector(nil)
	if vad.config.LevelThreshold != DefaultVADConfig().LevelThreshold {
		t.Error("Expected default config for nil")
	}
}
