package audio

// VADConfig holds configuration for barge-in voice activity detection
type VADConfig struct {
	LevelThreshold float64 // Normalized level threshold for speech detection
	HoldFrames     int     // Consecutive loud frames required before reporting speech
	SilenceFrames  int     // Consecutive silent frames to mark the end of speech
	PlaybackFactor float64 // Threshold multiplier while assistant audio is audible
}

// DefaultVADConfig returns a default barge-in detection configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		LevelThreshold: 0.04,
		HoldFrames:     3,
		SilenceFrames:  10,
		PlaybackFactor: 3.0,
	}
}

// VADDetector detects the user talking over the assistant. The capture path
// feeds it one normalized level per frame; while the assistant is audible the
// detection threshold is raised so the speaker output does not interrupt
// itself through the microphone.
type VADDetector struct {
	config         *VADConfig
	loudCounter    int
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new barge-in detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessLevel processes one normalized level sample.
// assistantAudible raises the threshold to compensate for speaker bleed.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessLevel(level float64, assistantAudible bool) (bool, bool, bool) {
	threshold := v.config.LevelThreshold
	if assistantAudible {
		threshold *= v.config.PlaybackFactor
	}

	frameHasSpeech := level > threshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		v.loudCounter++

		if !v.isSpeaking && v.loudCounter >= v.config.HoldFrames {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.loudCounter = 0
		v.silenceCounter++

		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset resets the detector state
func (v *VADDetector) Reset() {
	v.loudCounter = 0
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
