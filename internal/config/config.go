package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice client
type Config struct {
	// Voice gateway connection
	GatewayURL       string `envconfig:"GATEWAY_URL" required:"true"`    // ws:// or wss:// endpoint of the voice gateway
	HandshakeTimeout int    `envconfig:"HANDSHAKE_TIMEOUT" default:"10"` // WebSocket handshake timeout in seconds

	// Session audio format, negotiated once at session start
	AudioEncoding   string `envconfig:"AUDIO_ENCODING" default:"linear16"` // linear16 (16-bit PCM)
	SampleRateHertz int    `envconfig:"SAMPLE_RATE_HERTZ" default:"16000"` // 16kHz mono to match the remote recognizer
	LanguageCode    string `envconfig:"LANGUAGE_CODE" default:"en-US"`     // BCP-47 language code

	// Capture configuration
	FrameDurationMs int `envconfig:"FRAME_DURATION_MS" default:"100"` // Outbound frame duration
	LevelIntervalMs int `envconfig:"LEVEL_INTERVAL_MS" default:"50"`  // Audio level emission interval

	// Barge-in detection
	BargeInThreshold      float64 `envconfig:"BARGE_IN_THRESHOLD" default:"0.04"`      // Normalized RMS threshold for speech
	BargeInHoldFrames     int     `envconfig:"BARGE_IN_HOLD_FRAMES" default:"3"`       // Consecutive loud frames before interrupting
	BargeInPlaybackFactor float64 `envconfig:"BARGE_IN_PLAYBACK_FACTOR" default:"3.0"` // Threshold multiplier while assistant audio is audible

	// Timeouts
	EndOfSpeechTimeout  int `envconfig:"END_OF_SPEECH_TIMEOUT" default:"3"` // Seconds to wait for the gateway acknowledgement before force-stopping capture
	SessionStartTimeout int `envconfig:"SESSION_START_TIMEOUT" default:"5"` // Seconds to wait for session_started after sending start

	// Resilience configuration
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts before escalating to error
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Fixed reconnection backoff in milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Handshake failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Sidecar HTTP listener (health + metrics)
	Port           string `envconfig:"PORT" default:"9090"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics

	// Observability configuration
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`   // Log level: debug, info, warn, error
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"` // Pretty print logs (for development)
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Validate fields envconfig cannot express
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("GATEWAY_URL is required")
	}
	if cfg.SampleRateHertz <= 0 {
		return nil, fmt.Errorf("SAMPLE_RATE_HERTZ must be positive, got %d", cfg.SampleRateHertz)
	}
	if cfg.FrameDurationMs <= 0 {
		return nil, fmt.Errorf("FRAME_DURATION_MS must be positive, got %d", cfg.FrameDurationMs)
	}

	return &cfg, nil
}

// FrameDuration returns the outbound frame duration
func (c *Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMs) * time.Millisecond
}

// LevelInterval returns the audio level emission interval
func (c *Config) LevelInterval() time.Duration {
	return time.Duration(c.LevelIntervalMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
