package config

import (
	"os"
	"testing"
	"time"
)

// setRequiredEnv sets the minimum environment for a successful load
func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("GATEWAY_URL", "ws://localhost:8080/voice")
	t.Cleanup(func() {
		os.Unsetenv("GATEWAY_URL")
	})
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.GatewayURL != "ws://localhost:8080/voice" {
		t.Errorf("Expected gateway URL to be set, got %q", cfg.GatewayURL)
	}
	if cfg.AudioEncoding != "linear16" {
		t.Errorf("Expected default encoding linear16, got %q", cfg.AudioEncoding)
	}
	if cfg.SampleRateHertz != 16000 {
		t.Errorf("Expected default sample rate 16000, got %d", cfg.SampleRateHertz)
	}
	if cfg.LanguageCode != "en-US" {
		t.Errorf("Expected default language en-US, got %q", cfg.LanguageCode)
	}
	if cfg.FrameDurationMs != 100 {
		t.Errorf("Expected default frame duration 100ms, got %d", cfg.FrameDurationMs)
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default reconnect attempts 5, got %d", cfg.ReconnectMaxAttempts)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level info, got %q", cfg.LogLevel)
	}
}

func TestLoadFromEnv_MissingGatewayURL(t *testing.T) {
	os.Unsetenv("GATEWAY_URL")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error when GATEWAY_URL is missing")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("SAMPLE_RATE_HERTZ", "8000")
	os.Setenv("FRAME_DURATION_MS", "20")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("RECONNECT_BACKOFF", "250")
	t.Cleanup(func() {
		os.Unsetenv("SAMPLE_RATE_HERTZ")
		os.Unsetenv("FRAME_DURATION_MS")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("RECONNECT_BACKOFF")
	})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.SampleRateHertz != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", cfg.SampleRateHertz)
	}
	if cfg.FrameDuration() != 20*time.Millisecond {
		t.Errorf("Expected frame duration 20ms, got %v", cfg.FrameDuration())
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got %q", cfg.LogLevel)
	}
	if cfg.ReconnectBackoff != 250 {
		t.Errorf("Expected reconnect backoff 250, got %d", cfg.ReconnectBackoff)
	}
}

func TestLoadFromEnv_InvalidSampleRate(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("SAMPLE_RATE_HERTZ", "0")
	t.Cleanup(func() { os.Unsetenv("SAMPLE_RATE_HERTZ") })

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("VOICE_TEST_KEY", "value")
	t.Cleanup(func() { os.Unsetenv("VOICE_TEST_KEY") })

	if got := GetEnv("VOICE_TEST_KEY", "fallback"); got != "value" {
		t.Errorf("Expected value, got %q", got)
	}
	if got := GetEnv("VOICE_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got %q", got)
	}
}
