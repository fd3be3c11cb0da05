package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelvoice/voice-client/internal/audio"
	"github.com/kestrelvoice/voice-client/internal/config"
	"github.com/kestrelvoice/voice-client/internal/controller"
	"github.com/kestrelvoice/voice-client/internal/observability"
	"github.com/kestrelvoice/voice-client/internal/playback"
	"github.com/kestrelvoice/voice-client/internal/protocol"
	"github.com/kestrelvoice/voice-client/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("gateway_url", cfg.GatewayURL).
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice client agent starting")

	// Device backends
	backend := audio.NewMalgoBackend()
	defer backend.Close()
	player := playback.NewMalgoPlayer()

	voice := controller.New(cfg, backend, player, controller.Observers{
		OnStateChange: func(previous, next session.State) {
			logger.Info().
				Str("from", previous.String()).
				Str("to", next.String()).
				Msg("Session state")
		},
		OnInterimTranscript: func(transcript string) {
			logger.Debug().Str("transcript", transcript).Msg("Interim transcript")
		},
		OnFinalTranscript: func(transcript string, confidence float64) {
			logger.Info().
				Str("transcript", transcript).
				Float64("confidence", confidence).
				Msg("Final transcript")
		},
		OnNluResult: func(result *protocol.NluResult) {
			logger.Info().
				Str("intent", result.Intent).
				Float64("confidence", result.Confidence).
				Msg("Understanding result")
		},
		OnPermissionDenied: func(err error) {
			logger.Error().Err(err).Msg("Microphone permission denied; enable microphone access in system settings")
		},
		OnSessionError: func(err error) {
			logger.Error().Err(err).Msg("Session error")
		},
	}, logger)

	// Sidecar HTTP server for health and metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	gatewayCheck := func(ctx context.Context) (bool, error) {
		if voice.State() == session.StateError {
			return false, fmt.Errorf("session in error state")
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"gateway_session": gatewayCheck,
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Sidecar server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Sidecar server failed to start")
		}
	}()

	// Bring the voice loop up
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if _, err := voice.ToggleVoiceMode(rootCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to start voice mode")
		voice.Teardown()
		os.Exit(1)
	}

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down voice client...")

	rootCancel()
	voice.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Sidecar server forced to shutdown")
	}

	logger.Info().Msg("Voice client stopped")
}
