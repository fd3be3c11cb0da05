package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_active_sessions",
		Help: "Number of active voice sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_sessions_total",
		Help: "Total number of voice sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	// Outbound audio metrics
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_frames_sent_total",
		Help: "Total number of audio frames sent to the gateway",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_frames_dropped_total",
		Help: "Total number of audio frames dropped before transmission",
	}, []string{"reason"}) // reason: "no_session", "stopped"

	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" (TTS) or "out" (capture)

	// Inbound event metrics
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_events_received_total",
		Help: "Total number of gateway events received",
	}, []string{"type"})

	staleEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_stale_events_dropped_total",
		Help: "Total number of events dropped for carrying a stale session ID",
	})

	// Playback metrics
	playbackRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_playback_runs_total",
		Help: "Total number of playback runs (one per assistant utterance)",
	})

	playbackInterrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_playback_interrupts_total",
		Help: "Total number of barge-in interrupts",
	})

	playbackChunksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_playback_chunks_skipped_total",
		Help: "Total number of TTS chunks skipped due to decode failures",
	})

	// Transport metrics
	reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_reconnects_total",
		Help: "Total number of gateway reconnection attempts",
	}, []string{"status"}) // status: "success" or "exhausted"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_client_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single voice session
type Metrics struct {
	correlationID string
	startTime     time.Time
	mu            sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(correlationID string) *Metrics {
	return &Metrics{
		correlationID: correlationID,
		startTime:     time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFrameSent records one transmitted audio frame
func (m *Metrics) RecordFrameSent(bytes int) {
	framesSent.Inc()
	audioBytes.WithLabelValues("out").Add(float64(bytes))
}

// RecordFrameDropped records an audio frame dropped before transmission
func (m *Metrics) RecordFrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordEvent records one received gateway event
func (m *Metrics) RecordEvent(eventType string) {
	eventsReceived.WithLabelValues(eventType).Inc()
}

// RecordStaleEvent records an event dropped for a stale session ID
func (m *Metrics) RecordStaleEvent() {
	staleEventsDropped.Inc()
}

// RecordTTSBytes records inbound synthesized audio bytes
func (m *Metrics) RecordTTSBytes(bytes int) {
	audioBytes.WithLabelValues("in").Add(float64(bytes))
}

// RecordPlaybackRun records one playback run
func (m *Metrics) RecordPlaybackRun() {
	playbackRuns.Inc()
}

// RecordInterrupt records a barge-in interrupt
func (m *Metrics) RecordInterrupt() {
	playbackInterrupts.Inc()
}

// RecordChunkSkipped records a TTS chunk skipped due to a decode failure
func (m *Metrics) RecordChunkSkipped() {
	playbackChunksSkipped.Inc()
}

// RecordReconnect records a reconnection outcome
func (m *Metrics) RecordReconnect(success bool) {
	status := "success"
	if !success {
		status = "exhausted"
	}
	reconnects.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
