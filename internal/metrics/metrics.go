// Package metrics exposes Prometheus instrumentation for the voice session.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the voice client.
// Each instance has its own registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Capture metrics
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter
	AudioBytesOut prometheus.Counter

	// Playback metrics
	BuffersScheduled prometheus.Counter
	BuffersFailed    prometheus.Counter
	Interruptions    *prometheus.CounterVec
	AudioBytesIn     prometheus.Counter

	// Conversation metrics
	TurnsCompleted    prometheus.Counter
	MessagesAppended  *prometheus.CounterVec
	EmotionChanges    *prometheus.CounterVec
	MalformedMessages prometheus.Counter

	// Session metrics
	SessionsActive   prometheus.Gauge
	StateTransitions *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	StartDuration    prometheus.Histogram
}

// New creates a new Metrics instance with all metrics registered
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voice"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_sent_total",
			Help:      "Capture frames handed to the agent channel",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_dropped_total",
			Help:      "Capture frames dropped because the send failed or the queue was full",
		}),
		AudioBytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "PCM bytes sent to the agent",
		}),
		BuffersScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_buffers_scheduled_total",
			Help:      "Agent audio buffers scheduled for playback",
		}),
		BuffersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_buffers_failed_total",
			Help:      "Agent audio buffers dropped by decode or playback failure",
		}),
		Interruptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interruptions_total",
			Help:      "Playback interruptions by cause",
		}, []string{"cause"}),
		AudioBytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "PCM bytes received from the agent",
		}),
		TurnsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_completed_total",
			Help:      "Conversation turns flushed into the message log",
		}),
		MessagesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to the log",
		}, []string{"role", "source"}),
		EmotionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emotion_changes_total",
			Help:      "Emotion state changes by new emotion",
		}, []string{"emotion"}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Inbound agent messages that could not be handled",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Connected sessions",
		}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions",
		}, []string{"from", "to"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "How long sessions stayed connected",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
		StartDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_start_seconds",
			Help:      "Time from start request to connected or error",
			Buckets:   prometheus.ExponentialBuckets(0.05, 1.6, 10),
		}),
	}

	registry.MustRegister(
		m.FramesSent,
		m.FramesDropped,
		m.AudioBytesOut,
		m.BuffersScheduled,
		m.BuffersFailed,
		m.Interruptions,
		m.AudioBytesIn,
		m.TurnsCompleted,
		m.MessagesAppended,
		m.EmotionChanges,
		m.MalformedMessages,
		m.SessionsActive,
		m.StateTransitions,
		m.SessionDuration,
		m.StartDuration,
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTransition records a connection state change
func (m *Metrics) RecordTransition(from, to string) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordSessionStart records a session reaching connected
func (m *Metrics) RecordSessionStart(took time.Duration) {
	m.SessionsActive.Inc()
	m.StartDuration.Observe(took.Seconds())
}

// RecordSessionEnd records a connected session ending
func (m *Metrics) RecordSessionEnd(duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordFrameSent records one outbound audio frame
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FramesSent.Inc()
	m.AudioBytesOut.Add(float64(bytes))
}

// RecordMessage records one log append
func (m *Metrics) RecordMessage(role, source string) {
	m.MessagesAppended.WithLabelValues(role, source).Inc()
}
