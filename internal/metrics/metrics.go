// ABOUTME: Prometheus metrics for recording, conversion and playback sessions
// ABOUTME: Metrics register against a caller-supplied registerer
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for pcmdeck.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	StartFailures   *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	SessionDuration *prometheus.HistogramVec

	// Audio data metrics
	BytesCaptured prometheus.Counter
	BytesPlayed   *prometheus.CounterVec
	Skipped       *prometheus.CounterVec

	// Conversion metrics
	Conversions      prometheus.Counter
	ConversionErrors prometheus.Counter
	ConvertedBytes   prometheus.Counter
}

// New creates and registers all metrics with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pcmdeck_sessions_started_total",
			Help: "Total number of sessions started, including ones that failed to start",
		}, []string{"kind"}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pcmdeck_sessions_ended_total",
			Help: "Total number of sessions ended",
		}, []string{"kind", "reason"}),
		StartFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pcmdeck_session_start_failures_total",
			Help: "Total number of sessions that failed to start",
		}, []string{"kind"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "pcmdeck_active_sessions",
			Help: "Number of sessions currently holding a device",
		}),
		SessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pcmdeck_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}, []string{"kind"}),

		BytesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "pcmdeck_captured_bytes_total",
			Help: "Total bytes of PCM written by capture sessions",
		}),
		BytesPlayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pcmdeck_played_bytes_total",
			Help: "Total bytes of PCM handed to playback devices",
		}, []string{"kind"}),
		Skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pcmdeck_skipped_iterations_total",
			Help: "Total loop iterations skipped after a transient device or I/O error",
		}, []string{"kind"}),

		Conversions: f.NewCounter(prometheus.CounterOpts{
			Name: "pcmdeck_conversions_total",
			Help: "Total number of PCM to WAV conversions",
		}),
		ConversionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "pcmdeck_conversion_errors_total",
			Help: "Total number of failed PCM to WAV conversions",
		}),
		ConvertedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "pcmdeck_converted_bytes_total",
			Help: "Total bytes of WAV written by conversions",
		}),
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordSessionStarted counts a started session and raises the active gauge
func (m *Metrics) RecordSessionStarted(kind string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(kind).Inc()
	m.ActiveSessions.Inc()
}

// RecordStartFailure counts a started session that failed before it was up
func (m *Metrics) RecordStartFailure(kind string) {
	if m == nil {
		return
	}
	m.StartFailures.WithLabelValues(kind).Inc()
	m.ActiveSessions.Dec()
}

// RecordSessionEnded counts an ended session and records how long it ran
func (m *Metrics) RecordSessionEnded(kind, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(kind, reason).Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// AddCaptured adds bytes written to a recording
func (m *Metrics) AddCaptured(n int) {
	if m == nil {
		return
	}
	m.BytesCaptured.Add(float64(n))
}

// AddPlayed adds bytes handed to a playback device
func (m *Metrics) AddPlayed(kind string, n int) {
	if m == nil {
		return
	}
	m.BytesPlayed.WithLabelValues(kind).Add(float64(n))
}

// AddSkipped adds skipped loop iterations
func (m *Metrics) AddSkipped(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Skipped.WithLabelValues(kind).Add(float64(n))
}

// RecordConversion records a conversion result
func (m *Metrics) RecordConversion(written int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ConversionErrors.Inc()
		return
	}
	m.Conversions.Inc()
	m.ConvertedBytes.Add(float64(written))
}
