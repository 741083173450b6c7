// Package metrics exposes Prometheus counters for session lifecycle, live
// channel traffic, and recognizer health.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   *prometheus.CounterVec
	SessionErrors     *prometheus.CounterVec
	StreamEvents      *prometheus.CounterVec
	EngineRestarts    prometheus.Counter
	UploadFailures    prometheus.Counter
	RecordingDuration prometheus.Histogram
	ActiveSessions    prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyronotes_sessions_started_total",
			Help: "Sessions started, by source",
		}, []string{"source"}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyronotes_session_errors_total",
			Help: "Session errors, by kind",
		}, []string{"kind"}),
		StreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pyronotes_stream_events_total",
			Help: "Inbound live channel events, by type",
		}, []string{"type"}),
		EngineRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "pyronotes_engine_restarts_total",
			Help: "Recognizer stream restarts after spontaneous end",
		}),
		UploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pyronotes_audio_upload_failures_total",
			Help: "Recording uploads that failed during stop",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pyronotes_recording_duration_seconds",
			Help:    "Duration of completed live recordings",
			Buckets: []float64{30, 60, 300, 900, 1800, 3600, 5400, 7200},
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pyronotes_active_sessions",
			Help: "Sessions currently recording, uploading, or saving",
		}),
	}
}

func (m *Metrics) SessionStarted(source string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(source).Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.StreamEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EngineRestarted() {
	if m == nil {
		return
	}
	m.EngineRestarts.Inc()
}

func (m *Metrics) UploadFailed() {
	if m == nil {
		return
	}
	m.UploadFailures.Inc()
}

func (m *Metrics) RecordingFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.RecordingDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, lis)
}

func (m *Metrics) serve(ctx context.Context, lis net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
