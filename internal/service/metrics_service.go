package service

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/academix/school-attendance-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API
// and the attendance domain.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	sessionsStarted       *prometheus.CounterVec
	sessionsFinalized     prometheus.Counter
	recordsRegistered     *prometheus.CounterVec
	verificationsRejected *prometheus.CounterVec
}

// NewMetricsService registers the Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	sessionsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_sessions_started_total",
		Help: "Total attendance sessions started, by method",
	}, []string{"method"})

	sessionsFinalized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_sessions_finalized_total",
		Help: "Total attendance sessions finalized",
	})

	recordsRegistered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_records_total",
		Help: "Total attendance records registered, by status",
	}, []string{"status"})

	verificationsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_verifications_rejected_total",
		Help: "Total rejected verification attempts, by method",
	}, []string{"method"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration,
		requestTotal,
		sessionsStarted,
		sessionsFinalized,
		recordsRegistered,
		verificationsRejected,
		goroutines,
	)

	return &MetricsService{
		registry:              registry,
		handler:               promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:       requestDuration,
		requestTotal:          requestTotal,
		sessionsStarted:       sessionsStarted,
		sessionsFinalized:     sessionsFinalized,
		recordsRegistered:     recordsRegistered,
		verificationsRejected: verificationsRejected,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveRequest records one HTTP request.
func (s *MetricsService) ObserveRequest(method, path, status string, duration time.Duration) {
	s.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(method, path, status).Inc()
}

// SessionStarted counts a started session.
func (s *MetricsService) SessionStarted(method models.AttendanceMethod) {
	s.sessionsStarted.WithLabelValues(string(method)).Inc()
}

// SessionFinalized counts a finalized session.
func (s *MetricsService) SessionFinalized() {
	s.sessionsFinalized.Inc()
}

// RecordRegistered counts a stored attendance record.
func (s *MetricsService) RecordRegistered(status models.AttendanceStatus) {
	s.recordsRegistered.WithLabelValues(string(status)).Inc()
}

// VerificationRejected counts a failed verification attempt.
func (s *MetricsService) VerificationRejected(method string) {
	s.verificationsRejected.WithLabelValues(method).Inc()
}
