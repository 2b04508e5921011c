package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the distribution engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	dispatchedTotal  prometheus.Counter
	softFailureTotal prometheus.Counter
	batchesTotal     prometheus.Counter
	movementsTotal   *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
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

	dispatchedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distribution_notifications_total",
		Help: "Notifications dispatched by the distribution engine",
	})

	softFailureTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distribution_soft_failures_total",
		Help: "Per-recipient delivery failures swallowed by the dispatcher",
	})

	batchesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distribution_batches_total",
		Help: "Batches processed by the distribution engine",
	})

	movementsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "movement_events_total",
		Help: "Movement ledger events appended, by type",
	}, []string{"type"})

	registry.MustRegister(requestDuration, requestTotal, dispatchedTotal, softFailureTotal, batchesTotal, movementsTotal)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		dispatchedTotal:  dispatchedTotal,
		softFailureTotal: softFailureTotal,
		batchesTotal:     batchesTotal,
		movementsTotal:   movementsTotal,
	}
}

// Handler exposes the /metrics scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one served request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// CountDispatched increments the dispatched-notification counter.
func (s *MetricsService) CountDispatched() {
	s.dispatchedTotal.Inc()
}

// CountSoftFailure increments the soft-failure counter.
func (s *MetricsService) CountSoftFailure() {
	s.softFailureTotal.Inc()
}

// CountBatch increments the processed-batch counter.
func (s *MetricsService) CountBatch() {
	s.batchesTotal.Inc()
}

// CountMovement increments the ledger event counter for a movement type.
func (s *MetricsService) CountMovement(movementType string) {
	s.movementsTotal.WithLabelValues(movementType).Inc()
}
