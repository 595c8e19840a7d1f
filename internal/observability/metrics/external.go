package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ExternalMetrics contains Prometheus metrics for the external recognition
// and HR backends: face search, plate OCR and shift policy fetches. It
// implements Recorder so the HTTP clients can record without depending on
// this package's concrete types.
type ExternalMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	errors     *prometheus.CounterVec
	retries    *prometheus.CounterVec
	registry   *prometheus.Registry
}

var _ Recorder = (*ExternalMetrics)(nil)

// NewExternalMetrics creates a new instance of ExternalMetrics and registers
// it with the provided registry.
func NewExternalMetrics(registry *prometheus.Registry) (*ExternalMetrics, error) {
	m := &ExternalMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize external service metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register external service metrics: %w", err)
	}
	return m, nil
}

func (m *ExternalMetrics) initMetrics() error {
	m.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "external_operations_total",
		Help: "External service operations by operation and status",
	}, []string{"operation", "status"})

	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "external_operation_duration_seconds",
		Help:    "Duration of external service operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"operation"})

	m.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "external_errors_total",
		Help: "External service errors by operation and error type",
	}, []string{"operation", "error_type"})

	m.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "external_retries_total",
		Help: "External service retry attempts by operation",
	}, []string{"operation"})

	return nil
}

// RecordOperation implements Recorder.
func (m *ExternalMetrics) RecordOperation(operation, status string) {
	m.operations.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *ExternalMetrics) RecordDuration(operation string, seconds float64) {
	m.duration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *ExternalMetrics) RecordError(operation, errorType string) {
	m.errors.WithLabelValues(operation, errorType).Inc()
}

// RecordRetry records one retry attempt for the operation.
func (m *ExternalMetrics) RecordRetry(operation string) {
	m.retries.WithLabelValues(operation).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ExternalMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operations.Describe(ch)
	m.duration.Describe(ch)
	m.errors.Describe(ch)
	m.retries.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ExternalMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operations.Collect(ch)
	m.duration.Collect(ch)
	m.errors.Collect(ch)
	m.retries.Collect(ch)
}
