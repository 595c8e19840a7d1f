package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AttendanceMetrics contains Prometheus metrics for the attendance state
// machine.
type AttendanceMetrics struct {
	transitions  *prometheus.CounterVec
	suppressed   prometheus.Counter
	openSessions prometheus.Gauge
	registry     *prometheus.Registry
}

// NewAttendanceMetrics creates a new instance of AttendanceMetrics and
// registers it with the provided registry.
func NewAttendanceMetrics(registry *prometheus.Registry) (*AttendanceMetrics, error) {
	m := &AttendanceMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize attendance metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register attendance metrics: %w", err)
	}
	return m, nil
}

func (m *AttendanceMetrics) initMetrics() error {
	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_transitions_total",
		Help: "Attendance transitions by event type",
	}, []string{"type"})

	m.suppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_suppressed_total",
		Help: "Transitions suppressed by the duplicate window or a manual override",
	})

	m.openSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "attendance_open_sessions",
		Help: "Attendance sessions currently held for the day",
	})

	return nil
}

// RecordTransition records one attendance transition. Suppressed duplicates
// count separately so a noisy doorway is visible.
func (m *AttendanceMetrics) RecordTransition(eventType string, suppressed bool) {
	m.transitions.WithLabelValues(eventType).Inc()
	if suppressed {
		m.suppressed.Inc()
	}
}

// UpdateOpenSessions sets the current open session count.
func (m *AttendanceMetrics) UpdateOpenSessions(n int) {
	m.openSessions.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *AttendanceMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.transitions.Describe(ch)
	m.suppressed.Describe(ch)
	m.openSessions.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *AttendanceMetrics) Collect(ch chan<- prometheus.Metric) {
	m.transitions.Collect(ch)
	m.suppressed.Collect(ch)
	m.openSessions.Collect(ch)
}
