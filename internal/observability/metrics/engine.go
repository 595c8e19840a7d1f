package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains all Prometheus metrics related to the correlation
// engine: frame throughput, track lifecycle, cache effectiveness, API budget
// pressure and the gate/crossing decision counters.
type EngineMetrics struct {
	framesProcessed   *prometheus.CounterVec
	detectionsDropped *prometheus.CounterVec
	activeTracks      prometheus.Gauge
	trackEvictions    prometheus.Counter
	staleResults      prometheus.Counter
	dispatchDeferrals *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	gateDecisions     *prometheus.CounterVec
	crossings         *prometheus.CounterVec
	occupancy         *prometheus.GaugeVec
	frameDuration     prometheus.Histogram
	registry          *prometheus.Registry
}

// NewEngineMetrics creates a new instance of EngineMetrics and registers it
// with the provided registry.
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize engine metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() error {
	m.framesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_frames_processed_total",
		Help: "Total number of frames processed per camera",
	}, []string{"camera_id"})

	m.detectionsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_detections_dropped_total",
		Help: "Total number of detections dropped before correlation",
	}, []string{"camera_id", "reason"})

	m.activeTracks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_active_tracks",
		Help: "Number of tracked entities currently in the arena",
	})

	m.trackEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_track_evictions_total",
		Help: "Total number of tracks evicted after the silence window",
	})

	m.staleResults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_stale_results_total",
		Help: "Total number of recognition results discarded because the track was evicted mid-flight",
	})

	m.dispatchDeferrals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_dispatch_deferrals_total",
		Help: "Total number of recognitions deferred by the shared API budget",
	}, []string{"kind"})

	m.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_cache_lookups_total",
		Help: "Track state cache lookups by cache and outcome",
	}, []string{"cache", "outcome"})

	m.gateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_gate_decisions_total",
		Help: "Gate trigger decisions by zone",
	}, []string{"zone", "decision"})

	m.crossings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_line_crossings_total",
		Help: "Counted line crossings by line and direction",
	}, []string{"line", "direction"})

	m.occupancy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_occupancy",
		Help: "Current occupancy per shared counter",
	}, []string{"counter"})

	m.frameDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_frame_duration_seconds",
		Help:    "Time spent correlating one frame",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	return nil
}

// RecordFrame records one processed frame and its correlation time.
func (m *EngineMetrics) RecordFrame(cameraID string, seconds float64) {
	m.framesProcessed.WithLabelValues(cameraID).Inc()
	m.frameDuration.Observe(seconds)
}

// RecordDroppedDetection records a detection discarded before correlation.
func (m *EngineMetrics) RecordDroppedDetection(cameraID, reason string) {
	m.detectionsDropped.WithLabelValues(cameraID, reason).Inc()
}

// UpdateActiveTracks sets the current arena size.
func (m *EngineMetrics) UpdateActiveTracks(n int) {
	m.activeTracks.Set(float64(n))
}

// RecordEvictions adds to the evicted track count.
func (m *EngineMetrics) RecordEvictions(n int) {
	m.trackEvictions.Add(float64(n))
}

// RecordStaleResult records a recognition result discarded after eviction.
func (m *EngineMetrics) RecordStaleResult() {
	m.staleResults.Inc()
}

// RecordDeferral records a budget-deferred dispatch of the given kind
// ("identity" or "gate").
func (m *EngineMetrics) RecordDeferral(kind string) {
	m.dispatchDeferrals.WithLabelValues(kind).Inc()
}

// RecordCacheLookup records a cache lookup outcome ("hit" or "miss") for the
// named cache ("identity" or "visit").
func (m *EngineMetrics) RecordCacheLookup(cache, outcome string) {
	m.cacheLookups.WithLabelValues(cache, outcome).Inc()
}

// RecordGateDecision records one gate trigger evaluation.
func (m *EngineMetrics) RecordGateDecision(zone, decision string) {
	m.gateDecisions.WithLabelValues(zone, decision).Inc()
}

// RecordCrossing records one counted crossing and the occupancy after it.
func (m *EngineMetrics) RecordCrossing(line, direction, counter string, occupancyAfter int) {
	m.crossings.WithLabelValues(line, direction).Inc()
	m.occupancy.WithLabelValues(counter).Set(float64(occupancyAfter))
}

// Describe implements the prometheus.Collector interface.
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.framesProcessed.Describe(ch)
	m.detectionsDropped.Describe(ch)
	m.activeTracks.Describe(ch)
	m.trackEvictions.Describe(ch)
	m.staleResults.Describe(ch)
	m.dispatchDeferrals.Describe(ch)
	m.cacheLookups.Describe(ch)
	m.gateDecisions.Describe(ch)
	m.crossings.Describe(ch)
	m.occupancy.Describe(ch)
	m.frameDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.framesProcessed.Collect(ch)
	m.detectionsDropped.Collect(ch)
	m.activeTracks.Collect(ch)
	m.trackEvictions.Collect(ch)
	m.staleResults.Collect(ch)
	m.dispatchDeferrals.Collect(ch)
	m.cacheLookups.Collect(ch)
	m.gateDecisions.Collect(ch)
	m.crossings.Collect(ch)
	m.occupancy.Collect(ch)
	m.frameDuration.Collect(ch)
}
