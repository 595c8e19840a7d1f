package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewEngineMetrics(registry)
	require.NoError(t, err)

	m.RecordFrame("cam-gate", 0.002)
	m.RecordFrame("cam-gate", 0.004)
	m.RecordFrame("cam-door", 0.001)
	m.RecordDroppedDetection("cam-gate", "invalid_box")
	m.RecordDeferral("identity")
	m.RecordCacheLookup("identity", "hit")
	m.RecordCacheLookup("identity", "miss")
	m.RecordGateDecision("north-gate", "fire")
	m.RecordCrossing("doorway", "entry", "lobby", 3)
	m.UpdateActiveTracks(7)
	m.RecordEvictions(2)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.framesProcessed.WithLabelValues("cam-gate")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.framesProcessed.WithLabelValues("cam-door")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.detectionsDropped.WithLabelValues("cam-gate", "invalid_box")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatchDeferrals.WithLabelValues("identity")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheLookups.WithLabelValues("identity", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.gateDecisions.WithLabelValues("north-gate", "fire")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.crossings.WithLabelValues("doorway", "entry")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.occupancy.WithLabelValues("lobby")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.activeTracks))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.trackEvictions))
}

func TestExternalMetricsImplementsRecorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewExternalMetrics(registry)
	require.NoError(t, err)

	var r Recorder = m
	r.RecordOperation(OpFaceSearch, StatusSuccess)
	r.RecordOperation(OpFaceSearch, StatusError)
	r.RecordDuration(OpFaceSearch, 0.120)
	r.RecordError(OpFaceSearch, "timeout")
	m.RecordRetry(OpPlateRead)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues(OpFaceSearch, StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues(OpFaceSearch, StatusError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues(OpFaceSearch, "timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.retries.WithLabelValues(OpPlateRead)))
}

func TestAttendanceMetricsSuppressedCountsSeparately(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAttendanceMetrics(registry)
	require.NoError(t, err)

	m.RecordTransition("check_in", false)
	m.RecordTransition("check_in", true)
	m.RecordTransition("check_out", false)
	m.UpdateOpenSessions(4)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.transitions.WithLabelValues("check_in")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitions.WithLabelValues("check_out")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.suppressed))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.openSessions))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewMQTTMetrics(registry)
	require.NoError(t, err)

	_, err = NewMQTTMetrics(registry)
	assert.Error(t, err)
}
