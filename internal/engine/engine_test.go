package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/camwatch-go/internal/attendance"
	"github.com/camwatch/camwatch-go/internal/conf"
	"github.com/camwatch/camwatch-go/internal/errors"
	"github.com/camwatch/camwatch-go/internal/facematch"
	"github.com/camwatch/camwatch-go/internal/frame"
	"github.com/camwatch/camwatch-go/internal/linecross"
	"github.com/camwatch/camwatch-go/internal/plateocr"
	"github.com/camwatch/camwatch-go/internal/shiftpolicy"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeFaces is a scriptable face search backend. When release is set,
// Search blocks until the channel closes, simulating a slow gallery.
type fakeFaces struct {
	mu      sync.Mutex
	calls   int
	result  facematch.MatchResult
	err     error
	release chan struct{}
}

var _ facematch.Service = (*fakeFaces)(nil)

func (f *fakeFaces) Search(ctx context.Context, _ facematch.Crop) (facematch.MatchResult, error) {
	f.mu.Lock()
	f.calls++
	result, err, release := f.result, f.err, f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return facematch.MatchResult{}, ctx.Err()
		}
	}
	return result, err
}

func (f *fakeFaces) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFaces) set(result facematch.MatchResult, err error) {
	f.mu.Lock()
	f.result, f.err = result, err
	f.mu.Unlock()
}

type fakePlates struct {
	mu     sync.Mutex
	calls  int
	result plateocr.PlateResult
	err    error
}

var _ plateocr.Service = (*fakePlates)(nil)

func (f *fakePlates) Read(_ context.Context, _ plateocr.Crop) (plateocr.PlateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakePlates) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePlates) set(result plateocr.PlateResult, err error) {
	f.mu.Lock()
	f.result, f.err = result, err
	f.mu.Unlock()
}

type fakePolicies struct {
	mu     sync.Mutex
	calls  int
	policy shiftpolicy.ShiftPolicy
	err    error
}

var _ shiftpolicy.Provider = (*fakePolicies)(nil)

func (p *fakePolicies) Policy(_ context.Context, _ string) (shiftpolicy.ShiftPolicy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.policy, p.err
}

// captureSink records everything the engine emits.
type captureSink struct {
	name string
	fail bool

	mu          sync.Mutex
	gates       []GateEvent
	crossings   []linecross.CrossingEvent
	transitions []attendance.Transition
	samples     []OccupancySample
}

var _ Sink = (*captureSink)(nil)

func (s *captureSink) Name() string {
	if s.name == "" {
		return "capture"
	}
	return s.name
}

func (s *captureSink) OnGateEvent(_ context.Context, ev *GateEvent) error {
	if s.fail {
		return errors.NewStd("sink down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates = append(s.gates, *ev)
	return nil
}

func (s *captureSink) OnCrossing(_ context.Context, ev *linecross.CrossingEvent) error {
	if s.fail {
		return errors.NewStd("sink down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crossings = append(s.crossings, *ev)
	return nil
}

func (s *captureSink) OnAttendance(_ context.Context, tr *attendance.Transition) error {
	if s.fail {
		return errors.NewStd("sink down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, *tr)
	return nil
}

func (s *captureSink) OnOccupancy(_ context.Context, sample *OccupancySample) error {
	if s.fail {
		return errors.NewStd("sink down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, *sample)
	return nil
}

func (s *captureSink) gateEvents() []GateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GateEvent(nil), s.gates...)
}

func (s *captureSink) crossingEvents() []linecross.CrossingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]linecross.CrossingEvent(nil), s.crossings...)
}

func (s *captureSink) attendanceEvents() []attendance.Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]attendance.Transition(nil), s.transitions...)
}

func (s *captureSink) occupancySamples() []OccupancySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OccupancySample(nil), s.samples...)
}

// testSettings builds a three-camera layout: a vehicle gate, a doorway
// crossing line driving attendance, and a presence-mode lobby camera.
func testSettings() *conf.Settings {
	return &conf.Settings{
		Engine: conf.EngineSettings{
			ResultTTL:       time.Minute,
			SessionTTL:      10 * time.Minute,
			FailureCooldown: 30 * time.Second,
			PendingTimeout:  5 * time.Second,
			TrackSilence:    30 * time.Second,
			SweepInterval:   time.Hour,
			HistoryDepth:    4,
			APIBudget:       5,
		},
		Cameras: []conf.CameraConfig{
			{
				ID: "cam-gate",
				Gates: []conf.GateZoneConfig{{
					Name:          "north-gate",
					Classes:       []string{"vehicle"},
					MinConfidence: 0.5,
					Band:          &conf.BandZone{Axis: "y", From: 0.6, To: 1.0},
				}},
			},
			{
				ID: "cam-door",
				Lines: []conf.CrossingLineConfig{{
					Name:    "doorway",
					A:       conf.Point{X: 0.5, Y: 0},
					B:       conf.Point{X: 0.5, Y: 1},
					Buffer:  0.05,
					Counter: "lobby",
					Classes: []string{"person"},
				}},
				Attendance: conf.CameraAttendance{Enabled: true, Mode: "crossing", Line: "doorway"},
			},
			{
				ID:         "cam-lobby",
				Attendance: conf.CameraAttendance{Enabled: true, Mode: "presence"},
			},
		},
		Attendance: conf.AttendanceSettings{
			Enabled:         true,
			DuplicateWindow: 30 * time.Second,
			Policy: conf.PolicyDefaults{
				ShiftStart:     "08:00",
				ShiftEnd:       "17:00",
				LateGrace:      5 * time.Minute,
				EarlyExitGrace: 5 * time.Minute,
			},
		},
	}
}

func testEngine(t *testing.T, settings *conf.Settings, faces facematch.Service, plates plateocr.Service) (*Engine, *fakeClock, *captureSink) {
	t.Helper()

	clock := newFakeClock()
	e, err := NewWithClock(settings, faces, plates, nil, clock.Now)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	sink := &captureSink{}
	e.AddSink(sink)
	return e, clock, sink
}

// waitDispatch blocks until all in-flight recognition and attendance
// goroutines have finished.
func waitDispatch(e *Engine) { e.wg.Wait() }

// at builds a timestamp on the fixed test day.
func at(hour, minute, sec int) time.Time {
	return time.Date(2025, 3, 10, hour, minute, sec, 0, time.UTC)
}

func personDet(trackID int64, x float64) frame.Detection {
	return frame.Detection{
		TrackID:    trackID,
		Class:      frame.ClassPerson,
		Confidence: 0.9,
		Box:        frame.BBox{X1: x - 0.05, Y1: 0.2, X2: x + 0.05, Y2: 0.6},
	}
}

func vehicleDet(trackID int64, footY float64) frame.Detection {
	return frame.Detection{
		TrackID:    trackID,
		Class:      frame.ClassVehicle,
		Confidence: 0.9,
		Box:        frame.BBox{X1: 0.3, Y1: footY - 0.2, X2: 0.5, Y2: footY},
	}
}

func personFrame(cameraID string, trackID int64, x float64, pts time.Time) *frame.Frame {
	return &frame.Frame{CameraID: cameraID, PTS: pts, Detections: []frame.Detection{personDet(trackID, x)}}
}

func vehicleFrame(cameraID string, trackID int64, footY float64, pts time.Time) *frame.Frame {
	return &frame.Frame{CameraID: cameraID, PTS: pts, Detections: []frame.Detection{vehicleDet(trackID, footY)}}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*conf.Settings)
	}{
		{
			name:   "camera without id",
			mutate: func(s *conf.Settings) { s.Cameras[0].ID = "" },
		},
		{
			name:   "duplicate camera id",
			mutate: func(s *conf.Settings) { s.Cameras[1].ID = "cam-gate" },
		},
		{
			name:   "unknown band axis",
			mutate: func(s *conf.Settings) { s.Cameras[0].Gates[0].Band.Axis = "z" },
		},
		{
			name: "degenerate polygon",
			mutate: func(s *conf.Settings) {
				s.Cameras[0].Gates[0].Band = nil
				s.Cameras[0].Gates[0].Polygon = []conf.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}
			},
		},
		{
			name:   "attendance line not configured",
			mutate: func(s *conf.Settings) { s.Cameras[1].Attendance.Line = "backdoor" },
		},
		{
			name:   "unknown attendance mode",
			mutate: func(s *conf.Settings) { s.Cameras[1].Attendance.Mode = "osmosis" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			settings := testSettings()
			tt.mutate(settings)
			_, err := NewWithClock(settings, nil, nil, nil, newFakeClock().Now)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}

	t.Run("nil settings", func(t *testing.T) {
		t.Parallel()

		_, err := NewWithClock(nil, nil, nil, nil, newFakeClock().Now)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	})

	t.Run("bad default shift start", func(t *testing.T) {
		t.Parallel()

		settings := testSettings()
		settings.Attendance.Policy.ShiftStart = "eight"
		_, err := NewWithClock(settings, nil, nil, nil, newFakeClock().Now)
		require.Error(t, err)
	})
}

func TestProcessFrameEmpty(t *testing.T) {
	t.Parallel()

	e, _, _ := testEngine(t, testSettings(), nil, nil)

	assert.Nil(t, e.ProcessFrame(testContext(t), nil))
	assert.Nil(t, e.ProcessFrame(testContext(t), &frame.Frame{CameraID: "cam-door", PTS: at(9, 0, 0)}))
	assert.Zero(t, e.Stats().FramesProcessed)
}

func TestInvalidDetectionDropped(t *testing.T) {
	t.Parallel()

	e, _, _ := testEngine(t, testSettings(), nil, nil)

	f := &frame.Frame{
		CameraID: "cam-door",
		PTS:      at(9, 0, 0),
		Detections: []frame.Detection{
			{TrackID: 1, Class: frame.ClassPerson, Confidence: 0.9, Box: frame.BBox{X1: 0.6, Y1: 0.2, X2: 0.4, Y2: 0.6}},
			personDet(2, 0.7),
		},
	}
	results := e.ProcessFrame(testContext(t), f)

	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].TrackID)
	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.DetectionsDropped)
	assert.Equal(t, 1, stats.Tracks)
}

func TestIdentityResolvedOncePerTrack(t *testing.T) {
	t.Parallel()

	faces := &fakeFaces{result: facematch.MatchResult{ID: "emp-7", Confidence: 0.93}}
	e, _, sink := testEngine(t, testSettings(), faces, nil)

	results := e.ProcessFrame(testContext(t), personFrame("cam-lobby", 1, 0.5, at(8, 2, 0)))
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Identity)
	assert.Equal(t, IdentityPending, results[0].Identity.State)
	assert.False(t, results[0].Cached)

	waitDispatch(e)

	results = e.ProcessFrame(testContext(t), personFrame("cam-lobby", 1, 0.52, at(8, 2, 1)))
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Identity)
	assert.Equal(t, IdentityResolved, results[0].Identity.State)
	assert.Equal(t, "emp-7", results[0].Identity.EmployeeID)
	assert.InDelta(t, 0.93, results[0].Identity.Confidence, 1e-9)
	assert.True(t, results[0].Cached)
	assert.Equal(t, 1, faces.callCount())

	// Presence mode turned the recognition into a check-in, exactly once.
	transitions := sink.attendanceEvents()
	require.Len(t, transitions, 1)
	assert.Equal(t, attendance.EventCheckIn, transitions[0].Type)
	assert.Equal(t, "emp-7", transitions[0].EmployeeID)
	assert.False(t, transitions[0].Session.Late)

	e.ProcessFrame(testContext(t), personFrame("cam-lobby", 1, 0.54, at(8, 2, 2)))
	waitDispatch(e)
	assert.Len(t, sink.attendanceEvents(), 1)
	assert.Equal(t, 1, faces.callCount())
}

func TestPresenceCheckInKeepsExistingSession(t *testing.T) {
	t.Parallel()

	faces := &fakeFaces{result: facematch.MatchResult{ID: "emp-7", Confidence: 0.9}}
	e, _, sink := testEngine(t, testSettings(), faces, nil)

	policy := shiftpolicy.ShiftPolicy{
		Start:     shiftpolicy.MustTimeOfDay("08:00"),
		End:       shiftpolicy.MustTimeOfDay("17:00"),
		LateGrace: 5 * time.Minute,
	}
	_, err := e.Attendance().CheckIn("emp-7", policy, at(7, 55, 0))
	require.NoError(t, err)

	// Recognized again at noon on the lobby camera; the morning session
	// must survive untouched.
	e.ProcessFrame(testContext(t), personFrame("cam-lobby", 4, 0.5, at(12, 0, 0)))
	waitDispatch(e)

	assert.Empty(t, sink.attendanceEvents())
	s, ok := e.Attendance().Session("emp-7", "2025-03-10")
	require.True(t, ok)
	assert.Equal(t, at(7, 55, 0), s.CheckInTime)
}

func TestIdentityBudgetDeferralRetriesNextFrame(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Engine.APIBudget = 1
	faces := &fakeFaces{result: facematch.MatchResult{ID: "emp-1", Confidence: 0.9}}
	e, clock, _ := testEngine(t, settings, faces, nil)

	f := &frame.Frame{
		CameraID:   "cam-aux",
		PTS:        at(9, 0, 0),
		Detections: []frame.Detection{personDet(1, 0.3), personDet(2, 0.7)},
	}
	results := e.ProcessFrame(testContext(t), f)
	require.Len(t, results, 2)
	assert.Equal(t, IdentityPending, results[0].Identity.State)
	assert.Equal(t, IdentityPending, results[1].Identity.State)

	waitDispatch(e)
	assert.Equal(t, 1, faces.callCount())
	assert.Equal(t, uint64(1), e.Stats().IdentityDeferrals)

	// The denied track left no placeholder, so it retries as soon as the
	// budget window rolls over.
	clock.Advance(1100 * time.Millisecond)
	f.PTS = at(9, 0, 1)
	results = e.ProcessFrame(testContext(t), f)
	require.Len(t, results, 2)
	assert.Equal(t, IdentityResolved, results[0].Identity.State)
	assert.True(t, results[0].Cached)
	assert.Equal(t, IdentityPending, results[1].Identity.State)

	waitDispatch(e)
	assert.Equal(t, 2, faces.callCount())
}

func TestIdentityFailureCachesUnknownWithCooldown(t *testing.T) {
	t.Parallel()

	faces := &fakeFaces{err: errors.NewStd("gallery offline")}
	e, clock, _ := testEngine(t, testSettings(), faces, nil)

	e.ProcessFrame(testContext(t), personFrame("cam-aux", 3, 0.5, at(9, 0, 0)))
	waitDispatch(e)
	require.Equal(t, 1, faces.callCount())

	results := e.ProcessFrame(testContext(t), personFrame("cam-aux", 3, 0.5, at(9, 0, 1)))
	require.NotNil(t, results[0].Identity)
	assert.Equal(t, IdentityUnknown, results[0].Identity.State)
	assert.True(t, results[0].Cached)
	assert.Equal(t, 1, faces.callCount())

	// Cooldown drains; the next sighting retries and succeeds.
	faces.set(facematch.MatchResult{ID: "emp-9", Confidence: 0.88}, nil)
	clock.Advance(31 * time.Second)

	e.ProcessFrame(testContext(t), personFrame("cam-aux", 3, 0.5, at(9, 0, 35)))
	waitDispatch(e)
	assert.Equal(t, 2, faces.callCount())

	results = e.ProcessFrame(testContext(t), personFrame("cam-aux", 3, 0.5, at(9, 0, 36)))
	assert.Equal(t, IdentityResolved, results[0].Identity.State)
	assert.Equal(t, "emp-9", results[0].Identity.EmployeeID)
}

func TestStaleFaceResultDiscarded(t *testing.T) {
	t.Parallel()

	faces := &fakeFaces{
		result:  facematch.MatchResult{ID: "emp-5", Confidence: 0.9},
		release: make(chan struct{}),
	}
	e, clock, _ := testEngine(t, testSettings(), faces, nil)

	e.ProcessFrame(testContext(t), personFrame("cam-aux", 9, 0.5, at(9, 0, 0)))

	// The track goes silent and is evicted while the search is in flight.
	require.Equal(t, 1, e.EvictStale(clock.Now()))
	close(faces.release)
	waitDispatch(e)

	assert.Equal(t, uint64(1), e.Stats().StaleResults)
	_, ok := e.identities.Get(frame.TrackKey{CameraID: "cam-aux", TrackID: 9}.String())
	assert.False(t, ok, "result for an evicted track must not be cached")

	// A recycled track id starts clean and dispatches its own search.
	results := e.ProcessFrame(testContext(t), personFrame("cam-aux", 9, 0.5, at(9, 1, 0)))
	assert.Equal(t, IdentityPending, results[0].Identity.State)
	waitDispatch(e)
	assert.Equal(t, 2, faces.callCount())
}

func TestShiftPolicyProviderOverridesDefault(t *testing.T) {
	t.Parallel()

	faces := &fakeFaces{result: facematch.MatchResult{ID: "emp-2", Confidence: 0.9}}
	provider := &fakePolicies{policy: shiftpolicy.ShiftPolicy{
		Start: shiftpolicy.MustTimeOfDay("07:00"),
		End:   shiftpolicy.MustTimeOfDay("15:00"),
	}}

	clock := newFakeClock()
	e, err := NewWithClock(testSettings(), faces, nil, provider, clock.Now)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	sink := &captureSink{}
	e.AddSink(sink)

	// 08:02 is on time under the default policy but late under the
	// provider's 07:00 shift with no grace.
	e.ProcessFrame(testContext(t), personFrame("cam-lobby", 1, 0.5, at(8, 2, 0)))
	waitDispatch(e)

	transitions := sink.attendanceEvents()
	require.Len(t, transitions, 1)
	assert.True(t, transitions[0].Session.Late)
	provider.mu.Lock()
	calls := provider.calls
	provider.mu.Unlock()
	assert.Positive(t, calls)
}

func TestShiftPolicyProviderFailureFallsBack(t *testing.T) {
	t.Parallel()

	faces := &fakeFaces{result: facematch.MatchResult{ID: "emp-2", Confidence: 0.9}}
	provider := &fakePolicies{err: errors.NewStd("hr backend down")}

	clock := newFakeClock()
	e, err := NewWithClock(testSettings(), faces, nil, provider, clock.Now)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	sink := &captureSink{}
	e.AddSink(sink)

	e.ProcessFrame(testContext(t), personFrame("cam-lobby", 1, 0.5, at(8, 2, 0)))
	waitDispatch(e)

	transitions := sink.attendanceEvents()
	require.Len(t, transitions, 1)
	assert.False(t, transitions[0].Session.Late, "default 08:00 policy with grace applies")
}

func TestGateVisitLifecycle(t *testing.T) {
	t.Parallel()

	plates := &fakePlates{result: plateocr.PlateResult{Text: "ABC1234", Confidence: 0.91, Region: "EU"}}
	e, _, sink := testEngine(t, testSettings(), nil, plates)

	results := e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 5, 0.4, at(9, 0, 0)))
	assert.Equal(t, "not_in_zone", results[0].GateStatus)

	results = e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 5, 0.7, at(9, 0, 1)))
	assert.Equal(t, "fire", results[0].GateStatus)
	require.NotNil(t, results[0].Visit)
	assert.Equal(t, VisitPending, results[0].Visit.State)

	waitDispatch(e)

	results = e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 5, 0.75, at(9, 0, 2)))
	assert.Equal(t, "already_triggered", results[0].GateStatus)
	require.NotNil(t, results[0].Visit)
	assert.Equal(t, VisitResolved, results[0].Visit.State)
	assert.Equal(t, "ABC1234", results[0].Visit.Plate)
	assert.Equal(t, "EU", results[0].Visit.Region)
	assert.True(t, results[0].Cached)

	// Leaving and re-entering inside one session must not re-fire.
	e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 5, 0.4, at(9, 0, 3)))
	results = e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 5, 0.8, at(9, 0, 4)))
	assert.Equal(t, "already_triggered", results[0].GateStatus)
	assert.Equal(t, 1, plates.callCount())

	events := sink.gateEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].Resolved)
	assert.Equal(t, "ABC1234", events[0].Plate)
	assert.Equal(t, "north-gate", events[0].Zone)
	assert.Equal(t, "cam-gate", events[0].CameraID)
	assert.Equal(t, int64(5), events[0].TrackID)
}

func TestGateBudgetDeferralReleasesClaim(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Engine.APIBudget = 1
	plates := &fakePlates{result: plateocr.PlateResult{Text: "XYZ99", Confidence: 0.9}}
	e, clock, sink := testEngine(t, settings, nil, plates)

	f := &frame.Frame{
		CameraID:   "cam-gate",
		PTS:        at(9, 0, 0),
		Detections: []frame.Detection{vehicleDet(1, 0.7), vehicleDet(2, 0.8)},
	}
	results := e.ProcessFrame(testContext(t), f)
	require.Len(t, results, 2)
	assert.Equal(t, "fire", results[0].GateStatus)
	assert.Equal(t, "deferred", results[1].GateStatus)
	assert.Equal(t, uint64(1), e.Stats().GateDeferrals)

	waitDispatch(e)
	assert.Equal(t, 1, plates.callCount())

	// The released claim fires again once the budget window rolls over.
	clock.Advance(1100 * time.Millisecond)
	results = e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 2, 0.8, at(9, 0, 1)))
	assert.Equal(t, "fire", results[0].GateStatus)

	waitDispatch(e)
	assert.Equal(t, 2, plates.callCount())
	assert.Len(t, sink.gateEvents(), 2)
}

func TestGateFailureCooldownHoldsRetry(t *testing.T) {
	t.Parallel()

	plates := &fakePlates{err: errors.NewStd("ocr timeout")}
	e, clock, sink := testEngine(t, testSettings(), nil, plates)

	e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 7, 0.7, at(9, 0, 0)))
	waitDispatch(e)
	require.Equal(t, 1, plates.callCount())
	assert.Empty(t, sink.gateEvents(), "a failed read emits nothing")

	// The claim was released but the cooldown entry holds the retry.
	results := e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 7, 0.7, at(9, 0, 1)))
	assert.Equal(t, "cooling", results[0].GateStatus)
	require.NotNil(t, results[0].Visit)
	assert.Equal(t, VisitUnknown, results[0].Visit.State)
	assert.Equal(t, 1, plates.callCount())

	plates.set(plateocr.PlateResult{Text: "GD451", Confidence: 0.87}, nil)
	clock.Advance(31 * time.Second)

	results = e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 7, 0.7, at(9, 0, 33)))
	assert.Equal(t, "fire", results[0].GateStatus)
	waitDispatch(e)
	assert.Equal(t, 2, plates.callCount())

	events := sink.gateEvents()
	require.Len(t, events, 1)
	assert.True(t, events[0].Resolved)
	assert.Equal(t, "GD451", events[0].Plate)
}

func TestGateCleanMissIsFinal(t *testing.T) {
	t.Parallel()

	// The service answers but sees no readable plate.
	plates := &fakePlates{}
	e, _, sink := testEngine(t, testSettings(), nil, plates)

	e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 8, 0.7, at(9, 0, 0)))
	waitDispatch(e)

	events := sink.gateEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].Resolved)
	assert.Empty(t, events[0].Plate)

	// No retry: the unresolved answer is the visit's final state.
	results := e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 8, 0.7, at(9, 0, 1)))
	assert.Equal(t, "already_triggered", results[0].GateStatus)
	require.NotNil(t, results[0].Visit)
	assert.Equal(t, VisitUnknown, results[0].Visit.State)
	assert.Equal(t, 1, plates.callCount())
	assert.Len(t, sink.gateEvents(), 1)
}

func TestGateWithoutOCRService(t *testing.T) {
	t.Parallel()

	e, _, sink := testEngine(t, testSettings(), nil, nil)

	results := e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 9, 0.7, at(9, 0, 0)))
	assert.Equal(t, "fire", results[0].GateStatus)

	events := sink.gateEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].Resolved)

	// The visit is still counted exactly once.
	results = e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 9, 0.75, at(9, 0, 1)))
	assert.Equal(t, "already_triggered", results[0].GateStatus)
	assert.Len(t, sink.gateEvents(), 1)
}

func TestCrossingDrivesOccupancyAndAttendance(t *testing.T) {
	t.Parallel()

	faces := &fakeFaces{result: facematch.MatchResult{ID: "emp-3", Confidence: 0.95}}
	e, _, sink := testEngine(t, testSettings(), faces, nil)

	// First sighting fixes the reference side and resolves the identity.
	e.ProcessFrame(testContext(t), personFrame("cam-door", 11, 0.7, at(8, 2, 0)))
	waitDispatch(e)

	e.ProcessFrame(testContext(t), personFrame("cam-door", 11, 0.4, at(8, 3, 0)))
	waitDispatch(e)

	e.ProcessFrame(testContext(t), personFrame("cam-door", 11, 0.7, at(16, 57, 0)))
	waitDispatch(e)

	crossings := sink.crossingEvents()
	require.Len(t, crossings, 2)
	assert.Equal(t, linecross.Entry, crossings[0].Direction)
	assert.Equal(t, linecross.Exit, crossings[1].Direction)
	assert.Equal(t, "doorway", crossings[0].Zone)
	assert.Equal(t, "lobby", crossings[0].Counter)
	assert.Equal(t, 1, crossings[0].OccupancyAfter)
	assert.Equal(t, 0, crossings[1].OccupancyAfter)

	samples := sink.occupancySamples()
	require.Len(t, samples, 2)
	assert.Equal(t, "lobby", samples[0].Counter)
	assert.Equal(t, 1, samples[0].Count)
	assert.Equal(t, 0, samples[1].Count)
	assert.Equal(t, 0, e.Occupancy("lobby").Count())

	transitions := sink.attendanceEvents()
	require.Len(t, transitions, 2)
	assert.Equal(t, attendance.EventCheckIn, transitions[0].Type)
	assert.Equal(t, "emp-3", transitions[0].EmployeeID)
	assert.False(t, transitions[0].Session.Late)
	assert.Equal(t, attendance.EventCheckOut, transitions[1].Type)
	assert.False(t, transitions[1].Session.EarlyExit)

	s, ok := e.Attendance().Session("emp-3", "2025-03-10")
	require.True(t, ok)
	assert.Equal(t, attendance.StatusCheckedOut, s.Status)
	assert.Equal(t, at(8, 3, 0), s.CheckInTime)
	assert.Equal(t, at(16, 57, 0), s.CheckOutTime)
}

func TestCrossingWithoutIdentitySkipsAttendance(t *testing.T) {
	t.Parallel()

	e, _, sink := testEngine(t, testSettings(), nil, nil)

	e.ProcessFrame(testContext(t), personFrame("cam-door", 12, 0.7, at(9, 0, 0)))
	e.ProcessFrame(testContext(t), personFrame("cam-door", 12, 0.4, at(9, 0, 1)))
	waitDispatch(e)

	assert.Len(t, sink.crossingEvents(), 1)
	assert.Len(t, sink.occupancySamples(), 1)
	assert.Empty(t, sink.attendanceEvents())
}

func TestOrphanCheckoutForwarded(t *testing.T) {
	t.Parallel()

	faces := &fakeFaces{result: facematch.MatchResult{ID: "emp-4", Confidence: 0.9}}
	e, _, sink := testEngine(t, testSettings(), faces, nil)

	// The track appears inside and exits without ever having checked in.
	e.ProcessFrame(testContext(t), personFrame("cam-door", 13, 0.4, at(17, 0, 0)))
	waitDispatch(e)
	e.ProcessFrame(testContext(t), personFrame("cam-door", 13, 0.7, at(17, 0, 5)))
	waitDispatch(e)

	crossings := sink.crossingEvents()
	require.Len(t, crossings, 1)
	assert.Equal(t, linecross.Exit, crossings[0].Direction)
	assert.Equal(t, 0, crossings[0].OccupancyAfter)
	assert.Equal(t, uint64(1), e.Occupancy("lobby").Corrections())

	transitions := sink.attendanceEvents()
	require.Len(t, transitions, 1)
	assert.Equal(t, attendance.EventOrphanCheckout, transitions[0].Type)
	assert.Equal(t, "emp-4", transitions[0].EmployeeID)
	assert.Equal(t, attendance.StatusNoRecord, transitions[0].Session.Status)
}

func TestCloseDayForwardsTransitions(t *testing.T) {
	t.Parallel()

	e, _, sink := testEngine(t, testSettings(), nil, nil)

	policy := shiftpolicy.ShiftPolicy{
		Start: shiftpolicy.MustTimeOfDay("08:00"),
		End:   shiftpolicy.MustTimeOfDay("17:00"),
	}
	_, err := e.Attendance().CheckIn("emp-9", policy, at(8, 1, 0))
	require.NoError(t, err)

	closed := e.CloseDay(testContext(t), "2025-03-10", at(23, 59, 0))
	require.Len(t, closed, 1)

	transitions := sink.attendanceEvents()
	require.Len(t, transitions, 1)
	assert.Equal(t, attendance.EventDayClose, transitions[0].Type)
	assert.Equal(t, "emp-9", transitions[0].EmployeeID)
	assert.Equal(t, 0, e.Attendance().OpenSessions())
}

func TestEvictStaleResetsTrackState(t *testing.T) {
	t.Parallel()

	plates := &fakePlates{result: plateocr.PlateResult{Text: "KL7733", Confidence: 0.9}}
	faces := &fakeFaces{result: facematch.MatchResult{ID: "emp-6", Confidence: 0.9}}
	e, clock, _ := testEngine(t, testSettings(), faces, plates)

	e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 5, 0.7, at(9, 0, 0)))
	e.ProcessFrame(testContext(t), personFrame("cam-door", 6, 0.6, at(9, 0, 0)))
	waitDispatch(e)
	require.Equal(t, 1, plates.callCount())

	// Both tracks have been silent far longer than the silence window.
	evicted := e.EvictStale(clock.Now())
	assert.Equal(t, 2, evicted)
	assert.Equal(t, uint64(2), e.Stats().Evictions)

	_, ok := e.Track(frame.TrackKey{CameraID: "cam-gate", TrackID: 5})
	assert.False(t, ok)
	_, ok = e.Track(frame.TrackKey{CameraID: "cam-door", TrackID: 6})
	assert.False(t, ok)

	// A recycled id is a fresh visitor: new session, new fire.
	results := e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", 5, 0.7, at(12, 0, 1)))
	assert.Equal(t, "fire", results[0].GateStatus)
	waitDispatch(e)
	assert.Equal(t, 2, plates.callCount())
}

func TestTrackHistoryDepth(t *testing.T) {
	t.Parallel()

	e, _, _ := testEngine(t, testSettings(), nil, nil)

	for i := 0; i < 6; i++ {
		footY := 0.3 + 0.05*float64(i)
		e.ProcessFrame(testContext(t), vehicleFrame("cam-aux", 21, footY, at(9, 0, i)))
	}

	snap, ok := e.Track(frame.TrackKey{CameraID: "cam-aux", TrackID: 21})
	require.True(t, ok)
	assert.Equal(t, frame.ClassVehicle, snap.Class)
	assert.Equal(t, at(9, 0, 0), snap.FirstSeen)
	assert.Equal(t, at(9, 0, 5), snap.LastSeen)

	// Ring keeps the configured depth, oldest first. Centroid Y trails the
	// foot by half the box height.
	require.Len(t, snap.History, 4)
	assert.InDelta(t, 0.30, snap.History[0].Y, 1e-9)
	assert.InDelta(t, 0.45, snap.History[3].Y, 1e-9)
}

func TestSinkFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	e, _, _ := testEngine(t, testSettings(), nil, nil)
	flaky := &captureSink{name: "flaky", fail: true}
	healthy := &captureSink{name: "healthy"}
	e.AddSink(flaky)
	e.AddSink(healthy)

	e.ProcessFrame(testContext(t), personFrame("cam-door", 14, 0.7, at(9, 0, 0)))
	e.ProcessFrame(testContext(t), personFrame("cam-door", 14, 0.4, at(9, 0, 1)))
	waitDispatch(e)

	assert.Empty(t, flaky.crossingEvents())
	assert.Len(t, healthy.crossingEvents(), 1)
	assert.Len(t, healthy.occupancySamples(), 1)
}

func TestStartSweeperEvicts(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Engine.SweepInterval = 10 * time.Millisecond
	e, _, _ := testEngine(t, settings, nil, nil)

	// PTS hours behind the engine clock: stale on the first sweep.
	e.ProcessFrame(testContext(t), personFrame("cam-door", 15, 0.7, at(9, 0, 0)))
	key := frame.TrackKey{CameraID: "cam-door", TrackID: 15}
	_, ok := e.Track(key)
	require.True(t, ok)

	e.StartSweeper(testContext(t))

	require.Eventually(t, func() bool {
		_, ok := e.Track(key)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrentStreams(t *testing.T) {
	t.Parallel()

	e, _, _ := testEngine(t, testSettings(), nil, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			e.ProcessFrame(testContext(t), vehicleFrame("cam-gate", int64(i), 0.4, at(9, 0, i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			e.ProcessFrame(testContext(t), personFrame("cam-door", int64(i), 0.7, at(9, 0, i)))
		}
	}()
	wg.Wait()
	waitDispatch(e)

	stats := e.Stats()
	assert.Equal(t, uint64(40), stats.FramesProcessed)
	assert.Equal(t, 40, stats.Tracks)
}
