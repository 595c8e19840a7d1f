package analysis

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/camwatch-go/internal/attendance"
	"github.com/camwatch/camwatch-go/internal/conf"
	"github.com/camwatch/camwatch-go/internal/engine"
	"github.com/camwatch/camwatch-go/internal/facematch"
	"github.com/camwatch/camwatch-go/internal/linecross"
	"github.com/camwatch/camwatch-go/internal/plateocr"
)

// simSink records everything a scenario emits.
type simSink struct {
	mu          sync.Mutex
	gates       []engine.GateEvent
	crossings   []linecross.CrossingEvent
	transitions []attendance.Transition
	samples     []engine.OccupancySample
}

var _ engine.Sink = (*simSink)(nil)

func (s *simSink) Name() string { return "capture" }

func (s *simSink) OnGateEvent(_ context.Context, ev *engine.GateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates = append(s.gates, *ev)
	return nil
}

func (s *simSink) OnCrossing(_ context.Context, ev *linecross.CrossingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crossings = append(s.crossings, *ev)
	return nil
}

func (s *simSink) OnAttendance(_ context.Context, tr *attendance.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, *tr)
	return nil
}

func (s *simSink) OnOccupancy(_ context.Context, sample *engine.OccupancySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, *sample)
	return nil
}

func findScenario(t *testing.T, name string) scenario {
	t.Helper()
	for _, sc := range builtinScenarios() {
		if sc.name == name {
			return sc
		}
	}
	t.Fatalf("no built-in scenario %q", name)
	return scenario{}
}

// runCaptured wires a scenario the way the simulate command does, with a
// capture sink in place of the console.
func runCaptured(t *testing.T, sc scenario) (*engine.Engine, *simSink) {
	t.Helper()

	var faces facematch.Service
	if len(sc.faces) > 0 {
		faces = cannedFaces{byTrack: sc.faces}
	}
	var plates plateocr.Service
	if len(sc.plates) > 0 {
		plates = cannedPlates{byTrack: sc.plates}
	}

	eng, err := engine.New(sc.settings(), faces, plates, nil)
	require.NoError(t, err)
	sink := &simSink{}
	eng.AddSink(sink)

	sc.run(testContext(t), eng)
	eng.Close()
	return eng, sink
}

func TestScenariosOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{
		"door-walkthrough",
		"gate-visit",
		"line-oscillation",
		"attendance-day",
	}, Scenarios())
}

func TestSimulateRejectsUnknownScenario(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Input.Scenario = "warp-core"

	err := Simulate(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scenario")
}

func TestDoorWalkthroughScenario(t *testing.T) {
	t.Parallel()

	_, sink := runCaptured(t, findScenario(t, "door-walkthrough"))

	require.Len(t, sink.crossings, 2)
	assert.Equal(t, linecross.Entry, sink.crossings[0].Direction)
	assert.Equal(t, linecross.Exit, sink.crossings[1].Direction)
	assert.Equal(t, 0, sink.crossings[1].OccupancyAfter)

	require.Len(t, sink.transitions, 2)
	in, out := sink.transitions[0], sink.transitions[1]
	assert.Equal(t, attendance.EventCheckIn, in.Type)
	assert.Equal(t, "emp-0142", in.EmployeeID)
	assert.False(t, in.Session.Late, "08:03 is inside the late grace")
	assert.Equal(t, attendance.EventCheckOut, out.Type)
	assert.False(t, out.Session.EarlyExit, "17:02 is after shift end")
}

func TestGateVisitScenario(t *testing.T) {
	t.Parallel()

	_, sink := runCaptured(t, findScenario(t, "gate-visit"))

	require.Len(t, sink.gates, 2)
	byTrack := make(map[int64]engine.GateEvent, 2)
	for _, ev := range sink.gates {
		byTrack[ev.TrackID] = ev
	}

	truck := byTrack[401]
	assert.True(t, truck.Resolved)
	assert.Equal(t, "TRK7342", truck.Plate)
	assert.Equal(t, "north-gate", truck.Zone)
	assert.InEpsilon(t, 0.91, truck.Confidence, 1e-9)

	unknown := byTrack[402]
	assert.False(t, unknown.Resolved)
	assert.Empty(t, unknown.Plate)
}

func TestLineOscillationScenario(t *testing.T) {
	t.Parallel()

	eng, sink := runCaptured(t, findScenario(t, "line-oscillation"))

	require.Len(t, sink.crossings, 2, "jitter inside the buffer must not count")
	assert.Equal(t, linecross.Entry, sink.crossings[0].Direction)
	assert.Equal(t, linecross.Exit, sink.crossings[1].Direction)

	assert.Empty(t, sink.gates)
	assert.Empty(t, sink.transitions, "no attendance is wired on the hallway camera")
	assert.Equal(t, 0, eng.Stats().OccupancyByCounter["lobby"])
}

func TestAttendanceDayScenario(t *testing.T) {
	t.Parallel()

	eng, sink := runCaptured(t, findScenario(t, "attendance-day"))

	assert.Len(t, sink.crossings, 4)
	assert.Equal(t, 2, eng.Stats().OccupancyByCounter["office"], "one of three entrants left")

	var checkIns, suppressed, checkOuts, dayCloses []attendance.Transition
	for _, tr := range sink.transitions {
		switch {
		case tr.Type == attendance.EventCheckIn && tr.Suppressed:
			suppressed = append(suppressed, tr)
		case tr.Type == attendance.EventCheckIn:
			checkIns = append(checkIns, tr)
		case tr.Type == attendance.EventCheckOut:
			checkOuts = append(checkOuts, tr)
		case tr.Type == attendance.EventDayClose:
			dayCloses = append(dayCloses, tr)
		}
	}

	require.Len(t, checkIns, 2)
	late := map[string]bool{}
	for _, tr := range checkIns {
		late[tr.EmployeeID] = tr.Session.Late
	}
	assert.False(t, late["emp-0017"], "07:58 check-in is on time")
	assert.True(t, late["emp-0023"], "08:31 check-in is past the grace")

	require.Len(t, suppressed, 1, "the repeat walk-in lands inside the duplicate window")
	assert.Equal(t, "emp-0023", suppressed[0].EmployeeID)

	require.Len(t, checkOuts, 1)
	assert.Equal(t, "emp-0017", checkOuts[0].EmployeeID)
	assert.True(t, checkOuts[0].Session.EarlyExit, "16:20 is before the early-exit grace")

	require.Len(t, dayCloses, 1, "only the still-open session rolls over")
	assert.Equal(t, "emp-0023", dayCloses[0].EmployeeID)
}
