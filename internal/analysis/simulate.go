package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/camwatch/camwatch-go/internal/attendance"
	"github.com/camwatch/camwatch-go/internal/conf"
	"github.com/camwatch/camwatch-go/internal/engine"
	"github.com/camwatch/camwatch-go/internal/facematch"
	"github.com/camwatch/camwatch-go/internal/frame"
	"github.com/camwatch/camwatch-go/internal/linecross"
	"github.com/camwatch/camwatch-go/internal/logging"
	"github.com/camwatch/camwatch-go/internal/plateocr"
)

// scenario is one built-in synthetic run: its own camera layout, canned
// recognition results and a detection stream.
type scenario struct {
	name     string
	describe string
	settings func() *conf.Settings
	faces    map[int64]string // track id -> employee the face service resolves
	plates   map[int64]string // track id -> plate text the OCR service reads
	run      func(ctx context.Context, eng *engine.Engine)
}

func builtinScenarios() []scenario {
	return []scenario{
		doorWalkthrough(),
		gateVisit(),
		lineOscillation(),
		attendanceDay(),
	}
}

// Scenarios returns the built-in scenario names in run order.
func Scenarios() []string {
	list := builtinScenarios()
	names := make([]string, len(list))
	for i := range list {
		names[i] = list[i].name
	}
	return names
}

// Simulate runs the named built-in scenario, or all of them in sequence,
// through self-contained engines with canned recognition services and a
// console sink. Nothing is written to the configured outputs.
func Simulate(settings *conf.Settings) error {
	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	list := builtinScenarios()
	if name := settings.Input.Scenario; name != "" {
		found := false
		for _, sc := range list {
			if sc.name == name {
				list = []scenario{sc}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown scenario %q, available: %s",
				name, strings.Join(Scenarios(), ", "))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i := range list {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("▶ %s: %s\n", list[i].name, list[i].describe)
		if err := runScenario(ctx, &list[i]); err != nil {
			return fmt.Errorf("scenario %s: %w", list[i].name, err)
		}
	}
	return nil
}

// runScenario builds a fresh engine for the scenario, feeds its stream and
// prints the closing counters.
func runScenario(ctx context.Context, sc *scenario) error {
	var faces facematch.Service
	if len(sc.faces) > 0 {
		faces = cannedFaces{byTrack: sc.faces}
	}
	var plates plateocr.Service
	if len(sc.plates) > 0 {
		plates = cannedPlates{byTrack: sc.plates}
	}

	eng, err := engine.New(sc.settings(), faces, plates, nil)
	if err != nil {
		return err
	}
	eng.AddSink(&consoleSink{})

	sc.run(ctx, eng)
	eng.Close()

	stats := eng.Stats()
	fmt.Printf("  -- frames=%d budget=%d/%d cache=%d hits %d misses\n",
		stats.FramesProcessed,
		stats.BudgetGranted, stats.BudgetGranted+stats.BudgetDenied,
		stats.IdentityHits, stats.IdentityMisses)
	return nil
}

// cannedFaces resolves face crops from a fixed track-to-employee table,
// standing in for the recognition backend.
type cannedFaces struct{ byTrack map[int64]string }

func (c cannedFaces) Search(_ context.Context, crop facematch.Crop) (facematch.MatchResult, error) {
	if id, ok := c.byTrack[crop.TrackID]; ok {
		return facematch.MatchResult{ID: id, Confidence: 0.97}, nil
	}
	return facematch.MatchResult{}, nil
}

// cannedPlates reads plate crops from a fixed track-to-plate table.
type cannedPlates struct{ byTrack map[int64]string }

func (c cannedPlates) Read(_ context.Context, crop plateocr.Crop) (plateocr.PlateResult, error) {
	if text, ok := c.byTrack[crop.TrackID]; ok {
		return plateocr.PlateResult{Text: text, Confidence: 0.91, Region: "EU"}, nil
	}
	return plateocr.PlateResult{}, nil
}

// consoleSink prints every event a scenario produces. Events arrive from
// the engine's dispatch goroutines; the mutex keeps lines whole.
type consoleSink struct{ mu sync.Mutex }

var _ engine.Sink = (*consoleSink)(nil)

func (c *consoleSink) Name() string { return "console" }

func (c *consoleSink) OnGateEvent(_ context.Context, ev *engine.GateEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Resolved {
		fmt.Printf("  gate       %s plate %s (%.2f) track %s:%d\n",
			ev.Zone, ev.Plate, ev.Confidence, ev.CameraID, ev.TrackID)
	} else {
		fmt.Printf("  gate       %s no readable plate, track %s:%d\n",
			ev.Zone, ev.CameraID, ev.TrackID)
	}
	return nil
}

func (c *consoleSink) OnCrossing(_ context.Context, ev *linecross.CrossingEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Printf("  crossing   %s %s by track %s:%d, %s=%d\n",
		ev.Zone, ev.Direction, ev.CameraID, ev.TrackID, ev.Counter, ev.OccupancyAfter)
	return nil
}

func (c *consoleSink) OnAttendance(_ context.Context, tr *attendance.Transition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Printf("  attendance %s %s%s\n", tr.Type, tr.EmployeeID, describeTransition(tr))
	return nil
}

func (c *consoleSink) OnOccupancy(_ context.Context, sample *engine.OccupancySample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Printf("  occupancy  %s=%d\n", sample.Counter, sample.Count)
	return nil
}

func describeTransition(tr *attendance.Transition) string {
	var notes []string
	if tr.Suppressed {
		notes = append(notes, "suppressed")
	}
	switch tr.Type {
	case attendance.EventCheckIn:
		if tr.Session.Late {
			notes = append(notes, "late")
		}
	case attendance.EventCheckOut:
		if tr.Session.EarlyExit {
			notes = append(notes, "early exit")
		}
	case attendance.EventDayClose:
		notes = append(notes, "open at day end")
	}
	if len(notes) == 0 {
		return ""
	}
	return " (" + strings.Join(notes, ", ") + ")"
}

// scenarioSettings is the common engine layout scenarios build on: default
// timing, a budget that never defers, a standard day shift.
func scenarioSettings(cams ...conf.CameraConfig) *conf.Settings {
	s := &conf.Settings{}
	s.Main.Name = "camwatch-sim"
	s.Engine = conf.EngineSettings{APIBudget: 100}
	s.Cameras = cams
	s.Attendance.Enabled = true
	s.Attendance.DuplicateWindow = 10 * time.Minute
	s.Attendance.Policy = conf.PolicyDefaults{
		ShiftStart:     "08:00",
		ShiftEnd:       "17:00",
		LateGrace:      5 * time.Minute,
		EarlyExitGrace: 5 * time.Minute,
	}
	return s
}

// step feeds one single-detection frame and yields briefly so async
// recognitions land before the next step, the way frames arrive from a
// live stream.
func step(ctx context.Context, eng *engine.Engine, cameraID string, pts time.Time, d frame.Detection) {
	eng.ProcessFrame(ctx, &frame.Frame{CameraID: cameraID, PTS: pts, Detections: []frame.Detection{d}})
	time.Sleep(5 * time.Millisecond)
}

// person builds a person detection whose foot point sits at (x, y).
func person(track int64, x, y float64) frame.Detection {
	return frame.Detection{
		TrackID:    track,
		Class:      frame.ClassPerson,
		Confidence: 0.92,
		Box:        frame.BBox{X1: x - 0.04, Y1: y - 0.30, X2: x + 0.04, Y2: y},
	}
}

// vehicle builds a vehicle detection whose foot point sits at (x, y).
func vehicle(track int64, x, y float64) frame.Detection {
	return frame.Detection{
		TrackID:    track,
		Class:      frame.ClassVehicle,
		Confidence: 0.88,
		Box:        frame.BBox{X1: x - 0.12, Y1: y - 0.22, X2: x + 0.12, Y2: y},
	}
}

// walk feeds one person detection per position, 400ms of stream time apart.
func walk(ctx context.Context, eng *engine.Engine, cameraID string, track int64, at time.Time, xs []float64) {
	for i, x := range xs {
		step(ctx, eng, cameraID, at.Add(time.Duration(i)*400*time.Millisecond), person(track, x, 0.62))
	}
}

func doorWalkthrough() scenario {
	const cam = "door-cam"
	return scenario{
		name:     "door-walkthrough",
		describe: "an employee walks in through the doorway line and back out after the shift",
		settings: func() *conf.Settings {
			return scenarioSettings(conf.CameraConfig{
				ID:   cam,
				Name: "Office door",
				Lines: []conf.CrossingLineConfig{{
					Name:    "doorway",
					A:       conf.Point{X: 0.5, Y: 0.9},
					B:       conf.Point{X: 0.5, Y: 0.1},
					Buffer:  0.05,
					Counter: "office",
				}},
				Attendance: conf.CameraAttendance{Enabled: true, Mode: "crossing", Line: "doorway"},
			})
		},
		faces: map[int64]string{11: "emp-0142"},
		run: func(ctx context.Context, eng *engine.Engine) {
			in := time.Date(2025, 3, 10, 8, 3, 0, 0, time.UTC)
			walk(ctx, eng, cam, 11, in, []float64{0.25, 0.34, 0.43, 0.48, 0.56, 0.66, 0.75})
			out := time.Date(2025, 3, 10, 17, 2, 0, 0, time.UTC)
			walk(ctx, eng, cam, 11, out, []float64{0.75, 0.66, 0.56, 0.43, 0.34, 0.25})
		},
	}
}

func gateVisit() scenario {
	const cam = "gate-cam"
	return scenario{
		name:     "gate-visit",
		describe: "two vehicles stop in the gate apron, one with a readable plate",
		settings: func() *conf.Settings {
			return scenarioSettings(conf.CameraConfig{
				ID:   cam,
				Name: "North gate",
				Gates: []conf.GateZoneConfig{{
					Name:          "north-gate",
					Classes:       []string{"vehicle"},
					MinConfidence: 0.5,
					Band:          &conf.BandZone{Axis: "x", From: 0.35, To: 0.65},
				}},
			})
		},
		plates: map[int64]string{401: "TRK7342"},
		run: func(ctx context.Context, eng *engine.Engine) {
			ts := time.Date(2025, 3, 10, 9, 17, 0, 0, time.UTC)
			for i, x := range []float64{0.15, 0.26, 0.45, 0.52, 0.55, 0.78} {
				step(ctx, eng, cam, ts.Add(time.Duration(i)*400*time.Millisecond), vehicle(401, x, 0.70))
			}
			ts = ts.Add(time.Minute)
			for i, x := range []float64{0.20, 0.40, 0.50, 0.80} {
				step(ctx, eng, cam, ts.Add(time.Duration(i)*400*time.Millisecond), vehicle(402, x, 0.70))
			}
		},
	}
}

func lineOscillation() scenario {
	const cam = "hall-cam"
	return scenario{
		name:     "line-oscillation",
		describe: "detection jitter around the line debounces to one entry and one exit",
		settings: func() *conf.Settings {
			return scenarioSettings(conf.CameraConfig{
				ID:   cam,
				Name: "Hallway",
				Lines: []conf.CrossingLineConfig{{
					Name:    "hall",
					A:       conf.Point{X: 0.5, Y: 0.9},
					B:       conf.Point{X: 0.5, Y: 0.1},
					Buffer:  0.05,
					Counter: "lobby",
				}},
			})
		},
		run: func(ctx context.Context, eng *engine.Engine) {
			ts := time.Date(2025, 3, 10, 12, 40, 0, 0, time.UTC)
			// Four side flips, two of them jitter inside the buffer.
			walk(ctx, eng, cam, 21, ts, []float64{0.30, 0.46, 0.52, 0.48, 0.53, 0.60, 0.75, 0.40})
		},
	}
}

func attendanceDay() scenario {
	const cam = "entrance-cam"
	in := []float64{0.30, 0.42, 0.48, 0.58, 0.70}
	out := []float64{0.70, 0.58, 0.42, 0.30}
	at := func(hour, min int) time.Time {
		return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
	}
	return scenario{
		name:     "attendance-day",
		describe: "a work day: on-time and late check-ins, a duplicate, an early exit, day close",
		settings: func() *conf.Settings {
			return scenarioSettings(conf.CameraConfig{
				ID:   cam,
				Name: "Staff entrance",
				Lines: []conf.CrossingLineConfig{{
					Name:    "entrance",
					A:       conf.Point{X: 0.5, Y: 0.9},
					B:       conf.Point{X: 0.5, Y: 0.1},
					Buffer:  0.05,
					Counter: "office",
				}},
				Attendance: conf.CameraAttendance{Enabled: true, Mode: "crossing", Line: "entrance"},
			})
		},
		faces: map[int64]string{31: "emp-0017", 32: "emp-0023", 33: "emp-0023", 34: "emp-0017"},
		run: func(ctx context.Context, eng *engine.Engine) {
			walk(ctx, eng, cam, 31, at(7, 58), in)
			walk(ctx, eng, cam, 32, at(8, 31), in)
			// The same employee walks in again minutes later on a new track;
			// the duplicate window suppresses the repeat check-in.
			walk(ctx, eng, cam, 33, at(8, 36), in)
			walk(ctx, eng, cam, 34, at(16, 20), out)

			// Let the last crossing's transition land before rolling over.
			time.Sleep(50 * time.Millisecond)
			eng.CloseDay(ctx, "2025-03-10", at(18, 0))
		},
	}
}
