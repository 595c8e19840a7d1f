package analysis

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/camwatch-go/internal/conf"
	"github.com/camwatch/camwatch-go/internal/engine"
	"github.com/camwatch/camwatch-go/internal/frame"
)

// replayEngine builds an engine with one counting line and no external
// services, enough to drive replayLog end to end.
func replayEngine(t *testing.T) *engine.Engine {
	t.Helper()

	s := &conf.Settings{}
	s.Engine = conf.EngineSettings{APIBudget: 10}
	s.Cameras = []conf.CameraConfig{{
		ID: "cam-1",
		Lines: []conf.CrossingLineConfig{{
			Name:    "door",
			A:       conf.Point{X: 0.5, Y: 0.9},
			B:       conf.Point{X: 0.5, Y: 0.1},
			Buffer:  0.05,
			Counter: "office",
		}},
	}}

	eng, err := engine.New(s, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func detectionLog(t *testing.T, frames ...frame.Frame) string {
	t.Helper()
	var b strings.Builder
	for _, f := range frames {
		line, err := json.Marshal(f)
		require.NoError(t, err)
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func personAt(track int64, x float64) frame.Detection {
	return frame.Detection{
		TrackID:    track,
		Class:      frame.ClassPerson,
		Confidence: 0.9,
		Box:        frame.BBox{X1: x - 0.04, Y1: 0.32, X2: x + 0.04, Y2: 0.62},
	}
}

func TestReplayLogFeedsFrames(t *testing.T) {
	t.Parallel()

	eng := replayEngine(t)
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	var frames []frame.Frame
	for i, x := range []float64{0.30, 0.40, 0.60} {
		frames = append(frames, frame.Frame{
			CameraID:   "cam-1",
			PTS:        start.Add(time.Duration(i) * time.Second),
			Detections: []frame.Detection{personAt(7, x)},
		})
	}

	res, err := replayLog(testContext(t), eng, strings.NewReader(detectionLog(t, frames...)), 0)
	require.NoError(t, err)

	assert.Equal(t, 3, res.frames)
	assert.Equal(t, 0, res.malformed)
	assert.Equal(t, start.Add(2*time.Second), res.lastPTS)

	eng.Close()
	stats := eng.Stats()
	assert.Equal(t, uint64(3), stats.FramesProcessed)
	assert.Equal(t, 1, stats.OccupancyByCounter["office"], "walk across the line is one entry")
}

func TestReplayLogSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	eng := replayEngine(t)
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	good := detectionLog(t,
		frame.Frame{CameraID: "cam-1", PTS: start, Detections: []frame.Detection{personAt(7, 0.3)}},
		frame.Frame{CameraID: "cam-1", PTS: start.Add(time.Second), Detections: []frame.Detection{personAt(7, 0.4)}},
	)
	lines := strings.SplitAfter(good, "\n")
	log := lines[0] + "not json at all\n" + "\n" + lines[1]

	res, err := replayLog(testContext(t), eng, strings.NewReader(log), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, res.frames, "blank lines are skipped silently")
	assert.Equal(t, 1, res.malformed)
}

func TestReplayLogStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	eng := replayEngine(t)
	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	log := detectionLog(t, frame.Frame{
		CameraID: "cam-1",
		PTS:      time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
	})
	res, err := replayLog(ctx, eng, strings.NewReader(log), 0)
	require.NoError(t, err, "interruption is a clean stop, not an error")
	assert.Zero(t, res.frames)
}

func TestReplayLogPacesByStreamTime(t *testing.T) {
	t.Parallel()

	eng := replayEngine(t)
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	log := detectionLog(t,
		frame.Frame{CameraID: "cam-1", PTS: start},
		frame.Frame{CameraID: "cam-1", PTS: start.Add(400 * time.Millisecond)},
	)

	began := time.Now()
	res, err := replayLog(testContext(t), eng, strings.NewReader(log), 20)
	elapsed := time.Since(began)

	require.NoError(t, err)
	assert.Equal(t, 2, res.frames)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond, "400ms of stream at 20x is 20ms of wall time")
	assert.Less(t, elapsed, 400*time.Millisecond, "pacing must divide by the speed factor")
}

func TestReplayLogRejectsOversizedLines(t *testing.T) {
	t.Parallel()

	eng := replayEngine(t)
	log := strings.Repeat("x", maxLineBytes+1) + "\n"

	_, err := replayLog(testContext(t), eng, strings.NewReader(log), 0)
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}
