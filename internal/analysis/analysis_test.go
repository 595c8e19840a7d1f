package analysis

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/camwatch-go/internal/conf"
)

// pipelineSettings enables nothing beyond one camera: no external services,
// no sinks, no telemetry.
func pipelineSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Main.Name = "camwatch-test"
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
	return s
}

func TestNewPipelineWithNothingEnabled(t *testing.T) {
	t.Parallel()

	p, err := newPipeline(pipelineSettings())
	require.NoError(t, err)
	t.Cleanup(p.close)

	assert.Nil(t, p.store)
	assert.Nil(t, p.mqtt)
	assert.Nil(t, p.svc.faces, "disabled service must stay a nil interface")
	assert.Nil(t, p.svc.plates)
	assert.Nil(t, p.svc.policies)
	assert.Nil(t, p.svc.http)
	assert.Nil(t, p.closeLog)
	require.NotNil(t, p.log)
}

func TestNewPipelineBuildsEnabledServices(t *testing.T) {
	t.Parallel()

	s := pipelineSettings()
	s.Services.FaceMatch = conf.RecognizerSettings{
		Enabled:        true,
		Endpoint:       "http://127.0.0.1:9/v1/match",
		Timeout:        time.Second,
		MinConfidence:  0.8,
		RequestsPerSec: 5,
		MaxRetries:     1,
	}
	s.Services.PlateOCR = conf.RecognizerSettings{
		Enabled:        true,
		Endpoint:       "http://127.0.0.1:9/v1/plate",
		Timeout:        time.Second,
		MinConfidence:  0.6,
		RequestsPerSec: 5,
		MaxRetries:     1,
	}
	s.Attendance.Provider = conf.PolicyProviderSettings{
		Type:     "http",
		Endpoint: "http://127.0.0.1:9/v1/shifts",
		Timeout:  time.Second,
		CacheTTL: time.Minute,
	}

	p, err := newPipeline(s)
	require.NoError(t, err)
	t.Cleanup(p.close)

	assert.NotNil(t, p.svc.faces)
	assert.NotNil(t, p.svc.plates)
	assert.NotNil(t, p.svc.policies)
	assert.NotNil(t, p.svc.http, "enabled clients share one transport")
}

func TestPipelineFileLogging(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "camwatch.log")
	s := pipelineSettings()
	s.Main.Log = conf.LogConfig{
		Enabled:  true,
		Path:     logPath,
		Rotation: conf.RotationSize,
		MaxSize:  10 * 1024 * 1024,
	}

	p, err := newPipeline(s)
	require.NoError(t, err)
	t.Cleanup(p.close)
	require.NotNil(t, p.closeLog, "enabled file log must install a closer")

	p.log.Info("pipeline up", "node", s.Main.Name)
	p.close()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var found map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "pipeline up" {
			found = entry
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "analysis", found["service"])
	assert.Equal(t, "camwatch-test", found["node"])
}
