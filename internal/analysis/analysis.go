// Package analysis wires the correlation engine to its service clients and
// event sinks and drives it from recorded or synthetic detection streams.
// The replay and simulate commands are thin wrappers around this package.
package analysis

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/camwatch/camwatch-go/internal/conf"
	"github.com/camwatch/camwatch-go/internal/datastore"
	"github.com/camwatch/camwatch-go/internal/engine"
	"github.com/camwatch/camwatch-go/internal/facematch"
	"github.com/camwatch/camwatch-go/internal/httpclient"
	"github.com/camwatch/camwatch-go/internal/logging"
	"github.com/camwatch/camwatch-go/internal/mqttpub"
	"github.com/camwatch/camwatch-go/internal/observability"
	"github.com/camwatch/camwatch-go/internal/plateocr"
	"github.com/camwatch/camwatch-go/internal/shiftpolicy"
)

// services are the external dependencies of the engine. Nil fields disable
// the corresponding engine behavior.
type services struct {
	faces    facematch.Service
	plates   plateocr.Service
	policies shiftpolicy.Provider

	// http is the shared transport behind the enabled HTTP clients, closed
	// on shutdown. Nil when no HTTP-backed service is enabled.
	http *httpclient.Client
}

// buildServices constructs the service clients the settings enable.
func buildServices(settings *conf.Settings, m *observability.Metrics) (services, error) {
	var svc services

	transport := func() *httpclient.Client {
		if svc.http == nil {
			svc.http = httpclient.New(nil)
		}
		return svc.http
	}

	if fm := settings.Services.FaceMatch; fm.Enabled {
		client, err := facematch.New(facematch.Config{
			Endpoint:       fm.Endpoint,
			APIKey:         fm.APIKey,
			Timeout:        fm.Timeout,
			MinConfidence:  fm.MinConfidence,
			RequestsPerSec: fm.RequestsPerSec,
			MaxRetries:     fm.MaxRetries,
			Debug:          fm.Debug,
		}, transport())
		if err != nil {
			return services{}, err
		}
		client.SetMetrics(m.External)
		svc.faces = client
	}

	if po := settings.Services.PlateOCR; po.Enabled {
		client, err := plateocr.New(plateocr.Config{
			Endpoint:       po.Endpoint,
			APIKey:         po.APIKey,
			Timeout:        po.Timeout,
			MinConfidence:  po.MinConfidence,
			RequestsPerSec: po.RequestsPerSec,
			MaxRetries:     po.MaxRetries,
			Debug:          po.Debug,
		}, transport())
		if err != nil {
			return services{}, err
		}
		client.SetMetrics(m.External)
		svc.plates = client
	}

	// The static provider type needs no provider at all: the engine applies
	// the configured default policy whenever the provider is absent.
	if prov := settings.Attendance.Provider; strings.EqualFold(prov.Type, "http") && prov.Endpoint != "" {
		hp := shiftpolicy.NewHTTP(shiftpolicy.HTTPConfig{
			Endpoint: prov.Endpoint,
			APIKey:   prov.APIKey,
			Timeout:  prov.Timeout,
		}, transport())
		hp.SetMetrics(m.External)
		svc.policies = shiftpolicy.NewCaching(hp, prov.CacheTTL)
	}

	return svc, nil
}

// pipeline is one fully wired engine: service clients, event sinks and
// telemetry, built from settings.
type pipeline struct {
	engine  *engine.Engine
	metrics *observability.Metrics
	svc     services
	store   datastore.Interface
	mqtt    mqttpub.Client
	log     *slog.Logger

	closeLog func() error
	wg       sync.WaitGroup
}

// newPipeline builds the engine with everything the settings enable wired in.
func newPipeline(settings *conf.Settings) (*pipeline, error) {
	log := logging.ForService("analysis")
	if log == nil {
		log = slog.Default()
	}

	var closeLog func() error
	if lc := settings.Main.Log; lc.Enabled && lc.Path != "" {
		level := slog.LevelInfo
		if settings.Debug {
			level = slog.LevelDebug
		}
		fileLog, closer, err := logging.NewFileLogger(lc.Path, "analysis", level)
		if err != nil {
			log.Warn("File log setup failed, keeping console logging", "path", lc.Path, "error", err)
		} else {
			log = fileLog
			closeLog = closer
		}
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(settings, m)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(settings, svc.faces, svc.plates, svc.policies)
	if err != nil {
		return nil, err
	}
	eng.SetMetrics(m.Engine, m.Attendance)

	p := &pipeline{
		engine:   eng,
		metrics:  m,
		svc:      svc,
		log:      log,
		closeLog: closeLog,
	}

	if store := datastore.New(settings, m.Datastore); store != nil {
		if err := store.Open(); err != nil {
			return nil, err
		}
		p.store = store
		eng.AddSink(datastore.NewSink(store))
	}

	if settings.Output.MQTT.Enabled {
		client, err := mqttpub.NewClient(settings, m.MQTT)
		if err != nil {
			p.close()
			return nil, err
		}
		p.mqtt = client
		eng.AddSink(mqttpub.NewSink(client, settings.Output.MQTT.Topic, m.MQTT))
	}

	return p, nil
}

// start brings up the background pieces: the MQTT connection, the telemetry
// endpoint and the eviction sweeper. All of them stop when ctx is canceled.
func (p *pipeline) start(ctx context.Context, settings *conf.Settings) {
	if p.mqtt != nil {
		if err := p.mqtt.Connect(ctx); err != nil {
			// The client reconnects on its own; events published before the
			// connection is up are dropped with an error per publish.
			p.log.Error("MQTT connect failed", "error", err)
		}
	}

	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, p.metrics)
		if err != nil {
			p.log.Error("Telemetry endpoint setup failed", "error", err)
		} else {
			endpoint.Start(ctx, &p.wg)
		}
	}

	p.engine.StartSweeper(ctx)
}

// close shuts down in dependency order: the engine first, so no sink sees a
// write after its backend is gone.
func (p *pipeline) close() {
	p.engine.Close()
	if p.mqtt != nil {
		p.mqtt.Disconnect()
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			p.log.Error("Failed to close datastore", "error", err)
		}
	}
	if p.svc.http != nil {
		p.svc.http.Close()
	}
	p.wg.Wait()
	if p.closeLog != nil {
		_ = p.closeLog()
	}
}
