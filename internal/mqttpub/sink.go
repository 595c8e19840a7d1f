package mqttpub

import (
	"context"
	"encoding/json"

	"github.com/camwatch/camwatch-go/internal/attendance"
	"github.com/camwatch/camwatch-go/internal/engine"
	"github.com/camwatch/camwatch-go/internal/errors"
	"github.com/camwatch/camwatch-go/internal/linecross"
	"github.com/camwatch/camwatch-go/internal/observability/metrics"
)

// Event kind subtopics under the base topic.
const (
	KindGate       = "gate"
	KindCrossing   = "crossing"
	KindAttendance = "attendance"
	KindOccupancy  = "occupancy"
)

// Sink publishes engine events as JSON, one subtopic per event kind. A
// publish failure is returned to the fan-out and the event is dropped; the
// datastore sink remains the durable record.
type Sink struct {
	client    Client
	baseTopic string
	metrics   *metrics.MQTTMetrics
}

var _ engine.Sink = (*Sink)(nil)

// NewSink wraps a connected client. The metrics argument may be nil.
func NewSink(client Client, baseTopic string, m *metrics.MQTTMetrics) *Sink {
	return &Sink{
		client:    client,
		baseTopic: baseTopic,
		metrics:   m,
	}
}

// Name implements engine.Sink.
func (s *Sink) Name() string { return "mqtt" }

// OnGateEvent implements engine.Sink.
func (s *Sink) OnGateEvent(ctx context.Context, ev *engine.GateEvent) error {
	return s.publish(ctx, KindGate, ev)
}

// OnCrossing implements engine.Sink.
func (s *Sink) OnCrossing(ctx context.Context, ev *linecross.CrossingEvent) error {
	return s.publish(ctx, KindCrossing, ev)
}

// OnAttendance implements engine.Sink.
func (s *Sink) OnAttendance(ctx context.Context, tr *attendance.Transition) error {
	return s.publish(ctx, KindAttendance, tr)
}

// OnOccupancy implements engine.Sink.
func (s *Sink) OnOccupancy(ctx context.Context, sample *engine.OccupancySample) error {
	return s.publish(ctx, KindOccupancy, sample)
}

func (s *Sink) publish(ctx context.Context, kind string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Newf("marshaling %s event: %w", kind, err).
			Category(errors.CategoryValidation).
			Component("mqttpub").
			Build()
	}

	if err := s.client.Publish(ctx, s.baseTopic+"/"+kind, string(payload)); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncrementMessagesDelivered(kind)
	}
	return nil
}
