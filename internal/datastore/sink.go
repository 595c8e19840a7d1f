package datastore

import (
	"context"

	"github.com/camwatch/camwatch-go/internal/attendance"
	"github.com/camwatch/camwatch-go/internal/engine"
	"github.com/camwatch/camwatch-go/internal/linecross"
)

// Sink adapts the store to the engine's event fan-out. Failures are returned
// to the fan-out, which logs them without blocking the other sinks.
type Sink struct {
	store Interface
}

var _ engine.Sink = (*Sink)(nil)

// NewSink wraps an opened store.
func NewSink(store Interface) *Sink {
	return &Sink{store: store}
}

// Name implements engine.Sink.
func (s *Sink) Name() string { return "datastore" }

// OnGateEvent implements engine.Sink.
func (s *Sink) OnGateEvent(ctx context.Context, ev *engine.GateEvent) error {
	return s.store.SaveGateEvent(ctx, &GateEventRecord{
		ID:         ev.ID,
		CameraID:   ev.CameraID,
		TrackID:    ev.TrackID,
		Zone:       ev.Zone,
		Resolved:   ev.Resolved,
		Plate:      ev.Plate,
		Confidence: ev.Confidence,
		Region:     ev.Region,
		Timestamp:  ev.Timestamp,
	})
}

// OnCrossing implements engine.Sink.
func (s *Sink) OnCrossing(ctx context.Context, ev *linecross.CrossingEvent) error {
	return s.store.SaveCrossing(ctx, &CrossingRecord{
		ID:             ev.ID,
		CameraID:       ev.CameraID,
		TrackID:        ev.TrackID,
		Zone:           ev.Zone,
		Counter:        ev.Counter,
		Direction:      ev.Direction.String(),
		OccupancyAfter: ev.OccupancyAfter,
		Timestamp:      ev.Timestamp,
	})
}

// OnAttendance implements engine.Sink.
func (s *Sink) OnAttendance(ctx context.Context, tr *attendance.Transition) error {
	return s.store.SaveAttendance(ctx, &AttendanceRecord{
		ID:           tr.ID,
		Type:         string(tr.Type),
		EmployeeID:   tr.EmployeeID,
		Date:         tr.Session.Date,
		Status:       string(tr.Session.Status),
		CheckInTime:  tr.Session.CheckInTime,
		CheckOutTime: tr.Session.CheckOutTime,
		Late:         tr.Session.Late,
		EarlyExit:    tr.Session.EarlyExit,
		Source:       string(tr.Session.Source),
		Suppressed:   tr.Suppressed,
		Timestamp:    tr.Timestamp,
	})
}

// OnOccupancy implements engine.Sink.
func (s *Sink) OnOccupancy(ctx context.Context, sample *engine.OccupancySample) error {
	return s.store.SaveOccupancy(ctx, &OccupancyRecord{
		Counter:   sample.Counter,
		Count:     sample.Count,
		Timestamp: sample.Timestamp,
	})
}
