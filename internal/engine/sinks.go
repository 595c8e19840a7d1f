package engine

import (
	"context"
	"log/slog"

	"github.com/camwatch/camwatch-go/internal/attendance"
	"github.com/camwatch/camwatch-go/internal/linecross"
	"github.com/camwatch/camwatch-go/internal/logging"
)

// Sink receives the engine's derived events. Implementations must be safe
// for concurrent use; the engine calls them from multiple camera workers and
// from dispatch goroutines.
type Sink interface {
	Name() string
	OnGateEvent(ctx context.Context, ev *GateEvent) error
	OnCrossing(ctx context.Context, ev *linecross.CrossingEvent) error
	OnAttendance(ctx context.Context, tr *attendance.Transition) error
	OnOccupancy(ctx context.Context, s *OccupancySample) error
}

// Sinks fans events out to every registered sink. A failing sink is logged
// and skipped; event delivery to one sink never depends on another, and sink
// failures never reach frame processing.
type Sinks struct {
	sinks []Sink
	log   *slog.Logger
}

// NewSinks creates a multiplexer over the given sinks.
func NewSinks(sinks ...Sink) *Sinks {
	log := logging.ForService("engine")
	if log == nil {
		log = slog.Default()
	}
	return &Sinks{sinks: sinks, log: log}
}

// Add registers another sink. Not safe to call once events are flowing.
func (s *Sinks) Add(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// Len returns the number of registered sinks.
func (s *Sinks) Len() int { return len(s.sinks) }

func (s *Sinks) OnGateEvent(ctx context.Context, ev *GateEvent) {
	for _, sink := range s.sinks {
		if err := sink.OnGateEvent(ctx, ev); err != nil {
			s.log.Warn("Sink rejected gate event",
				"sink", sink.Name(),
				"zone", ev.Zone,
				"error", err)
		}
	}
}

func (s *Sinks) OnCrossing(ctx context.Context, ev *linecross.CrossingEvent) {
	for _, sink := range s.sinks {
		if err := sink.OnCrossing(ctx, ev); err != nil {
			s.log.Warn("Sink rejected crossing event",
				"sink", sink.Name(),
				"zone", ev.Zone,
				"error", err)
		}
	}
}

func (s *Sinks) OnAttendance(ctx context.Context, tr *attendance.Transition) {
	for _, sink := range s.sinks {
		if err := sink.OnAttendance(ctx, tr); err != nil {
			s.log.Warn("Sink rejected attendance transition",
				"sink", sink.Name(),
				"employee_id", tr.EmployeeID,
				"error", err)
		}
	}
}

func (s *Sinks) OnOccupancy(ctx context.Context, sample *OccupancySample) {
	for _, sink := range s.sinks {
		if err := sink.OnOccupancy(ctx, sample); err != nil {
			s.log.Warn("Sink rejected occupancy sample",
				"sink", sink.Name(),
				"counter", sample.Counter,
				"error", err)
		}
	}
}
