package linecross

import (
	"log/slog"
	"sync"

	"github.com/camwatch/camwatch-go/internal/frame"
	"github.com/camwatch/camwatch-go/internal/logging"
)

// Occupancy is a running headcount mutated only by counted crossings. One
// occupancy may be shared by several counting lines, giving a single
// facility-wide count fed from multiple doors.
type Occupancy struct {
	name string
	log  *slog.Logger

	mu          sync.Mutex
	count       int
	corrections uint64
}

// NewOccupancy creates an occupancy counter starting at zero.
func NewOccupancy(name string) *Occupancy {
	log := logging.ForService("linecross")
	if log == nil {
		log = slog.Default()
	}
	return &Occupancy{name: name, log: log}
}

// Name returns the counter name carried on emitted events.
func (o *Occupancy) Name() string { return o.name }

// Count returns the current occupancy.
func (o *Occupancy) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// Corrections returns how many exits were floored at zero. A nonzero value
// means the upstream detector missed entries.
func (o *Occupancy) Corrections() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.corrections
}

// apply mutates the count for one crossing and returns the new value. An
// exit at zero is floored and logged as a correction; detection noise causes
// these, so they warn rather than error.
func (o *Occupancy) apply(dir Direction, key frame.TrackKey, zone string) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := o.count + dir.Delta()
	if next < 0 {
		o.corrections++
		o.log.Warn("Exit crossing at zero occupancy, count floored",
			"counter", o.name,
			"zone", zone,
			"track", key.String(),
			"corrections", o.corrections)
		next = 0
	}
	o.count = next
	return next
}
