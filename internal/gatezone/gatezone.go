// Package gatezone decides when a tracked object inside a region of interest
// may fire its one expensive action. Each track gets a session on first
// evaluation; the session claims the trigger atomically so a track fires at
// most once no matter how many frames show it inside the zone.
package gatezone

import (
	"sync"
	"time"

	"github.com/camwatch/camwatch-go/internal/frame"
)

// Decision is the outcome of evaluating one detection against a zone.
type Decision int

const (
	// NotInZone means the detection's anchor point lies outside the zone.
	NotInZone Decision = iota
	// AlreadyTriggered means this track already fired during its session.
	AlreadyTriggered
	// Fire means the caller owns the trigger and must dispatch the action.
	Fire
)

// String returns the decision name used in logs and metrics labels.
func (d Decision) String() string {
	switch d {
	case NotInZone:
		return "not_in_zone"
	case AlreadyTriggered:
		return "already_triggered"
	case Fire:
		return "fire"
	default:
		return "unknown"
	}
}

// Zone is a spatial region in fractional frame coordinates.
type Zone interface {
	Contains(p frame.Point) bool
}

// Axis selects the frame axis a Band spans.
type Axis int

const (
	AxisX Axis = iota
	AxisY
)

// Band is a zone covering a fractional band across one frame axis, the
// common shape for driveways and door aprons.
type Band struct {
	Axis Axis
	From float64
	To   float64
}

// Contains reports whether p falls inside the band. Both band edges are
// inclusive.
func (b Band) Contains(p frame.Point) bool {
	v := p.X
	if b.Axis == AxisY {
		v = p.Y
	}
	return v >= b.From && v <= b.To
}

// PolygonZone is a zone bounded by an arbitrary polygon.
type PolygonZone struct {
	Polygon frame.Polygon
}

// Contains reports whether p falls inside the polygon.
func (z PolygonZone) Contains(p frame.Point) bool {
	return z.Polygon.Contains(p)
}

// session is the per-track trigger state. A session exists from the first
// evaluation of the track until the track is removed.
type session struct {
	triggered bool
	firstSeen time.Time
	lastEval  time.Time
}

// Trigger evaluates detections against one zone and owns the per-track
// trigger sessions. Safe for concurrent use.
type Trigger struct {
	name string
	zone Zone

	mu       sync.Mutex
	sessions map[frame.TrackKey]*session
}

// NewTrigger creates a trigger for the given zone. The name appears in
// emitted events and metrics labels.
func NewTrigger(name string, zone Zone) *Trigger {
	return &Trigger{
		name:     name,
		zone:     zone,
		sessions: make(map[frame.TrackKey]*session),
	}
}

// Name returns the zone name the trigger was created with.
func (t *Trigger) Name() string { return t.name }

// Evaluate classifies the detection against the zone and, when the track is
// inside and untriggered, claims the trigger. The zone membership test and
// the claim happen under one lock so two frames of the same track can never
// both see Fire.
//
// The anchor point is the detection's foot point, the bottom-center of the
// box, which tracks the object's ground position.
func (t *Trigger) Evaluate(key frame.TrackKey, box frame.BBox, now time.Time) Decision {
	inZone := t.zone.Contains(box.FootPoint())

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[key]
	if !ok {
		s = &session{firstSeen: now}
		t.sessions[key] = s
	}
	s.lastEval = now

	if !inZone {
		// Leaving the zone does not reset the trigger; a track that wanders
		// out and back in during one session stays claimed.
		return NotInZone
	}
	if s.triggered {
		return AlreadyTriggered
	}
	s.triggered = true
	return Fire
}

// Release un-claims the trigger for the given track. The engine calls this
// when a Fire decision could not be dispatched (the shared API budget was
// exhausted), so the next frame showing the track may fire instead. A Fire
// that was dispatched is never released.
func (t *Trigger) Release(key frame.TrackKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[key]; ok {
		s.triggered = false
	}
}

// RemoveTrack destroys the track's session. Called when the engine evicts
// the track; a new session starts if the same key reappears.
func (t *Trigger) RemoveTrack(key frame.TrackKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, key)
}

// ActiveSessions returns the number of live trigger sessions.
func (t *Trigger) ActiveSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// LastEvaluated returns when the track was last evaluated, used by tests and
// the eviction sweeper to reason about stale sessions.
func (t *Trigger) LastEvaluated(key frame.TrackKey) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[key]; ok {
		return s.lastEval, true
	}
	return time.Time{}, false
}
