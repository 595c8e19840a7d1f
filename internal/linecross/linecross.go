// Package linecross turns per-track positions into directional crossing
// events. A counting line is a directed segment; a track crossing it flips
// its side classification, and the flip polarity gives the direction. A
// hysteresis buffer around the line debounces detection jitter so one
// physical crossing counts exactly once.
package linecross

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camwatch/camwatch-go/internal/frame"
)

// Direction of a counted crossing.
type Direction string

const (
	Entry Direction = "entry"
	Exit  Direction = "exit"
)

// String returns the direction as used in logs, metrics labels and events.
func (d Direction) String() string { return string(d) }

// Delta returns the occupancy change the crossing causes.
func (d Direction) Delta() int {
	if d == Entry {
		return 1
	}
	return -1
}

// CrossingEvent is one counted crossing. OccupancyAfter is the occupancy
// immediately after this event was applied.
type CrossingEvent struct {
	ID             string    `json:"id"`
	CameraID       string    `json:"camera_id"`
	TrackID        int64     `json:"track_id"`
	Zone           string    `json:"zone"`
	Counter        string    `json:"counter"`
	Direction      Direction `json:"direction"`
	OccupancyAfter int       `json:"occupancy_after"`
	Timestamp      time.Time `json:"timestamp"`
}

// Config describes one counting line.
type Config struct {
	// Name identifies the line in events, logs and metrics.
	Name string
	// Line is the directed counting segment. By default a track ending up
	// on the left of the A->B direction counts as an entry.
	Line frame.Line
	// Buffer is the hysteresis distance. After a counted crossing the track
	// must be observed farther than this from the line before it may count
	// again.
	Buffer float64
	// Invert swaps the entry/exit polarity.
	Invert bool
}

// trackState is the per-track debounce state.
type trackState struct {
	side  int  // last nonzero side classification
	armed bool // cleared on a counted crossing, set again beyond the buffer
}

// Counter counts directional crossings of one line. Safe for concurrent use.
type Counter struct {
	name      string
	line      frame.Line
	buffer    float64
	invert    bool
	occupancy *Occupancy

	mu     sync.Mutex
	tracks map[frame.TrackKey]*trackState
}

// NewCounter creates a counter for the given line feeding the given
// occupancy. Several counters may share one occupancy.
func NewCounter(cfg Config, occupancy *Occupancy) *Counter {
	return &Counter{
		name:      cfg.Name,
		line:      cfg.Line,
		buffer:    cfg.Buffer,
		invert:    cfg.Invert,
		occupancy: occupancy,
		tracks:    make(map[frame.TrackKey]*trackState),
	}
}

// Name returns the line name the counter was created with.
func (c *Counter) Name() string { return c.name }

// Update classifies the track's position against the line and reports a
// crossing when the side flips while the track is armed. The occupancy is
// applied under the counter lock, so OccupancyAfter on the returned event is
// exact even with several lines feeding one count.
//
// The first observation of a track establishes its reference side and never
// emits. A position exactly on the line keeps the previous classification.
func (c *Counter) Update(key frame.TrackKey, pos frame.Point, now time.Time) (*CrossingEvent, bool) {
	side := c.line.Side(pos)
	dist := c.line.Distance(pos)

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.tracks[key]
	if !ok {
		// A new track starts armed: its first flip needs no prior
		// beyond-buffer observation.
		c.tracks[key] = &trackState{side: side, armed: true}
		return nil, false
	}

	if dist > c.buffer {
		s.armed = true
	}

	flipped := side != 0 && s.side != 0 && side != s.side
	if side != 0 {
		s.side = side
	}
	if !flipped || !s.armed {
		return nil, false
	}
	s.armed = false

	dir := Exit
	if (side > 0) != c.invert {
		dir = Entry
	}
	after := c.occupancy.apply(dir, key, c.name)

	return &CrossingEvent{
		ID:             uuid.NewString(),
		CameraID:       key.CameraID,
		TrackID:        key.TrackID,
		Zone:           c.name,
		Counter:        c.occupancy.Name(),
		Direction:      dir,
		OccupancyAfter: after,
		Timestamp:      now,
	}, true
}

// RemoveTrack drops the track's debounce state. Called when the engine
// evicts the track.
func (c *Counter) RemoveTrack(key frame.TrackKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tracks, key)
}

// ActiveTracks returns the number of tracks with debounce state.
func (c *Counter) ActiveTracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}
