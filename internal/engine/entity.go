package engine

import (
	"time"

	"github.com/camwatch/camwatch-go/internal/frame"
)

// entity is the arena record for one tracked object. Fields are guarded by
// the engine's arena mutex except generation, which is immutable after
// creation and read by dispatch goroutines to discard stale results.
type entity struct {
	key        frame.TrackKey
	class      frame.Class
	generation uint64
	firstSeen  time.Time
	lastSeen   time.Time
	lastBox    frame.BBox
	history    positionRing
}

// positionRing keeps the most recent centroid positions in arrival order.
// Zero capacity keeps nothing.
type positionRing struct {
	buf  []frame.Point
	next int
	full bool
}

func newPositionRing(depth int) positionRing {
	if depth <= 0 {
		return positionRing{}
	}
	return positionRing{buf: make([]frame.Point, depth)}
}

func (r *positionRing) push(p frame.Point) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = p
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// snapshot returns the stored positions oldest first.
func (r *positionRing) snapshot() []frame.Point {
	if len(r.buf) == 0 {
		return nil
	}
	if !r.full {
		out := make([]frame.Point, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]frame.Point, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

func (r *positionRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}
