package engine

import (
	"time"

	"github.com/camwatch/camwatch-go/internal/frame"
)

// IdentityState is the lifecycle of a face recognition result.
type IdentityState string

const (
	// IdentityPending means a recognition is in flight or deferred; the
	// placeholder keeps later frames from re-dispatching.
	IdentityPending IdentityState = "pending"
	// IdentityResolved means the gallery returned a usable match.
	IdentityResolved IdentityState = "resolved"
	// IdentityUnknown means the search failed or found nobody; retried
	// after a short cooldown.
	IdentityUnknown IdentityState = "unknown"
)

// IdentityResult is the cached outcome of a face search for one track.
type IdentityResult struct {
	State      IdentityState `json:"state"`
	EmployeeID string        `json:"employee_id,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
}

// VisitState is the lifecycle of a gate visit's plate read.
type VisitState string

const (
	VisitPending  VisitState = "pending"
	VisitResolved VisitState = "resolved"
	VisitUnknown  VisitState = "unknown"
)

// VisitResult is the cached outcome of a plate read for one gate visit.
type VisitResult struct {
	State      VisitState `json:"state"`
	Plate      string     `json:"plate,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Region     string     `json:"region,omitempty"`
}

// TrackResult is the per-detection outcome of one processed frame, handed
// back to the caller alongside the events sent to sinks.
type TrackResult struct {
	CameraID   string          `json:"camera_id"`
	TrackID    int64           `json:"track_id"`
	Class      frame.Class     `json:"class"`
	Cached     bool            `json:"cached"`
	Identity   *IdentityResult `json:"identity,omitempty"`
	Visit      *VisitResult    `json:"visit,omitempty"`
	GateStatus string          `json:"gate_status,omitempty"`
}

// GateEvent is emitted when a gate visit's plate read resolves, successfully
// or not.
type GateEvent struct {
	ID         string    `json:"id"`
	CameraID   string    `json:"camera_id"`
	TrackID    int64     `json:"track_id"`
	Zone       string    `json:"zone"`
	Resolved   bool      `json:"resolved"`
	Plate      string    `json:"plate,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Region     string    `json:"region,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// OccupancySample is emitted whenever a crossing moves an occupancy counter.
type OccupancySample struct {
	Counter   string    `json:"counter"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is a point-in-time snapshot of the engine's internals.
type Stats struct {
	Tracks             int            `json:"tracks"`
	IdentityHits       uint64         `json:"identity_hits"`
	IdentityMisses     uint64         `json:"identity_misses"`
	BudgetGranted      uint64         `json:"budget_granted"`
	BudgetDenied       uint64         `json:"budget_denied"`
	IdentityDeferrals  uint64         `json:"identity_deferrals"`
	GateDeferrals      uint64         `json:"gate_deferrals"`
	StaleResults       uint64         `json:"stale_results"`
	FramesProcessed    uint64         `json:"frames_processed"`
	DetectionsDropped  uint64         `json:"detections_dropped"`
	Evictions          uint64         `json:"evictions"`
	OccupancyByCounter map[string]int `json:"occupancy_by_counter,omitempty"`
}

// TrackSnapshot describes one live tracked entity.
type TrackSnapshot struct {
	Key       frame.TrackKey `json:"key"`
	Class     frame.Class    `json:"class"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
	LastBox   frame.BBox     `json:"last_box"`
	History   []frame.Point  `json:"history,omitempty"`
}
