package frame

import (
	"fmt"
	"time"
)

// Class identifies the detector class of a detection.
type Class string

// Detector classes the correlation engine acts on. The upstream detector may
// emit other classes; they pass through the engine untouched.
const (
	ClassPerson       Class = "person"
	ClassFace         Class = "face"
	ClassVehicle      Class = "vehicle"
	ClassLicensePlate Class = "license_plate"
)

// Point is a position in fractional frame coordinates, X and Y in [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is an axis-aligned bounding box in fractional frame coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Centroid returns the geometric center of the box.
func (b BBox) Centroid() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// FootPoint returns the bottom-center of the box, the ground-plane anchor
// used for person and vehicle positions.
func (b BBox) FootPoint() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: b.Y2}
}

// Width returns the horizontal extent of the box.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Valid reports whether the box has positive area and lies within the frame.
func (b BBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2 &&
		b.X1 >= 0 && b.Y1 >= 0 && b.X2 <= 1 && b.Y2 <= 1
}

// Detection is a single detector output for one track on one frame.
type Detection struct {
	TrackID    int64   `json:"track_id"`
	Class      Class   `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"box"`
}

// Frame is one frame worth of detections from a single camera. PTS is the
// frame presentation timestamp assigned by the ingest pipeline.
type Frame struct {
	CameraID   string      `json:"camera_id"`
	PTS        time.Time   `json:"pts"`
	Detections []Detection `json:"detections"`
}

// TrackKey identifies a tracked entity platform-wide. Track IDs are assigned
// per camera by the upstream tracker and recycle after gaps, so the camera ID
// is part of the identity.
type TrackKey struct {
	CameraID string
	TrackID  int64
}

// Key returns the track key for the detection as seen on the given camera.
func (d Detection) Key(cameraID string) TrackKey {
	return TrackKey{CameraID: cameraID, TrackID: d.TrackID}
}

// String renders the key in the canonical "camera:track" form used in logs,
// cache keys and published events.
func (k TrackKey) String() string {
	return fmt.Sprintf("%s:%d", k.CameraID, k.TrackID)
}
