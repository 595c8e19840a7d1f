// model.go defines the persisted event rows.
package datastore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GateEventRecord is one answered gate visit. ID carries the engine's event
// id so a row can be matched against the MQTT stream.
type GateEventRecord struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	CameraID   string `gorm:"type:varchar(64);index:idx_gate_events_camera"`
	TrackID    int64
	Zone       string `gorm:"type:varchar(64);index:idx_gate_events_zone"`
	Resolved   bool
	Plate      string `gorm:"type:varchar(16);index:idx_gate_events_plate"`
	Confidence float64
	Region     string    `gorm:"type:varchar(8)"`
	Timestamp  time.Time `gorm:"index:idx_gate_events_timestamp"`
	CreatedAt  time.Time
}

func (GateEventRecord) TableName() string {
	return "gate_events"
}

// BeforeCreate fills the id for rows inserted outside the engine, such as
// manual corrections.
func (r *GateEventRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// CrossingRecord is one counted line crossing. OccupancyAfter snapshots the
// counter immediately after the crossing applied.
type CrossingRecord struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	CameraID       string `gorm:"type:varchar(64);index:idx_crossings_camera"`
	TrackID        int64
	Zone           string `gorm:"type:varchar(64)"`
	Counter        string `gorm:"type:varchar(64);index:idx_crossings_counter"`
	Direction      string `gorm:"type:varchar(8)"`
	OccupancyAfter int
	Timestamp      time.Time `gorm:"index:idx_crossings_timestamp"`
	CreatedAt      time.Time
}

func (CrossingRecord) TableName() string {
	return "crossings"
}

func (r *CrossingRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// AttendanceRecord is one attendance transition. Session fields are the
// snapshot taken after the transition applied, so the latest row per
// employee and date is the current session state.
type AttendanceRecord struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	Type         string `gorm:"type:varchar(20);index:idx_attendance_type"`
	EmployeeID   string `gorm:"type:varchar(64);index:idx_attendance_employee_date"`
	Date         string `gorm:"type:varchar(10);index:idx_attendance_employee_date;index:idx_attendance_date"`
	Status       string `gorm:"type:varchar(12)"`
	CheckInTime  time.Time
	CheckOutTime time.Time
	Late         bool
	EarlyExit    bool
	Source       string `gorm:"type:varchar(8)"`
	Suppressed   bool
	Timestamp    time.Time `gorm:"index:idx_attendance_timestamp"`
	CreatedAt    time.Time
}

func (AttendanceRecord) TableName() string {
	return "attendance_events"
}

func (r *AttendanceRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// OccupancyRecord is one occupancy sample. Samples are append-only and high
// volume, so they keep an integer key.
type OccupancyRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Counter   string `gorm:"type:varchar(64);index:idx_occupancy_counter"`
	Count     int
	Timestamp time.Time `gorm:"index:idx_occupancy_timestamp"`
}

func (OccupancyRecord) TableName() string {
	return "occupancy_samples"
}
