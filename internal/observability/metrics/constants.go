// Package metrics provides the Prometheus collectors for the camwatch
// components.
package metrics

import "time"

// Operation names shared by collectors and the components that record
// against them.
const (
	// OpFaceSearch represents face gallery search requests.
	OpFaceSearch = "face_search"
	// OpPlateRead represents plate OCR read requests.
	OpPlateRead = "plate_read"
	// OpPolicyFetch represents shift policy lookups against the HR backend.
	OpPolicyFetch = "policy_fetch"

	// OpGateEventSave represents gate event inserts.
	OpGateEventSave = "gate_event_save"
	// OpCrossingSave represents crossing event inserts.
	OpCrossingSave = "crossing_save"
	// OpAttendanceSave represents attendance transition inserts.
	OpAttendanceSave = "attendance_save"
	// OpOccupancySave represents occupancy sample inserts.
	OpOccupancySave = "occupancy_save"
	// OpEventQuery represents read queries against the event tables.
	OpEventQuery = "event_query"
)

// Status labels for operation outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ShutdownTimeout is the timeout for graceful shutdown operations.
const ShutdownTimeout = 5 * time.Second
