package metrics

// Recorder defines a minimal interface for recording operation metrics.
// Components that only need to count operations and observe durations can
// depend on this abstraction instead of a concrete collector, which keeps
// them testable without a registry.
type Recorder interface {
	// RecordOperation records an operation with its outcome status.
	// The operation parameter names what was performed (e.g. "face_search")
	// and status the outcome ("success", "error").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type. The errorType
	// parameter categorizes the error (e.g. "network", "timeout",
	// "validation").
	RecordError(operation, errorType string)
}
