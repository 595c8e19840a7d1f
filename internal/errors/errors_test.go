package errors

import (
	"fmt"
	"testing"
)

func TestFastPathNoReporting(t *testing.T) {
	// Ensure no reporter or hooks
	SetReporter(nil)
	ClearErrorHooks()

	// Create an error - should use fast path
	err := fmt.Errorf("test error")
	ee := New(err).Build()

	if ee.Err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Err.Error())
	}

	if ee.GetComponent() != "unknown" {
		t.Errorf("Expected component 'unknown' in fast path, got '%s'", ee.GetComponent())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' in fast path, got '%s'", ee.Category)
	}
}

func TestBuilderFieldsPreserved(t *testing.T) {
	SetReporter(nil)
	ClearErrorHooks()

	ee := Newf("lookup failed for %s", "cam-1:17").
		Component("statecache").
		Category(CategoryTrackState).
		Context("cache", "identity").
		Build()

	if ee.GetComponent() != "statecache" {
		t.Errorf("Expected component 'statecache', got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryTrackState {
		t.Errorf("Expected category 'track-state', got '%s'", ee.Category)
	}
	if got := ee.GetContext()["cache"]; got != "identity" {
		t.Errorf("Expected context cache=identity, got %v", got)
	}
}

func TestReporterReceivesBuiltErrors(t *testing.T) {
	var reported *EnhancedError
	SetReporter(&funcReporter{fn: func(ee *EnhancedError) { reported = ee }})
	defer SetReporter(nil)

	ee := New(fmt.Errorf("broker unreachable")).
		Component("mqtt").
		Category(CategoryMQTTConnection).
		Build()

	if reported == nil {
		t.Fatal("Expected reporter to receive the error")
	}
	if reported != ee {
		t.Error("Expected the same enhanced error instance to be reported")
	}
	if !ee.IsReported() {
		t.Error("Expected error to be marked reported")
	}
}

func TestIsCategoryHelpers(t *testing.T) {
	SetReporter(nil)
	ClearErrorHooks()

	notFound := Newf("no shift policy for employee").Category(CategoryNotFound).Build()
	timeout := Newf("face match timed out").Category(CategoryTimeout).Build()

	if !IsNotFound(notFound) {
		t.Error("Expected IsNotFound to match")
	}
	if IsNotFound(timeout) {
		t.Error("Expected IsNotFound to reject timeout error")
	}
	if !IsTimeout(timeout) {
		t.Error("Expected IsTimeout to match")
	}
	if !IsCategory(fmt.Errorf("wrapped: %w", notFound), CategoryNotFound) {
		t.Error("Expected IsCategory to unwrap")
	}
}

func TestCategoryDetectionHeuristics(t *testing.T) {
	tests := []struct {
		msg       string
		component string
		want      ErrorCategory
	}{
		{"operation timeout after 2s", "", CategoryTimeout},
		{"rate limit exceeded", "", CategoryRateLimit},
		{"connection refused", "", CategoryNetwork},
		{"invalid zone geometry", "", CategoryValidation},
		{"employee not found", "", CategoryNotFound},
		{"insert failed", "datastore", CategoryDatabase},
		{"publish rejected", "mqtt", CategoryMQTTPublish},
		{"something odd", "", CategoryGeneric},
	}

	for _, tt := range tests {
		got := detectCategory(fmt.Errorf("%s", tt.msg), tt.component)
		if got != tt.want {
			t.Errorf("detectCategory(%q, %q) = %s, want %s", tt.msg, tt.component, got, tt.want)
		}
	}
}

// funcReporter adapts a function to the Reporter interface for tests.
type funcReporter struct {
	fn func(*EnhancedError)
}

func (r *funcReporter) IsEnabled() bool               { return true }
func (r *funcReporter) ReportError(ee *EnhancedError) { r.fn(ee) }
