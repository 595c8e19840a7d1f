// Package errors - reporting integration (optional)
package errors

import (
	"sync"
	"sync/atomic"
)

// Reporter is an interface for delivering enhanced errors to an external
// monitoring system. The library ships no implementation; the embedding
// application installs one when it wants error telemetry.
type Reporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// ErrorHook is a function invoked for every enhanced error built while
// reporting is active. Hooks must not block.
type ErrorHook func(*EnhancedError)

var (
	reporterMu     sync.RWMutex
	globalReporter Reporter
	errorHooks     []ErrorHook

	// hasActiveReporting lets Build skip component and category detection
	// entirely when nothing consumes the result.
	hasActiveReporting atomic.Bool
)

// SetReporter sets the global error reporter. Passing nil removes the
// current reporter.
func SetReporter(reporter Reporter) {
	reporterMu.Lock()
	globalReporter = reporter
	updateActiveReporting()
	reporterMu.Unlock()
}

// GetReporter returns the current error reporter, or nil.
func GetReporter() Reporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return globalReporter
}

// AddErrorHook registers a hook invoked for every error built.
func AddErrorHook(hook ErrorHook) {
	if hook == nil {
		return
	}
	reporterMu.Lock()
	errorHooks = append(errorHooks, hook)
	updateActiveReporting()
	reporterMu.Unlock()
}

// ClearErrorHooks removes all registered error hooks.
func ClearErrorHooks() {
	reporterMu.Lock()
	errorHooks = nil
	updateActiveReporting()
	reporterMu.Unlock()
}

// updateActiveReporting recomputes the fast-path flag. Callers hold reporterMu.
func updateActiveReporting() {
	hasActiveReporting.Store(globalReporter != nil || len(errorHooks) > 0)
}

// reportError delivers the error to the registered hooks and reporter.
func reportError(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}

	reporterMu.RLock()
	reporter := globalReporter
	hooks := errorHooks
	reporterMu.RUnlock()

	for _, hook := range hooks {
		hook(ee)
	}

	if reporter != nil && reporter.IsEnabled() && !ee.IsReported() {
		reporter.ReportError(ee)
		ee.MarkReported()
	}
}
