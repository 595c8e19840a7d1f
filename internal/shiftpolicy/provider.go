package shiftpolicy

import (
	"context"
	"sync"
)

// Provider resolves the shift policy for an employee. Implementations must
// be safe for concurrent use.
type Provider interface {
	Policy(ctx context.Context, employeeID string) (ShiftPolicy, error)
}

// Static serves a default policy for everyone, with optional per-employee
// overrides. It is the provider behind plain config-file deployments and the
// fallback when no HR backend is configured.
type Static struct {
	mu        sync.RWMutex
	def       ShiftPolicy
	overrides map[string]ShiftPolicy
}

// NewStatic creates a static provider with the given default policy.
func NewStatic(def ShiftPolicy) *Static {
	return &Static{def: def, overrides: make(map[string]ShiftPolicy)}
}

// Set installs a per-employee override.
func (s *Static) Set(employeeID string, p ShiftPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[employeeID] = p
}

// Policy returns the employee's override or the default. It never fails.
func (s *Static) Policy(_ context.Context, employeeID string) (ShiftPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.overrides[employeeID]; ok {
		return p, nil
	}
	return s.def, nil
}
