// Package ratelimit implements the shared external API budget as a sliding
// window over granted call timestamps. The limiter never blocks or queues;
// callers that are denied try again on a later frame.
package ratelimit

import (
	"sync"
	"time"
)

// Stats reports limiter counters.
type Stats struct {
	Granted  uint64 // allows that were granted
	Denied   uint64 // allows that were denied
	InWindow int    // grants currently occupying the window
}

// Limiter grants at most limit calls per window. A grant occupies its slot
// for exactly one window length from the moment it was granted.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	grants  []time.Time // granted timestamps, oldest first
	nowFunc func() time.Time

	granted uint64
	denied  uint64
}

// New creates a limiter granting at most limit calls per second.
func New(limit int) *Limiter {
	return NewWithClock(limit, time.Second, time.Now)
}

// NewWithClock creates a limiter with an explicit window and time source.
func NewWithClock(limit int, window time.Duration, nowFunc func() time.Time) *Limiter {
	if window <= 0 {
		window = time.Second
	}
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		nowFunc: nowFunc,
	}
}

// Allow reports whether a call may proceed right now. When it returns true
// the call's timestamp is recorded and counts against the budget for one
// window length. Allow never blocks.
func (l *Limiter) Allow() bool {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)

	if len(l.grants) >= l.limit {
		l.denied++
		return false
	}

	l.grants = append(l.grants, now)
	l.granted++
	return true
}

// prune drops grants that have aged out of the window. A grant made exactly
// one window ago no longer occupies a slot. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

// Stats returns a snapshot of the limiter counters.
func (l *Limiter) Stats() Stats {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	return Stats{
		Granted:  l.granted,
		Denied:   l.denied,
		InWindow: len(l.grants),
	}
}
