// Package shiftpolicy resolves the shift schedule an employee is measured
// against: shift start and end as wall-clock times plus the grace periods
// used to classify late check-ins and early checkouts. Policies come from
// static configuration or an HR backend, optionally behind a TTL cache.
package shiftpolicy

import (
	"fmt"
	"time"

	"github.com/camwatch/camwatch-go/internal/errors"
)

// TimeOfDay is a wall-clock time without a date, stored as the offset from
// midnight. Comparisons are on the clock face, so a timestamp's date never
// matters for shift classification.
type TimeOfDay time.Duration

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if tt, err := time.Parse(layout, s); err == nil {
			h, m, sec := tt.Clock()
			return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second), nil
		}
	}
	return 0, errors.Newf("invalid time of day %q, want HH:MM or HH:MM:SS", s).
		Category(errors.CategoryValidation).
		Component("shiftpolicy").
		Build()
}

// MustTimeOfDay is ParseTimeOfDay that panics on error, for literals.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayOf extracts the clock time of ts in its own location.
func TimeOfDayOf(ts time.Time) TimeOfDay {
	h, m, s := ts.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(ts.Nanosecond()))
}

// Add shifts the time of day by d. The result is not normalized; a deadline
// past midnight simply never matches an earlier clock time, which is the
// sane degenerate behavior for overnight-adjacent configs.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d)
}

// Before reports whether t is earlier on the clock than u.
func (t TimeOfDay) Before(u TimeOfDay) bool { return t < u }

// String renders the time as HH:MM:SS.
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// ShiftPolicy is one employee's shift schedule.
type ShiftPolicy struct {
	Start          TimeOfDay     `json:"start"`
	End            TimeOfDay     `json:"end"`
	LateGrace      time.Duration `json:"late_grace"`
	EarlyExitGrace time.Duration `json:"early_exit_grace"`
}

// GraceDeadline is the last clock instant still counted as on time.
// Checking in at or after the deadline is late.
func (p ShiftPolicy) GraceDeadline() TimeOfDay {
	return p.Start.Add(p.LateGrace)
}

// EarlyExitThreshold is the clock time before which a checkout counts as an
// early exit.
func (p ShiftPolicy) EarlyExitThreshold() TimeOfDay {
	return p.End.Add(-p.EarlyExitGrace)
}

// IsLate classifies a check-in timestamp. The boundary is inclusive on the
// late side: checking in exactly at start+grace is late.
func (p ShiftPolicy) IsLate(ts time.Time) bool {
	return !TimeOfDayOf(ts).Before(p.GraceDeadline())
}

// IsEarlyExit classifies a checkout timestamp. Strictly before end−grace is
// early; exactly at the threshold is not.
func (p ShiftPolicy) IsEarlyExit(ts time.Time) bool {
	return TimeOfDayOf(ts).Before(p.EarlyExitThreshold())
}
