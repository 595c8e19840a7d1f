// Package attendance implements the per-employee, per-day attendance state
// machine: NO_RECORD -> CHECKED_IN -> CHECKED_OUT, with late and early-exit
// classification against a shift policy, duplicate suppression for repeated
// detections, a manual override path for HR corrections, and day rollover.
package attendance

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camwatch/camwatch-go/internal/errors"
	"github.com/camwatch/camwatch-go/internal/logging"
	"github.com/camwatch/camwatch-go/internal/shiftpolicy"
)

// Status of an attendance session.
type Status string

const (
	StatusNoRecord   Status = "no_record"
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
)

// Source records how a session reached its current state.
type Source string

const (
	// SourceAuto marks sessions driven by the correlation engine.
	SourceAuto Source = "auto"
	// SourceManual marks sessions corrected by an HR override.
	SourceManual Source = "manual"
)

// EventType names the transition on an emitted record.
type EventType string

const (
	EventCheckIn        EventType = "check_in"
	EventCheckOut       EventType = "check_out"
	EventOrphanCheckout EventType = "orphan_checkout"
	EventOverride       EventType = "override"
	EventDayClose       EventType = "day_close"
)

// Sentinel errors for state violations. Both are wrapped in enhanced errors
// with employee context; match with errors.Is.
var (
	// ErrOrphanCheckout reports a checkout with no prior check-in. It is
	// surfaced for explicit handling, never swallowed.
	ErrOrphanCheckout = errors.NewStd("checkout without prior check-in")

	// ErrSessionClosed reports a transition attempted on a session that is
	// already checked out for the day.
	ErrSessionClosed = errors.NewStd("attendance session already closed")
)

// Session is the attendance record for one employee on one date. Date is the
// local calendar date of the driving timestamps, formatted 2006-01-02.
type Session struct {
	EmployeeID   string    `json:"employee_id"`
	Date         string    `json:"date"`
	Status       Status    `json:"status"`
	CheckInTime  time.Time `json:"check_in_time,omitzero"`
	CheckOutTime time.Time `json:"check_out_time,omitzero"`
	Late         bool      `json:"late"`
	EarlyExit    bool      `json:"early_exit"`
	Source       Source    `json:"source"`
}

// Transition is one emitted state change. Session is a snapshot taken after
// the transition applied.
type Transition struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	EmployeeID string    `json:"employee_id"`
	Session    Session   `json:"session"`
	Suppressed bool      `json:"suppressed,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config for the tracker.
type Config struct {
	// DuplicateWindow suppresses repeated check-ins (and checkouts) closer
	// together than this. Zero disables suppression.
	DuplicateWindow time.Duration
}

type sessionKey struct {
	employeeID string
	date       string
}

// Tracker owns the attendance sessions. Safe for concurrent use.
type Tracker struct {
	window time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

// New creates a tracker.
func New(cfg Config) *Tracker {
	log := logging.ForService("attendance")
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		window:   cfg.DuplicateWindow,
		log:      log,
		sessions: make(map[sessionKey]*Session),
	}
}

// dateOf is the session date for a timestamp, in the timestamp's location.
func dateOf(ts time.Time) string {
	return ts.Format("2006-01-02")
}

// withinWindow reports whether two timestamps fall inside the duplicate
// suppression window, regardless of order.
func (t *Tracker) withinWindow(a, b time.Time) bool {
	if t.window <= 0 {
		return false
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < t.window
}

func (t *Tracker) transition(typ EventType, s *Session, suppressed bool, ts time.Time) Transition {
	return Transition{
		ID:         uuid.NewString(),
		Type:       typ,
		EmployeeID: s.EmployeeID,
		Session:    *s,
		Suppressed: suppressed,
		Timestamp:  ts,
	}
}

// CheckIn records a check-in at ts classified against the policy. A repeat
// within the duplicate window is a no-op returning the existing session with
// Suppressed set. A later repeat overwrites the check-in time and
// reclassifies. A check-in after checkout fails with ErrSessionClosed.
func (t *Tracker) CheckIn(employeeID string, policy shiftpolicy.ShiftPolicy, ts time.Time) (Transition, error) {
	key := sessionKey{employeeID: employeeID, date: dateOf(ts)}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[key]
	if ok {
		if s.Source == SourceManual {
			// A manually corrected session is owned by HR for the day;
			// detections must not overwrite it.
			return t.transition(EventCheckIn, s, true, ts), nil
		}
		switch s.Status {
		case StatusCheckedOut:
			return Transition{}, errors.New(fmt.Errorf("%w: employee %s on %s", ErrSessionClosed, employeeID, key.date)).
				Category(errors.CategoryAttendance).
				Component("attendance").
				Context("employee_id", employeeID).
				Context("date", key.date).
				Build()
		case StatusCheckedIn:
			if t.withinWindow(ts, s.CheckInTime) {
				t.log.Debug("Duplicate check-in suppressed",
					"employee_id", employeeID,
					"existing", s.CheckInTime,
					"duplicate", ts)
				return t.transition(EventCheckIn, s, true, ts), nil
			}
			// A repeat beyond the window overwrites, per the idempotent
			// create-or-overwrite contract.
		}
	} else {
		s = &Session{
			EmployeeID: employeeID,
			Date:       key.date,
			Source:     SourceAuto,
		}
		t.sessions[key] = s
	}

	s.Status = StatusCheckedIn
	s.CheckInTime = ts
	s.Late = policy.IsLate(ts)

	t.log.Info("Employee checked in",
		"employee_id", employeeID,
		"date", key.date,
		"late", s.Late)
	return t.transition(EventCheckIn, s, false, ts), nil
}

// CheckOut records a checkout at ts classified against the policy. A
// checkout with no prior check-in returns an orphan transition together with
// ErrOrphanCheckout so the caller can both flag and forward it. A repeated
// checkout inside the duplicate window is suppressed; beyond it the session
// counts as closed.
func (t *Tracker) CheckOut(employeeID string, policy shiftpolicy.ShiftPolicy, ts time.Time) (Transition, error) {
	key := sessionKey{employeeID: employeeID, date: dateOf(ts)}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[key]
	if ok && s.Source == SourceManual {
		return t.transition(EventCheckOut, s, true, ts), nil
	}
	if !ok || s.Status != StatusCheckedIn {
		if ok && s.Status == StatusCheckedOut {
			if t.withinWindow(ts, s.CheckOutTime) {
				return t.transition(EventCheckOut, s, true, ts), nil
			}
			return Transition{}, errors.New(fmt.Errorf("%w: employee %s on %s", ErrSessionClosed, employeeID, key.date)).
				Category(errors.CategoryAttendance).
				Component("attendance").
				Context("employee_id", employeeID).
				Context("date", key.date).
				Build()
		}

		orphan := Session{
			EmployeeID: employeeID,
			Date:       key.date,
			Status:     StatusNoRecord,
			Source:     SourceAuto,
		}
		t.log.Warn("Orphan checkout, no prior check-in",
			"employee_id", employeeID,
			"date", key.date,
			"timestamp", ts)
		return t.transition(EventOrphanCheckout, &orphan, false, ts),
			errors.New(fmt.Errorf("%w: employee %s on %s", ErrOrphanCheckout, employeeID, key.date)).
				Category(errors.CategoryAttendance).
				Component("attendance").
				Context("employee_id", employeeID).
				Context("date", key.date).
				Build()
	}

	s.Status = StatusCheckedOut
	s.CheckOutTime = ts
	s.EarlyExit = policy.IsEarlyExit(ts)

	t.log.Info("Employee checked out",
		"employee_id", employeeID,
		"date", key.date,
		"early_exit", s.EarlyExit)
	return t.transition(EventCheckOut, s, false, ts), nil
}

// OverrideRequest is a manual HR correction. The stated fields replace the
// session wholesale; no classification is derived.
type OverrideRequest struct {
	EmployeeID   string
	Date         string // 2006-01-02
	Status       Status
	CheckInTime  time.Time
	CheckOutTime time.Time
	Late         bool
	EarlyExit    bool
}

// Override applies a manual correction, creating the session if needed. The
// session is marked SourceManual so corrected records are never mistaken for
// derived ones.
func (t *Tracker) Override(req OverrideRequest, ts time.Time) (Transition, error) {
	switch req.Status {
	case StatusNoRecord, StatusCheckedIn, StatusCheckedOut:
	default:
		return Transition{}, errors.Newf("invalid override status %q", req.Status).
			Category(errors.CategoryValidation).
			Component("attendance").
			Build()
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return Transition{}, errors.Newf("invalid override date %q", req.Date).
			Category(errors.CategoryValidation).
			Component("attendance").
			Build()
	}

	key := sessionKey{employeeID: req.EmployeeID, date: req.Date}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[key]
	if !ok {
		s = &Session{EmployeeID: req.EmployeeID, Date: req.Date}
		t.sessions[key] = s
	}

	s.Status = req.Status
	s.CheckInTime = req.CheckInTime
	s.CheckOutTime = req.CheckOutTime
	s.Late = req.Late
	s.EarlyExit = req.EarlyExit
	s.Source = SourceManual

	t.log.Info("Attendance override applied",
		"employee_id", req.EmployeeID,
		"date", req.Date,
		"status", req.Status)
	return t.transition(EventOverride, s, false, ts), nil
}

// CloseDay closes every still-open session for the given date and drops the
// date's sessions from memory. Scheduling is the caller's concern; the
// tracker only exposes the operation.
func (t *Tracker) CloseDay(date string, ts time.Time) []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	var closed []Transition
	for key, s := range t.sessions {
		if key.date != date {
			continue
		}
		if s.Status == StatusCheckedIn {
			s.Status = StatusCheckedOut
			closed = append(closed, t.transition(EventDayClose, s, false, ts))
			t.log.Info("Session closed by day rollover",
				"employee_id", s.EmployeeID,
				"date", date)
		}
		delete(t.sessions, key)
	}
	return closed
}

// Session returns a copy of the session for (employeeID, date).
func (t *Tracker) Session(employeeID, date string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[sessionKey{employeeID: employeeID, date: date}]; ok {
		return *s, true
	}
	return Session{}, false
}

// OpenSessions returns the number of sessions currently held.
func (t *Tracker) OpenSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
