package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-scheduling/internal/interval"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Occupies reports whether an appointment in this status blocks its
// interval. Completed, cancelled and no-show appointments free up their time.
func (s AppointmentStatus) Occupies() bool {
	return s == StatusScheduled
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WeeklyRule is a recurring open block: on every DayOfWeek the doctor
// accepts appointments between Start and End. A doctor may hold several
// rules per day (split morning/afternoon), but they must not overlap.
type WeeklyRule struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	DayOfWeek time.Weekday
	Start     interval.TimeOfDay
	End       interval.TimeOfDay
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Window anchors the rule to a concrete calendar date.
func (r WeeklyRule) Window(date time.Time) (interval.Interval, error) {
	return interval.Window(date, r.Start, r.End)
}

// DateException overrides the weekly rules for one calendar date.
// Available=false blocks the whole date. Available=true replaces the
// recurring rules with [Start, End), or with the full day when the times
// are omitted. At most one exception exists per doctor and date.
type DateException struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time // midnight, date component only
	Available bool
	Start     *interval.TimeOfDay
	End       *interval.TimeOfDay
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Window returns the replacement working window for the exception's date.
// Only meaningful when Available is true.
func (e DateException) Window() (interval.Interval, error) {
	if e.Start == nil || e.End == nil {
		start := DateOf(e.Date)
		return interval.New(start, start.AddDate(0, 0, 1))
	}
	return interval.Window(e.Date, *e.Start, *e.End)
}

type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Start     time.Time
	Duration  time.Duration
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) End() time.Time {
	return a.Start.Add(a.Duration)
}

func (a Appointment) Interval() interval.Interval {
	return interval.Interval{Start: a.Start, End: a.End()}
}

// DateOf truncates a timestamp to UTC midnight of its calendar date. UTC is
// the engine's canonical zone: client input may carry any offset, but it is
// honored as an instant and normalized here, so exception lookups and rule
// anchoring never drift with the caller's zone. Every stored exception date
// and every date handed to the resolver goes through this.
func DateOf(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
