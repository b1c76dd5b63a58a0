package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all store interactions needed by the resolver and the
// booking service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Weekly rules
	GetWeeklyRuleByID(ctx context.Context, id uuid.UUID) (*WeeklyRule, error)
	ListWeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error)
	ListWeeklyRulesForDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]WeeklyRule, error)
	CreateWeeklyRule(ctx context.Context, rule *WeeklyRule) error
	UpdateWeeklyRule(ctx context.Context, rule *WeeklyRule) error
	DeleteWeeklyRule(ctx context.Context, id uuid.UUID) error

	// Date exceptions. Upsert replaces any existing exception for the same
	// doctor and date; duplicates are never silently accumulated.
	GetException(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DateException, error)
	GetExceptionByID(ctx context.Context, id uuid.UUID) (*DateException, error)
	ListExceptions(ctx context.Context, doctorID uuid.UUID) ([]DateException, error)
	UpsertException(ctx context.Context, exc *DateException) error
	DeleteException(ctx context.Context, id uuid.UUID) error

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListScheduledBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)

	// CreateAppointmentIfFree atomically re-checks that no scheduled
	// appointment for the doctor overlaps appt's interval and inserts it.
	// Returns ErrSlotUnavailable when the check fails; on any error nothing
	// is written.
	CreateAppointmentIfFree(ctx context.Context, appt *Appointment) error

	// UpdateAppointmentStatus performs a compare-and-swap on status.
	// Returns ErrAppointmentNotFound when no row matches id+from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// FindNoShowCandidates lists scheduled appointments whose end passed
	// before the cutoff. Consumed by the no-show worker.
	FindNoShowCandidates(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
