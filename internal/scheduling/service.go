package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-scheduling/internal/config"
	"github.com/healthdesk/clinic-scheduling/internal/interval"
	redisclient "github.com/healthdesk/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
)

type Service struct {
	repo     Repository
	resolver *Resolver
	locker   redisclient.Locker
	cfg      config.Config
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config) *Service {
	return &Service{
		repo:     repo,
		resolver: NewResolver(repo),
		locker:   locker,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock replaces the wall clock. Lead-time checks read this instead of
// time.Now so the booking path stays deterministic under test.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// FreeSlots returns the bookable slots for the doctor on the date. A zero
// slotLen falls back to the configured default granularity.
func (s *Service) FreeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, slotLen time.Duration) ([]interval.Interval, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	if slotLen <= 0 {
		slotLen = s.cfg.DefaultSlotLen
	}
	return s.resolver.FreeSlots(ctx, doctorID, date, slotLen)
}

// Book validates and commits a new appointment. Checks run in order and the
// first failure decides the error: lead time, then containment in a free
// gap, then the atomic overlap re-check inside the store write. A lost race
// surfaces as ErrSlotUnavailable, indistinguishable from a stale read.
func (s *Service) Book(ctx context.Context, doctorID, patientID uuid.UUID, start time.Time, duration time.Duration) (*Appointment, error) {
	// Normalize to the engine's canonical zone up front. The instant is
	// unchanged; the date derived below and the stored start must not
	// depend on whatever offset the client sent.
	start = start.UTC()

	requested, err := interval.New(start, start.Add(duration))
	if err != nil {
		return nil, err
	}

	if start.Before(s.now().Add(s.cfg.MinLeadTime)) {
		return nil, fmt.Errorf("%w: start=%s", ErrInvalidTiming, start.Format(time.RFC3339))
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	date := DateOf(start)
	var created *Appointment

	err = s.locker.WithDoctorDayLock(ctx, doctorID, date, func(lockCtx context.Context) error {
		gaps, err := s.resolver.FreeGaps(lockCtx, doctorID, date)
		if err != nil {
			return fmt.Errorf("resolve free gaps: %w", err)
		}

		// Containment, not grid alignment: the requested interval must fit
		// entirely inside one free gap, so irregular durations are bookable.
		if !containedInAny(requested, gaps) {
			return ErrSlotUnavailable
		}

		appt := &Appointment{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			PatientID: patientID,
			Start:     start,
			Duration:  duration,
			Status:    StatusScheduled,
		}

		if err := s.repo.CreateAppointmentIfFree(lockCtx, appt); err != nil {
			return err
		}

		created = appt
		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"doctor_id":  doctorID.String(),
			"patient_id": patientID.String(),
			"start":      start,
			"duration":   duration.String(),
		})
		return nil
	})

	if err != nil {
		// A contended lock means someone else is booking this doctor right
		// now; the caller refreshes and picks again, same as a lost race.
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	return created, nil
}

func containedInAny(requested interval.Interval, gaps []interval.Interval) bool {
	for _, gap := range gaps {
		if gap.Contains(requested) {
			return true
		}
	}
	return false
}

// Cancel moves a scheduled appointment to cancelled, freeing its interval.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, EventAppointmentCancelled)
}

// Complete moves a scheduled appointment to completed. Completed visits are
// immutable afterwards.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, EventAppointmentCompleted)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, event string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Status changed between read and CAS.
			return nil, fmt.Errorf("%w: concurrent status change", ErrInvalidTransition)
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, event, map[string]any{})
	return updated, nil
}

// MarkNoShows flips scheduled appointments whose end passed the grace
// period to no_show. Intended to be called periodically by the worker; the
// booking core itself never computes no-shows.
func (s *Service) MarkNoShows(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.NoShowGrace)
	candidates, err := s.repo.FindNoShowCandidates(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find no-show candidates: %w", err)
	}

	marked := 0
	for _, appt := range candidates {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusNoShow)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue // cancelled or completed under our feet
			}
			log.Printf("failed to mark appointment %s as no_show: %v", appt.ID, err)
			continue
		}
		marked++
		s.logEvent(ctx, appt.ID, EventAppointmentNoShow, map[string]any{
			"reason": "worker",
		})
	}

	return marked, nil
}

// GetAppointment retrieves a single appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// ListAppointmentsByPatient retrieves appointments for a specific patient.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// ListAppointmentsByDoctor retrieves appointments for a specific doctor.
func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListAppointmentsByDoctor(ctx, doctorID, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
