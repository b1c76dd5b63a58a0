package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthdesk/clinic-scheduling/internal/interval"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, infra("scan doctor", err)
	}

	d.Specialty = specialty
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, infra("scan patient", err)
	}

	p.Email = email
	return &p, nil
}

func scanWeeklyRule(row pgx.Row) (*WeeklyRule, error) {
	var r WeeklyRule
	var day int
	var startMin, endMin int

	err := row.Scan(
		&r.ID,
		&r.DoctorID,
		&day,
		&startMin,
		&endMin,
		&r.Available,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, infra("scan weekly rule", err)
	}

	r.DayOfWeek = time.Weekday(day)
	r.Start = interval.TimeOfDay(startMin)
	r.End = interval.TimeOfDay(endMin)
	return &r, nil
}

func scanException(row pgx.Row) (*DateException, error) {
	var e DateException
	var startMin, endMin *int

	err := row.Scan(
		&e.ID,
		&e.DoctorID,
		&e.Date,
		&e.Available,
		&startMin,
		&endMin,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExceptionNotFound
		}
		return nil, infra("scan exception", err)
	}

	if startMin != nil {
		t := interval.TimeOfDay(*startMin)
		e.Start = &t
	}
	if endMin != nil {
		t := interval.TimeOfDay(*endMin)
		e.End = &t
	}
	return &e, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var durationMin int

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Start,
		&durationMin,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, infra("scan appointment", err)
	}

	a.Duration = time.Duration(durationMin) * time.Minute
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetWeeklyRuleByID(ctx context.Context, id uuid.UUID) (*WeeklyRule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, day_of_week, start_minute, end_minute, available, created_at, updated_at
		FROM weekly_rules
		WHERE id = $1
	`, id)
	return scanWeeklyRule(row)
}

func (r *PgRepository) ListWeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_minute, end_minute, available, created_at, updated_at
		FROM weekly_rules
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_minute
	`, doctorID)
	if err != nil {
		return nil, infra("list weekly rules", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

func (r *PgRepository) ListWeeklyRulesForDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]WeeklyRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_minute, end_minute, available, created_at, updated_at
		FROM weekly_rules
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_minute
	`, doctorID, int(day))
	if err != nil {
		return nil, infra("list weekly rules for day", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

func collectRules(rows pgx.Rows) ([]WeeklyRule, error) {
	var result []WeeklyRule
	for rows.Next() {
		rule, err := scanWeeklyRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("iterate weekly rules", err)
	}
	return result, nil
}

func (r *PgRepository) CreateWeeklyRule(ctx context.Context, rule *WeeklyRule) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO weekly_rules (id, doctor_id, day_of_week, start_minute, end_minute, available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at
	`, rule.ID, rule.DoctorID, int(rule.DayOfWeek), rule.Start.Minutes(), rule.End.Minutes(), rule.Available)

	if err := row.Scan(&rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return infra("insert weekly rule", err)
	}
	return nil
}

func (r *PgRepository) UpdateWeeklyRule(ctx context.Context, rule *WeeklyRule) error {
	row := r.pool.QueryRow(ctx, `
		UPDATE weekly_rules
		SET day_of_week = $2,
		    start_minute = $3,
		    end_minute = $4,
		    available = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, rule.ID, int(rule.DayOfWeek), rule.Start.Minutes(), rule.End.Minutes(), rule.Available)

	if err := row.Scan(&rule.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRuleNotFound
		}
		return infra("update weekly rule", err)
	}
	return nil
}

func (r *PgRepository) DeleteWeeklyRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM weekly_rules WHERE id = $1`, id)
	if err != nil {
		return infra("delete weekly rule", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *PgRepository) GetException(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DateException, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, date, available, start_minute, end_minute, created_at, updated_at
		FROM date_exceptions
		WHERE doctor_id = $1 AND date = $2
	`, doctorID, date)
	return scanException(row)
}

func (r *PgRepository) GetExceptionByID(ctx context.Context, id uuid.UUID) (*DateException, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, date, available, start_minute, end_minute, created_at, updated_at
		FROM date_exceptions
		WHERE id = $1
	`, id)
	return scanException(row)
}

func (r *PgRepository) ListExceptions(ctx context.Context, doctorID uuid.UUID) ([]DateException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, date, available, start_minute, end_minute, created_at, updated_at
		FROM date_exceptions
		WHERE doctor_id = $1
		ORDER BY date
	`, doctorID)
	if err != nil {
		return nil, infra("list exceptions", err)
	}
	defer rows.Close()

	var result []DateException
	for rows.Next() {
		exc, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *exc)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("iterate exceptions", err)
	}
	return result, nil
}

// UpsertException relies on the unique (doctor_id, date) index: a second
// write for the same date replaces the first instead of accumulating.
func (r *PgRepository) UpsertException(ctx context.Context, exc *DateException) error {
	var startMin, endMin *int
	if exc.Start != nil {
		m := exc.Start.Minutes()
		startMin = &m
	}
	if exc.End != nil {
		m := exc.End.Minutes()
		endMin = &m
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO date_exceptions (id, doctor_id, date, available, start_minute, end_minute, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (doctor_id, date) DO UPDATE
		SET available = EXCLUDED.available,
		    start_minute = EXCLUDED.start_minute,
		    end_minute = EXCLUDED.end_minute,
		    updated_at = now()
		RETURNING id, created_at, updated_at
	`, exc.ID, exc.DoctorID, exc.Date, exc.Available, startMin, endMin)

	if err := row.Scan(&exc.ID, &exc.CreatedAt, &exc.UpdatedAt); err != nil {
		return infra("upsert exception", err)
	}
	return nil
}

func (r *PgRepository) DeleteException(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM date_exceptions WHERE id = $1`, id)
	if err != nil {
		return infra("delete exception", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExceptionNotFound
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, patient_id, scheduled_start, duration_minutes, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListScheduledBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, scheduled_start, duration_minutes, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND scheduled_start < $3
		  AND scheduled_start + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_start
	`, doctorID, from, to)
	if err != nil {
		return nil, infra("list scheduled appointments", err)
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, scheduled_start, duration_minutes, status, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_start DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, infra("list appointments by patient", err)
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, scheduled_start, duration_minutes, status, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY scheduled_start DESC
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, infra("list appointments by doctor", err)
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("iterate appointments", err)
	}
	return result, nil
}

// CreateAppointmentIfFree serializes on a per-doctor advisory lock inside
// one transaction, re-checks for overlapping scheduled rows and inserts.
// Two concurrent bookings for overlapping intervals cannot both commit: the
// second holder of the lock sees the first insert and gets
// ErrSlotUnavailable. Nothing is written on any failure path.
func (r *PgRepository) CreateAppointmentIfFree(ctx context.Context, appt *Appointment) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return infra("begin booking tx", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, appt.DoctorID); err != nil {
		return infra("acquire doctor advisory lock", err)
	}

	var conflicts int
	err = tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND scheduled_start < $3
		  AND scheduled_start + make_interval(mins => duration_minutes) > $2
	`, appt.DoctorID, appt.Start, appt.End()).Scan(&conflicts)
	if err != nil {
		return infra("check overlapping appointments", err)
	}
	if conflicts > 0 {
		return ErrSlotUnavailable
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, scheduled_start, duration_minutes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'scheduled', now(), now())
		RETURNING created_at, updated_at
	`, appt.ID, appt.DoctorID, appt.PatientID, appt.Start, int(appt.Duration.Minutes()))

	if err := row.Scan(&appt.CreatedAt, &appt.UpdatedAt); err != nil {
		return infra("insert appointment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return infra("commit booking tx", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, doctor_id, patient_id, scheduled_start, duration_minutes, status, created_at, updated_at
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) FindNoShowCandidates(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, scheduled_start, duration_minutes, status, created_at, updated_at
		FROM appointments
		WHERE status = 'scheduled'
		  AND scheduled_start + make_interval(mins => duration_minutes) < $1
	`, cutoff)
	if err != nil {
		return nil, infra("find no-show candidates", err)
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
