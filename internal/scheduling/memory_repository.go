package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory Repository. It backs the
// package tests and any wiring that wants the engine without Postgres; its
// CreateAppointmentIfFree performs the same check-and-insert the SQL
// transaction does, under one lock.
type MemoryRepository struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	rules        map[uuid.UUID]WeeklyRule
	exceptions   map[uuid.UUID]DateException
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		rules:        make(map[uuid.UUID]WeeklyRule),
		exceptions:   make(map[uuid.UUID]DateException),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

// AddDoctor registers a doctor, generating an ID when absent.
func (m *MemoryRepository) AddDoctor(d Doctor) Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.doctors[d.ID] = d
	return d
}

func (m *MemoryRepository) AddPatient(p Patient) Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.patients[p.ID] = p
	return p
}

func (m *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) GetWeeklyRuleByID(_ context.Context, id uuid.UUID) (*WeeklyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) ListWeeklyRules(_ context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []WeeklyRule
	for _, r := range m.rules {
		if r.DoctorID == doctorID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DayOfWeek != result[j].DayOfWeek {
			return result[i].DayOfWeek < result[j].DayOfWeek
		}
		return result[i].Start < result[j].Start
	})
	return result, nil
}

func (m *MemoryRepository) ListWeeklyRulesForDay(_ context.Context, doctorID uuid.UUID, day time.Weekday) ([]WeeklyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []WeeklyRule
	for _, r := range m.rules {
		if r.DoctorID == doctorID && r.DayOfWeek == day {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Start < result[j].Start
	})
	return result, nil
}

func (m *MemoryRepository) CreateWeeklyRule(_ context.Context, rule *WeeklyRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	m.rules[rule.ID] = *rule
	return nil
}

func (m *MemoryRepository) UpdateWeeklyRule(_ context.Context, rule *WeeklyRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; !ok {
		return ErrRuleNotFound
	}
	rule.UpdatedAt = time.Now()
	m.rules[rule.ID] = *rule
	return nil
}

func (m *MemoryRepository) DeleteWeeklyRule(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MemoryRepository) GetException(_ context.Context, doctorID uuid.UUID, date time.Time) (*DateException, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.exceptions {
		if e.DoctorID == doctorID && e.Date.Equal(date) {
			exc := e
			return &exc, nil
		}
	}
	return nil, ErrExceptionNotFound
}

func (m *MemoryRepository) GetExceptionByID(_ context.Context, id uuid.UUID) (*DateException, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exceptions[id]
	if !ok {
		return nil, ErrExceptionNotFound
	}
	return &e, nil
}

func (m *MemoryRepository) ListExceptions(_ context.Context, doctorID uuid.UUID) ([]DateException, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []DateException
	for _, e := range m.exceptions {
		if e.DoctorID == doctorID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (m *MemoryRepository) UpsertException(_ context.Context, exc *DateException) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	// Replace any existing exception for the same doctor and date.
	for id, e := range m.exceptions {
		if e.DoctorID == exc.DoctorID && e.Date.Equal(exc.Date) {
			exc.ID = id
			exc.CreatedAt = e.CreatedAt
			exc.UpdatedAt = now
			m.exceptions[id] = *exc
			return nil
		}
	}

	exc.CreatedAt = now
	exc.UpdatedAt = now
	m.exceptions[exc.ID] = *exc
	return nil
}

func (m *MemoryRepository) DeleteException(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exceptions[id]; !ok {
		return ErrExceptionNotFound
	}
	delete(m.exceptions, id)
	return nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) ListScheduledBetween(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.DoctorID != doctorID || a.Status != StatusScheduled {
			continue
		}
		if a.Start.Before(to) && a.End().After(from) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Start.Before(result[j].Start)
	})
	return result, nil
}

func (m *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			result = append(result, a)
		}
	}
	return pageAppointments(result, limit, offset), nil
}

func (m *MemoryRepository) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID {
			result = append(result, a)
		}
	}
	return pageAppointments(result, limit, offset), nil
}

func pageAppointments(appts []Appointment, limit, offset int) []Appointment {
	sort.Slice(appts, func(i, j int) bool {
		return appts[i].Start.After(appts[j].Start)
	})
	if offset >= len(appts) {
		return nil
	}
	appts = appts[offset:]
	if limit > 0 && len(appts) > limit {
		appts = appts[:limit]
	}
	return appts
}

func (m *MemoryRepository) CreateAppointmentIfFree(_ context.Context, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.appointments {
		if existing.DoctorID != appt.DoctorID || existing.Status != StatusScheduled {
			continue
		}
		if existing.Interval().Overlaps(appt.Interval()) {
			return ErrSlotUnavailable
		}
	}

	now := time.Now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	m.appointments[appt.ID] = *appt
	return nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryRepository) FindNoShowCandidates(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusScheduled && a.End().Before(cutoff) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}
