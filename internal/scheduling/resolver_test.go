package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-scheduling/internal/interval"
)

// monday is a known Monday used throughout the resolver tests.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func tod(t *testing.T, s string) interval.TimeOfDay {
	t.Helper()
	v, err := interval.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%q): %v", s, err)
	}
	return v
}

func todPtr(t *testing.T, s string) *interval.TimeOfDay {
	t.Helper()
	v := tod(t, s)
	return &v
}

func newTestRepo(t *testing.T) (*MemoryRepository, Doctor, Patient) {
	t.Helper()
	repo := NewMemoryRepository()
	doc := repo.AddDoctor(Doctor{Name: "Dr. Okafor"})
	pat := repo.AddPatient(Patient{Name: "Ada Obi"})
	return repo, doc, pat
}

func addRule(t *testing.T, repo *MemoryRepository, doctorID uuid.UUID, day time.Weekday, start, end string) WeeklyRule {
	t.Helper()
	rule := WeeklyRule{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		DayOfWeek: day,
		Start:     tod(t, start),
		End:       tod(t, end),
		Available: true,
	}
	if err := repo.CreateWeeklyRule(context.Background(), &rule); err != nil {
		t.Fatalf("CreateWeeklyRule: %v", err)
	}
	return rule
}

func addScheduled(t *testing.T, repo *MemoryRepository, doctorID, patientID uuid.UUID, start time.Time, d time.Duration) Appointment {
	t.Helper()
	appt := Appointment{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
		Start:     start,
		Duration:  d,
		Status:    StatusScheduled,
	}
	if err := repo.CreateAppointmentIfFree(context.Background(), &appt); err != nil {
		t.Fatalf("CreateAppointmentIfFree: %v", err)
	}
	return appt
}

func slotStarts(slots []interval.Interval) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Start.Format("15:04")
	}
	return out
}

func TestFreeSlots_FullWorkingDay(t *testing.T) {
	repo, doc, _ := newTestRepo(t)
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}

	// 09:00 through 16:30 inclusive.
	if len(slots) != 16 {
		t.Fatalf("got %d slots %v, want 16", len(slots), slotStarts(slots))
	}
	if got := slots[0].Start.Format("15:04"); got != "09:00" {
		t.Errorf("first slot starts at %s, want 09:00", got)
	}
	if got := slots[15].Start.Format("15:04"); got != "16:30" {
		t.Errorf("last slot starts at %s, want 16:30", got)
	}
}

func TestFreeSlots_OffsetDateInputNormalized(t *testing.T) {
	repo, doc, _ := newTestRepo(t)
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	// Monday afternoon expressed in a +02:00 offset is still Monday in UTC;
	// the resolver must land on the same calendar date and the same
	// UTC-anchored windows as a plain UTC query.
	eet := time.FixedZone("EET", 2*60*60)
	query := time.Date(2026, 3, 2, 14, 0, 0, 0, eet)

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, query, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(slots) != 16 {
		t.Fatalf("got %d slots %v, want 16", len(slots), slotStarts(slots))
	}
	if want := monday.Add(9 * time.Hour); !slots[0].Start.Equal(want) {
		t.Errorf("first slot starts at %s, want %s", slots[0].Start, want)
	}
}

func TestFreeSlots_BookedSlotRemoved(t *testing.T) {
	repo, doc, pat := newTestRepo(t)
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")
	addScheduled(t, repo, doc.ID, pat.ID, monday.Add(10*time.Hour), 30*time.Minute)

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}

	if len(slots) != 15 {
		t.Fatalf("got %d slots %v, want 15", len(slots), slotStarts(slots))
	}
	for _, s := range slots {
		if s.Start.Format("15:04") == "10:00" {
			t.Error("booked 10:00 slot still offered")
		}
	}
}

func TestFreeSlots_BlockedDateException(t *testing.T) {
	repo, doc, _ := newTestRepo(t)
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	exc := DateException{ID: uuid.New(), DoctorID: doc.ID, Date: monday, Available: false}
	if err := repo.UpsertException(context.Background(), &exc); err != nil {
		t.Fatalf("UpsertException: %v", err)
	}

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("blocked date must yield no slots, got %v", slotStarts(slots))
	}
}

func TestFreeSlots_AvailableExceptionReplacesRules(t *testing.T) {
	repo, doc, _ := newTestRepo(t)
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	exc := DateException{
		ID:        uuid.New(),
		DoctorID:  doc.ID,
		Date:      monday,
		Available: true,
		Start:     todPtr(t, "13:00"),
		End:       todPtr(t, "15:00"),
	}
	if err := repo.UpsertException(context.Background(), &exc); err != nil {
		t.Fatalf("UpsertException: %v", err)
	}

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}

	want := []string{"13:00", "13:30", "14:00", "14:30"}
	got := slotStarts(slots)
	if len(got) != len(want) {
		t.Fatalf("got slots %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFreeSlots_NoRulesNoException(t *testing.T) {
	repo, doc, _ := newTestRepo(t)

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("a doctor without rules is not an error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected empty slot list, got %v", slotStarts(slots))
	}
}

func TestFreeSlots_SplitDayRules(t *testing.T) {
	repo, doc, _ := newTestRepo(t)
	addRule(t, repo, doc.ID, time.Monday, "09:00", "12:00")
	addRule(t, repo, doc.ID, time.Monday, "14:00", "16:00")

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, monday, 60*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}

	want := []string{"09:00", "10:00", "11:00", "14:00", "15:00"}
	got := slotStarts(slots)
	if len(got) != len(want) {
		t.Fatalf("got slots %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFreeSlots_UnavailableRuleIgnored(t *testing.T) {
	repo, doc, _ := newTestRepo(t)
	rule := WeeklyRule{
		ID:        uuid.New(),
		DoctorID:  doc.ID,
		DayOfWeek: time.Monday,
		Start:     tod(t, "09:00"),
		End:       tod(t, "17:00"),
		Available: false,
	}
	if err := repo.CreateWeeklyRule(context.Background(), &rule); err != nil {
		t.Fatalf("CreateWeeklyRule: %v", err)
	}

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("unavailable rule produced slots %v", slotStarts(slots))
	}
}

func TestFreeSlots_CancelledAppointmentFreesInterval(t *testing.T) {
	repo, doc, pat := newTestRepo(t)
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")
	appt := addScheduled(t, repo, doc.ID, pat.ID, monday.Add(10*time.Hour), 30*time.Minute)

	if _, err := repo.UpdateAppointmentStatus(context.Background(), appt.ID, StatusScheduled, StatusCancelled); err != nil {
		t.Fatalf("UpdateAppointmentStatus: %v", err)
	}

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(slots) != 16 {
		t.Errorf("cancelled booking should free its slot: got %d slots, want 16", len(slots))
	}
}

func TestFreeSlots_OtherWeekdayRuleDoesNotApply(t *testing.T) {
	repo, doc, _ := newTestRepo(t)
	addRule(t, repo, doc.ID, time.Tuesday, "09:00", "17:00")

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("Tuesday rule applied to a Monday query: %v", slotStarts(slots))
	}
}

func TestFreeSlots_Properties(t *testing.T) {
	repo, doc, pat := newTestRepo(t)
	addRule(t, repo, doc.ID, time.Monday, "09:00", "12:30")
	addRule(t, repo, doc.ID, time.Monday, "13:30", "17:00")
	addScheduled(t, repo, doc.ID, pat.ID, monday.Add(9*time.Hour+45*time.Minute), 45*time.Minute)
	addScheduled(t, repo, doc.ID, pat.ID, monday.Add(15*time.Hour), 30*time.Minute)

	r := NewResolver(repo)
	slots, err := r.FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}

	windows := []interval.Interval{
		{Start: monday.Add(9 * time.Hour), End: monday.Add(12*time.Hour + 30*time.Minute)},
		{Start: monday.Add(13*time.Hour + 30*time.Minute), End: monday.Add(17 * time.Hour)},
	}
	busy, _ := repo.ListScheduledBetween(context.Background(), doc.ID, monday, monday.AddDate(0, 0, 1))

	for i, s := range slots {
		inWindow := false
		for _, w := range windows {
			if w.Contains(s) {
				inWindow = true
			}
		}
		if !inWindow {
			t.Errorf("slot %s lies outside every working window", s)
		}
		for _, b := range busy {
			if s.Overlaps(b.Interval()) {
				t.Errorf("slot %s overlaps scheduled appointment %s", s, b.Interval())
			}
		}
		if i > 0 && slots[i-1].Overlaps(s) {
			t.Errorf("slots %s and %s overlap", slots[i-1], s)
		}
		if i > 0 && s.Start.Before(slots[i-1].Start) {
			t.Errorf("slots out of order at %d", i)
		}
	}

	// Re-resolution with no intervening writes is identical.
	again, err := r.FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("second FreeSlots: %v", err)
	}
	if len(again) != len(slots) {
		t.Fatalf("re-resolution changed slot count: %d vs %d", len(again), len(slots))
	}
	for i := range slots {
		if !slots[i].Start.Equal(again[i].Start) || !slots[i].End.Equal(again[i].End) {
			t.Errorf("re-resolution differs at %d: %s vs %s", i, slots[i], again[i])
		}
	}
}

func TestFreeSlots_FullDayAvailableException(t *testing.T) {
	repo, doc, _ := newTestRepo(t)

	// No weekly rules at all; a whole-day available override opens the date.
	exc := DateException{ID: uuid.New(), DoctorID: doc.ID, Date: monday, Available: true}
	if err := repo.UpsertException(context.Background(), &exc); err != nil {
		t.Fatalf("UpsertException: %v", err)
	}

	slots, err := NewResolver(repo).FreeSlots(context.Background(), doc.ID, monday, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(slots) != 48 {
		t.Errorf("full-day override: got %d slots, want 48", len(slots))
	}
}
