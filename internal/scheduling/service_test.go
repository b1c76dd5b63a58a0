package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-scheduling/internal/config"
	"github.com/healthdesk/clinic-scheduling/internal/interval"
)

// passLocker hands the critical section straight through. The memory
// repository's own mutex is then the only guard, which is exactly what the
// double-booking tests want to exercise.
type passLocker struct{}

func (passLocker) WithDoctorDayLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// testNow is the frozen wall clock: the Sunday before the test Monday.
var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, cfg config.Config) (*Service, *MemoryRepository, Doctor, Patient) {
	t.Helper()
	repo, doc, pat := newTestRepo(t)
	if cfg.DefaultSlotLen == 0 {
		cfg.DefaultSlotLen = 30 * time.Minute
	}
	svc := NewService(repo, passLocker{}, cfg).WithClock(func() time.Time { return testNow })
	return svc, repo, doc, pat
}

func TestBook_Success(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	start := monday.Add(10 * time.Hour)
	appt, err := svc.Book(context.Background(), doc.ID, pat.ID, start, 30*time.Minute)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	if appt.Status != StatusScheduled {
		t.Errorf("status = %s, want scheduled", appt.Status)
	}
	if !appt.Start.Equal(start) || appt.Duration != 30*time.Minute {
		t.Errorf("persisted interval %s+%s differs from request", appt.Start, appt.Duration)
	}

	stored, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("appointment not persisted: %v", err)
	}
	if stored.PatientID != pat.ID || stored.DoctorID != doc.ID {
		t.Error("persisted appointment references wrong parties")
	}
}

func TestBook_PastRequestFailsWithInvalidTiming(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	yesterday := testNow.AddDate(0, 0, -1)
	_, err := svc.Book(context.Background(), doc.ID, pat.ID, yesterday, 30*time.Minute)
	if !errors.Is(err, ErrInvalidTiming) {
		t.Fatalf("got %v, want ErrInvalidTiming", err)
	}

	// No partial write.
	appts, _ := repo.ListAppointmentsByPatient(context.Background(), pat.ID, 10, 0)
	if len(appts) != 0 {
		t.Errorf("appointment created despite validation failure")
	}
}

func TestBook_MinLeadTimeEnforced(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{MinLeadTime: 48 * time.Hour})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	// The Monday morning is ~21h away, inside the 48h lead window.
	_, err := svc.Book(context.Background(), doc.ID, pat.ID, monday.Add(9*time.Hour), 30*time.Minute)
	if !errors.Is(err, ErrInvalidTiming) {
		t.Fatalf("got %v, want ErrInvalidTiming", err)
	}
}

func TestBook_ZeroDurationRejected(t *testing.T) {
	svc, _, doc, pat := newTestService(t, config.Config{})
	_, err := svc.Book(context.Background(), doc.ID, pat.ID, monday.Add(10*time.Hour), 0)
	if !errors.Is(err, interval.ErrInvalidInterval) {
		t.Fatalf("got %v, want ErrInvalidInterval", err)
	}
}

func TestBook_OutsideWorkingHours(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	_, err := svc.Book(context.Background(), doc.ID, pat.ID, monday.Add(18*time.Hour), 30*time.Minute)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("got %v, want ErrSlotUnavailable", err)
	}
}

func TestBook_SpillingPastWindowEnd(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	// 16:45 + 30m spills past 17:00.
	_, err := svc.Book(context.Background(), doc.ID, pat.ID, monday.Add(16*time.Hour+45*time.Minute), 30*time.Minute)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("got %v, want ErrSlotUnavailable", err)
	}
}

func TestBook_ConflictingAppointment(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")
	addScheduled(t, repo, doc.ID, pat.ID, monday.Add(10*time.Hour), 30*time.Minute)

	// Partial overlap with the existing 10:00-10:30 booking.
	_, err := svc.Book(context.Background(), doc.ID, pat.ID, monday.Add(10*time.Hour+15*time.Minute), 30*time.Minute)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("got %v, want ErrSlotUnavailable", err)
	}
}

func TestBook_IrregularDurationContainedInGap(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	// 45 minutes starting off the half-hour grid: containment policy, not
	// grid alignment, so this books fine.
	appt, err := svc.Book(context.Background(), doc.ID, pat.ID, monday.Add(9*time.Hour+10*time.Minute), 45*time.Minute)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if appt.Duration != 45*time.Minute {
		t.Errorf("duration = %s, want 45m", appt.Duration)
	}
}

func TestBook_BlockedDate(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	exc := DateException{ID: uuid.New(), DoctorID: doc.ID, Date: monday, Available: false}
	if err := repo.UpsertException(context.Background(), &exc); err != nil {
		t.Fatalf("UpsertException: %v", err)
	}

	_, err := svc.Book(context.Background(), doc.ID, pat.ID, monday.Add(10*time.Hour), 30*time.Minute)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("got %v, want ErrSlotUnavailable", err)
	}
}

func TestBook_OffsetTimestampHonorsBlockedDate(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	if _, err := svc.PutException(context.Background(), doc.ID, monday, false, nil, nil); err != nil {
		t.Fatalf("PutException: %v", err)
	}

	// 12:00+02:00 is 10:00 UTC on the blocked Monday. The offset must not
	// dodge the exception lookup.
	eet := time.FixedZone("EET", 2*60*60)
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, eet)
	_, err := svc.Book(context.Background(), doc.ID, pat.ID, start, 30*time.Minute)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("got %v, want ErrSlotUnavailable", err)
	}

	appts, _ := repo.ListAppointmentsByDoctor(context.Background(), doc.ID, 10, 0)
	if len(appts) != 0 {
		t.Errorf("appointment created on a blocked date")
	}
}

func TestBook_OffsetTimestampNormalizedToUTC(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	eet := time.FixedZone("EET", 2*60*60)
	appt, err := svc.Book(context.Background(), doc.ID, pat.ID, time.Date(2026, 3, 2, 12, 0, 0, 0, eet), 30*time.Minute)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	if want := monday.Add(10 * time.Hour); !appt.Start.Equal(want) {
		t.Errorf("start = %s, want instant %s", appt.Start, want)
	}
	if appt.Start.Location() != time.UTC {
		t.Errorf("stored start carries location %s, want UTC", appt.Start.Location())
	}

	// The same instant written in UTC is now occupied.
	pat2 := repo.AddPatient(Patient{Name: "Chidi Eze"})
	_, err = svc.Book(context.Background(), doc.ID, pat2.ID, monday.Add(10*time.Hour), 30*time.Minute)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("got %v, want ErrSlotUnavailable for the equivalent UTC instant", err)
	}
}

func TestBook_UnknownParties(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")
	start := monday.Add(10 * time.Hour)

	if _, err := svc.Book(context.Background(), uuid.New(), pat.ID, start, 30*time.Minute); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("unknown doctor: got %v, want ErrDoctorNotFound", err)
	}
	if _, err := svc.Book(context.Background(), doc.ID, uuid.New(), start, 30*time.Minute); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("unknown patient: got %v, want ErrPatientNotFound", err)
	}
}

func TestBook_ConcurrentRequestsOnlyOneWins(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	pat2 := repo.AddPatient(Patient{Name: "Chidi Eze"})
	start := monday.Add(10 * time.Hour)

	const attempts = 16
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := pat.ID
			if i%2 == 1 {
				who = pat2.ID
			}
			_, err := svc.Book(context.Background(), doc.ID, who, start, 30*time.Minute)
			results[i] = err
		}(i)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotUnavailable):
			losses++
		default:
			t.Errorf("unexpected error kind: %v", err)
		}
	}

	if wins != 1 {
		t.Errorf("%d bookings succeeded for the same slot, want exactly 1", wins)
	}
	if losses != attempts-1 {
		t.Errorf("%d losers got ErrSlotUnavailable, want %d", losses, attempts-1)
	}
}

func TestCancelFreesSlotForRebooking(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")
	start := monday.Add(10 * time.Hour)

	appt, err := svc.Book(context.Background(), doc.ID, pat.ID, start, 30*time.Minute)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	cancelled, err := svc.Cancel(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	if _, err := svc.Book(context.Background(), doc.ID, pat.ID, start, 30*time.Minute); err != nil {
		t.Errorf("rebooking a cancelled slot failed: %v", err)
	}
}

func TestCompletedAppointmentIsImmutable(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	appt, err := svc.Book(context.Background(), doc.ID, pat.ID, monday.Add(10*time.Hour), 30*time.Minute)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := svc.Complete(context.Background(), appt.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancelling a completed visit: got %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.Complete(context.Background(), appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completing twice: got %v, want ErrInvalidTransition", err)
	}
}

func TestCreateWeeklyRule_OverlapRejected(t *testing.T) {
	svc, _, doc, _ := newTestService(t, config.Config{})

	if _, err := svc.CreateWeeklyRule(context.Background(), doc.ID, time.Monday, tod(t, "09:00"), tod(t, "12:00"), true); err != nil {
		t.Fatalf("first rule: %v", err)
	}

	_, err := svc.CreateWeeklyRule(context.Background(), doc.ID, time.Monday, tod(t, "11:00"), tod(t, "14:00"), true)
	if !errors.Is(err, ErrOverlappingRule) {
		t.Fatalf("overlapping rule: got %v, want ErrOverlappingRule", err)
	}

	// Adjacent is fine: half-open intervals.
	if _, err := svc.CreateWeeklyRule(context.Background(), doc.ID, time.Monday, tod(t, "12:00"), tod(t, "14:00"), true); err != nil {
		t.Errorf("adjacent rule rejected: %v", err)
	}

	// Same hours on another weekday never conflict.
	if _, err := svc.CreateWeeklyRule(context.Background(), doc.ID, time.Tuesday, tod(t, "09:00"), tod(t, "12:00"), true); err != nil {
		t.Errorf("other-day rule rejected: %v", err)
	}
}

func TestCreateWeeklyRule_InvalidInterval(t *testing.T) {
	svc, _, doc, _ := newTestService(t, config.Config{})

	_, err := svc.CreateWeeklyRule(context.Background(), doc.ID, time.Monday, tod(t, "12:00"), tod(t, "09:00"), true)
	if !errors.Is(err, interval.ErrInvalidInterval) {
		t.Fatalf("got %v, want ErrInvalidInterval", err)
	}
}

func TestUpdateWeeklyRule_IgnoresItselfInOverlapCheck(t *testing.T) {
	svc, _, doc, _ := newTestService(t, config.Config{})

	rule, err := svc.CreateWeeklyRule(context.Background(), doc.ID, time.Monday, tod(t, "09:00"), tod(t, "12:00"), true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Widening the same rule overlaps only itself and must pass.
	updated, err := svc.UpdateWeeklyRule(context.Background(), rule.ID, time.Monday, tod(t, "09:00"), tod(t, "13:00"), true)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.End != tod(t, "13:00") {
		t.Errorf("end = %s, want 13:00", updated.End)
	}
}

func TestPutException_LastWriteWins(t *testing.T) {
	svc, repo, doc, _ := newTestService(t, config.Config{})

	if _, err := svc.PutException(context.Background(), doc.ID, monday, false, nil, nil); err != nil {
		t.Fatalf("first exception: %v", err)
	}
	if _, err := svc.PutException(context.Background(), doc.ID, monday, true, todPtr(t, "13:00"), todPtr(t, "15:00")); err != nil {
		t.Fatalf("second exception: %v", err)
	}

	excs, err := repo.ListExceptions(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("ListExceptions: %v", err)
	}
	if len(excs) != 1 {
		t.Fatalf("got %d exceptions for the date, want 1 (replace, not accumulate)", len(excs))
	}
	if !excs[0].Available || excs[0].Start == nil || *excs[0].Start != tod(t, "13:00") {
		t.Errorf("surviving exception is not the last write: %+v", excs[0])
	}
}

func TestPutException_InvalidWindowRejected(t *testing.T) {
	svc, _, doc, _ := newTestService(t, config.Config{})

	_, err := svc.PutException(context.Background(), doc.ID, monday, true, todPtr(t, "15:00"), todPtr(t, "13:00"))
	if !errors.Is(err, interval.ErrInvalidInterval) {
		t.Fatalf("got %v, want ErrInvalidInterval", err)
	}
}

func TestMarkNoShows(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{NoShowGrace: 30 * time.Minute})

	// Ended over an hour before "now": past the grace period.
	overdue := addScheduled(t, repo, doc.ID, pat.ID, testNow.Add(-2*time.Hour), 30*time.Minute)
	// Still inside the grace period.
	recent := addScheduled(t, repo, doc.ID, pat.ID, testNow.Add(-45*time.Minute), 30*time.Minute)

	marked, err := svc.MarkNoShows(context.Background())
	if err != nil {
		t.Fatalf("MarkNoShows: %v", err)
	}
	if marked != 1 {
		t.Errorf("marked %d appointments, want 1", marked)
	}

	a, _ := repo.GetAppointmentByID(context.Background(), overdue.ID)
	if a.Status != StatusNoShow {
		t.Errorf("overdue appointment status = %s, want no_show", a.Status)
	}
	b, _ := repo.GetAppointmentByID(context.Background(), recent.ID)
	if b.Status != StatusScheduled {
		t.Errorf("recent appointment status = %s, want scheduled", b.Status)
	}
}

func TestBook_RecordsEvent(t *testing.T) {
	svc, repo, doc, pat := newTestService(t, config.Config{})
	addRule(t, repo, doc.ID, time.Monday, "09:00", "17:00")

	appt, err := svc.Book(context.Background(), doc.ID, pat.ID, monday.Add(10*time.Hour), 30*time.Minute)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	events := repo.Events()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].EventType != EventAppointmentBooked {
		t.Errorf("event type = %s, want %s", events[0].EventType, EventAppointmentBooked)
	}
	if events[0].AppointmentID == nil || *events[0].AppointmentID != appt.ID {
		t.Error("event does not reference the booked appointment")
	}
}
