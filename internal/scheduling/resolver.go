package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-scheduling/internal/interval"
)

// dayOverride is the three-way outcome of the exception lookup for a date:
// either the weekly rules stand, or the whole date is blocked, or the
// exception's window(s) replace the rules entirely.
type dayOverride struct {
	kind    overrideKind
	windows []interval.Interval
}

type overrideKind int

const (
	noOverride overrideKind = iota
	blockedDay
	replacedWindows
)

// Resolver turns a doctor's recurring rules, date exceptions and existing
// bookings into the canonical set of free intervals for a date.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// FreeSlots returns the free slots of exactly slotLen for the doctor on the
// given calendar date, ascending by start. A doctor with no rules and no
// exception simply has no slots; that is not an error. Past dates are not
// rejected here: temporal policy belongs to the booking path.
func (r *Resolver) FreeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, slotLen time.Duration) ([]interval.Interval, error) {
	gaps, err := r.FreeGaps(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	var slots []interval.Interval
	for _, gap := range gaps {
		slots = append(slots, interval.Slice(gap, slotLen)...)
	}
	return slots, nil
}

// FreeGaps returns the maximal free intervals for the doctor on the date,
// before slicing into fixed-size slots. The booking path checks containment
// against these so that irregular durations stay bookable.
func (r *Resolver) FreeGaps(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]interval.Interval, error) {
	// Canonicalize once: weekday selection, exception lookup and window
	// anchoring all run against the UTC calendar date.
	date = DateOf(date)

	windows, err := r.dayWindows(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, nil
	}

	busy, err := r.busyIntervals(ctx, doctorID, windows)
	if err != nil {
		return nil, err
	}

	var gaps []interval.Interval
	for _, w := range windows {
		gaps = append(gaps, interval.Subtract(w, busy)...)
	}

	sort.Slice(gaps, func(i, j int) bool {
		return gaps[i].Start.Before(gaps[j].Start)
	})
	return gaps, nil
}

// dayWindows resolves the working window(s) for the date, applying the
// exception-over-rule precedence exactly once, here.
func (r *Resolver) dayWindows(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]interval.Interval, error) {
	override, err := r.lookupOverride(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	switch override.kind {
	case blockedDay:
		return nil, nil
	case replacedWindows:
		return override.windows, nil
	}

	rules, err := r.repo.ListWeeklyRulesForDay(ctx, doctorID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("list weekly rules: %w", err)
	}

	var windows []interval.Interval
	for _, rule := range rules {
		if !rule.Available {
			continue
		}
		w, err := rule.Window(date)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		windows = append(windows, w)
	}

	return interval.Merge(windows), nil
}

func (r *Resolver) lookupOverride(ctx context.Context, doctorID uuid.UUID, date time.Time) (dayOverride, error) {
	exc, err := r.repo.GetException(ctx, doctorID, DateOf(date))
	if err != nil {
		if errors.Is(err, ErrExceptionNotFound) {
			return dayOverride{kind: noOverride}, nil
		}
		return dayOverride{}, fmt.Errorf("lookup exception: %w", err)
	}

	if !exc.Available {
		return dayOverride{kind: blockedDay}, nil
	}

	w, err := exc.Window()
	if err != nil {
		return dayOverride{}, fmt.Errorf("exception %s: %w", exc.ID, err)
	}
	return dayOverride{kind: replacedWindows, windows: []interval.Interval{w}}, nil
}

// busyIntervals loads the scheduled appointments intersecting the working
// windows. Only scheduled bookings occupy time.
func (r *Resolver) busyIntervals(ctx context.Context, doctorID uuid.UUID, windows []interval.Interval) ([]interval.Interval, error) {
	from := windows[0].Start
	to := windows[0].End
	for _, w := range windows[1:] {
		if w.Start.Before(from) {
			from = w.Start
		}
		if w.End.After(to) {
			to = w.End
		}
	}

	appts, err := r.repo.ListScheduledBetween(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list scheduled appointments: %w", err)
	}

	busy := make([]interval.Interval, 0, len(appts))
	for _, a := range appts {
		if !a.Status.Occupies() {
			continue
		}
		busy = append(busy, a.Interval())
	}
	return busy, nil
}
