package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-scheduling/internal/interval"
)

// CreateWeeklyRule persists a recurring open block after checking that it
// does not overlap another rule for the same doctor and day. The check runs
// on write; reads never assume it held historically.
func (s *Service) CreateWeeklyRule(ctx context.Context, doctorID uuid.UUID, day time.Weekday, start, end interval.TimeOfDay, available bool) (*WeeklyRule, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	rule := &WeeklyRule{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		DayOfWeek: day,
		Start:     start,
		End:       end,
		Available: available,
	}

	if err := s.checkRuleOverlap(ctx, rule, uuid.Nil); err != nil {
		return nil, err
	}

	if err := s.repo.CreateWeeklyRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("create weekly rule: %w", err)
	}
	return rule, nil
}

// UpdateWeeklyRule rewrites an existing rule, re-running the overlap check
// against every rule except the one being replaced.
func (s *Service) UpdateWeeklyRule(ctx context.Context, id uuid.UUID, day time.Weekday, start, end interval.TimeOfDay, available bool) (*WeeklyRule, error) {
	rule, err := s.repo.GetWeeklyRuleByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rule.DayOfWeek = day
	rule.Start = start
	rule.End = end
	rule.Available = available

	if err := s.checkRuleOverlap(ctx, rule, rule.ID); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateWeeklyRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("update weekly rule: %w", err)
	}
	return rule, nil
}

func (s *Service) DeleteWeeklyRule(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteWeeklyRule(ctx, id)
}

func (s *Service) ListWeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	return s.repo.ListWeeklyRules(ctx, doctorID)
}

// checkRuleOverlap validates the rule's interval and rejects the write when
// it would overlap an existing rule for the same doctor and day. ignoreID
// exempts the rule being updated from its own comparison.
func (s *Service) checkRuleOverlap(ctx context.Context, rule *WeeklyRule, ignoreID uuid.UUID) error {
	// Anchor to an arbitrary date purely for interval arithmetic.
	candidate, err := rule.Window(time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return err
	}

	existing, err := s.repo.ListWeeklyRulesForDay(ctx, rule.DoctorID, rule.DayOfWeek)
	if err != nil {
		return fmt.Errorf("list weekly rules: %w", err)
	}

	for _, other := range existing {
		if other.ID == ignoreID {
			continue
		}
		w, err := other.Window(time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC))
		if err != nil {
			continue // a malformed stored rule cannot block new writes
		}
		if candidate.Overlaps(w) {
			return fmt.Errorf("%w: conflicts with rule %s (%s-%s)", ErrOverlappingRule, other.ID, other.Start, other.End)
		}
	}

	return nil
}

// PutException creates or replaces the exception for (doctor, date).
// Replacement is explicit last-write-wins; two exceptions for the same date
// never coexist. A blocked date needs no interval; an available override
// may carry one, or cover the whole day when times are omitted.
func (s *Service) PutException(ctx context.Context, doctorID uuid.UUID, date time.Time, available bool, start, end *interval.TimeOfDay) (*DateException, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	exc := &DateException{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		Date:      DateOf(date),
		Available: available,
		Start:     start,
		End:       end,
	}

	if available {
		// Validate the replacement window up front so a malformed override
		// never reaches the resolver.
		if _, err := exc.Window(); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpsertException(ctx, exc); err != nil {
		return nil, fmt.Errorf("upsert exception: %w", err)
	}
	return exc, nil
}

func (s *Service) DeleteException(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteException(ctx, id)
}

func (s *Service) ListExceptions(ctx context.Context, doctorID uuid.UUID) ([]DateException, error) {
	return s.repo.ListExceptions(ctx, doctorID)
}
