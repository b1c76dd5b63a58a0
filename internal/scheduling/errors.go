package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrRuleNotFound        = errors.New("weekly rule not found")
	ErrExceptionNotFound   = errors.New("exception not found")

	// ErrInvalidTiming marks a booking requested in the past or inside the
	// minimum lead-time window.
	ErrInvalidTiming = errors.New("requested time violates the booking lead time")

	// ErrSlotUnavailable covers both a genuinely occupied interval and a
	// lost booking race. Callers cannot tell the two apart.
	ErrSlotUnavailable = errors.New("requested slot is not available")

	// ErrOverlappingRule rejects a weekly rule write that would overlap an
	// existing rule for the same doctor and day.
	ErrOverlappingRule = errors.New("rule overlaps an existing rule for this doctor and day")

	// ErrInvalidTransition rejects a status change the appointment state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid appointment status transition")

	// ErrInfrastructure marks transient store failures (timeouts,
	// connectivity). Safe for the caller to retry; everything else is not.
	ErrInfrastructure = errors.New("infrastructure failure")
)

// infra tags a raw store failure as retryable while keeping the cause
// visible in the chain.
func infra(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrInfrastructure, err))
}
