package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/healthdesk/clinic-scheduling/internal/interval"
	"github.com/healthdesk/clinic-scheduling/internal/scheduling"
)

func availableSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		var slotLen time.Duration
		if raw := r.URL.Query().Get("slot_minutes"); raw != "" {
			mins, err := strconv.Atoi(raw)
			if err != nil || mins <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_slot_minutes", "slot_minutes must be a positive integer")
				return
			}
			slotLen = time.Duration(mins) * time.Minute
		}

		slots, err := svc.FreeSlots(r.Context(), doctorID, date, slotLen)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{Start: s.Start, End: s.End})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		patientID, err := callerPatientID(r, req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", err.Error())
			return
		}

		start, err := time.Parse(time.RFC3339, req.ScheduledTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_scheduled_time", "scheduled_time must be RFC 3339")
			return
		}

		appt, err := svc.Book(r.Context(), doctorID, patientID, start, time.Duration(req.DurationMinutes)*time.Minute)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

// callerPatientID resolves the booking patient: the token subject when auth
// is on, the request body otherwise.
func callerPatientID(r *http.Request, fromBody string) (uuid.UUID, error) {
	if identity, ok := IdentityFromContext(r.Context()); ok {
		return identity.SubjectID, nil
	}
	id, err := uuid.Parse(fromBody)
	if err != nil {
		return uuid.Nil, errors.New("patient_id must be a valid UUID")
	}
	return id, nil
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var (
			appts []scheduling.Appointment
			err   error
		)

		switch {
		case r.URL.Query().Get("patient_id") != "":
			var patientID uuid.UUID
			patientID, err = uuid.Parse(r.URL.Query().Get("patient_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appts, err = svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		case r.URL.Query().Get("doctor_id") != "":
			var doctorID uuid.UUID
			doctorID, err = uuid.Parse(r.URL.Query().Get("doctor_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			appts, err = svc.ListAppointmentsByDoctor(r.Context(), doctorID, limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or doctor_id is required")
			return
		}

		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(svc.Cancel)
}

func completeAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(svc.Complete)
}

func transitionHandler(fn func(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := fn(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		ScheduledStart:  a.Start,
		ScheduledEnd:    a.End(),
		DurationMinutes: int(a.Duration.Minutes()),
		Status:          string(a.Status),
	}
}

func handleSchedulingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interval.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTiming):
		writeError(w, http.StatusBadRequest, "invalid_timing", err.Error())
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "rule_not_found", err.Error())
	case errors.Is(err, scheduling.ErrExceptionNotFound):
		writeError(w, http.StatusNotFound, "exception_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "requested slot is not available, refresh and pick another")
	case errors.Is(err, scheduling.ErrOverlappingRule):
		writeError(w, http.StatusConflict, "overlapping_rule", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrInfrastructure):
		writeError(w, http.StatusServiceUnavailable, "infrastructure_error", "temporary store failure, retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
