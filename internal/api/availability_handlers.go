package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/healthdesk/clinic-scheduling/internal/interval"
	"github.com/healthdesk/clinic-scheduling/internal/scheduling"
)

func listWeeklyRulesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		rules, err := svc.ListWeeklyRules(r.Context(), doctorID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]WeeklyRuleResponse, 0, len(rules))
		for _, rule := range rules {
			resp = append(resp, toWeeklyRuleResponse(&rule))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createWeeklyRuleHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, parsed, ok := decodeWeeklyRuleRequest(w, r)
		if !ok {
			return
		}

		available := true
		if req.Available != nil {
			available = *req.Available
		}

		rule, err := svc.CreateWeeklyRule(r.Context(), parsed.doctorID, parsed.day, parsed.start, parsed.end, available)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toWeeklyRuleResponse(rule))
	}
}

func updateWeeklyRuleHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_rule_id", "id must be a valid UUID")
			return
		}

		req, parsed, ok := decodeWeeklyRuleRequest(w, r)
		if !ok {
			return
		}

		available := true
		if req.Available != nil {
			available = *req.Available
		}

		rule, err := svc.UpdateWeeklyRule(r.Context(), id, parsed.day, parsed.start, parsed.end, available)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toWeeklyRuleResponse(rule))
	}
}

func deleteWeeklyRuleHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_rule_id", "id must be a valid UUID")
			return
		}

		if err := svc.DeleteWeeklyRule(r.Context(), id); err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "weekly rule deleted"})
	}
}

type parsedRuleRequest struct {
	doctorID   uuid.UUID
	day        time.Weekday
	start, end interval.TimeOfDay
}

func decodeWeeklyRuleRequest(w http.ResponseWriter, r *http.Request) (WeeklyRuleRequest, parsedRuleRequest, bool) {
	var req WeeklyRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return req, parsedRuleRequest{}, false
	}

	var parsed parsedRuleRequest
	var err error

	parsed.doctorID, err = uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return req, parsed, false
	}

	if req.DayOfWeek < 0 || req.DayOfWeek > 6 {
		writeError(w, http.StatusBadRequest, "invalid_day_of_week", "day_of_week must be 0 (Sunday) through 6 (Saturday)")
		return req, parsed, false
	}
	parsed.day = time.Weekday(req.DayOfWeek)

	parsed.start, err = interval.ParseTimeOfDay(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be HH:MM")
		return req, parsed, false
	}

	parsed.end, err = interval.ParseTimeOfDay(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be HH:MM")
		return req, parsed, false
	}

	return req, parsed, true
}

func toWeeklyRuleResponse(rule *scheduling.WeeklyRule) WeeklyRuleResponse {
	return WeeklyRuleResponse{
		ID:        rule.ID,
		DoctorID:  rule.DoctorID,
		DayOfWeek: int(rule.DayOfWeek),
		StartTime: rule.Start.String(),
		EndTime:   rule.End.String(),
		Available: rule.Available,
	}
}

func listExceptionsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		excs, err := svc.ListExceptions(r.Context(), doctorID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]ExceptionResponse, 0, len(excs))
		for _, exc := range excs {
			resp = append(resp, toExceptionResponse(&exc))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func putExceptionHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExceptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		var start, end *interval.TimeOfDay
		if req.StartTime != nil {
			t, err := interval.ParseTimeOfDay(*req.StartTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be HH:MM")
				return
			}
			start = &t
		}
		if req.EndTime != nil {
			t, err := interval.ParseTimeOfDay(*req.EndTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be HH:MM")
				return
			}
			end = &t
		}

		exc, err := svc.PutException(r.Context(), doctorID, date, req.IsAvailable, start, end)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toExceptionResponse(exc))
	}
}

func deleteExceptionHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_exception_id", "id must be a valid UUID")
			return
		}

		if err := svc.DeleteException(r.Context(), id); err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "exception deleted"})
	}
}

func toExceptionResponse(exc *scheduling.DateException) ExceptionResponse {
	resp := ExceptionResponse{
		ID:          exc.ID,
		DoctorID:    exc.DoctorID,
		Date:        exc.Date.Format("2006-01-02"),
		IsAvailable: exc.Available,
	}
	if exc.Start != nil {
		s := exc.Start.String()
		resp.StartTime = &s
	}
	if exc.End != nil {
		e := exc.End.String()
		resp.EndTime = &e
	}
	return resp
}
