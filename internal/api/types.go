package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	DoctorID        string `json:"doctor_id"`
	ScheduledTime   string `json:"scheduled_time"` // RFC 3339
	DurationMinutes int    `json:"duration_minutes"`
	// PatientID is honored only when auth is disabled; with auth on, the
	// patient is always the token subject.
	PatientID string `json:"patient_id,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	ScheduledEnd    time.Time `json:"scheduled_end"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type WeeklyRuleRequest struct {
	DoctorID  string `json:"doctor_id"`
	DayOfWeek int    `json:"day_of_week"` // 0=Sunday .. 6=Saturday
	StartTime string `json:"start_time"`  // "09:00"
	EndTime   string `json:"end_time"`    // "17:00"
	Available *bool  `json:"available,omitempty"`
}

type WeeklyRuleResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	DayOfWeek int       `json:"day_of_week"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Available bool      `json:"available"`
}

type ExceptionRequest struct {
	DoctorID    string  `json:"doctor_id"`
	Date        string  `json:"date"` // "2006-01-02"
	IsAvailable bool    `json:"is_available"`
	StartTime   *string `json:"start_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
}

type ExceptionResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	Date        string    `json:"date"`
	IsAvailable bool      `json:"is_available"`
	StartTime   *string   `json:"start_time,omitempty"`
	EndTime     *string   `json:"end_time,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
