package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/healthdesk/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service   *scheduling.Service
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	JWTSecret string
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		// Slot query and booking
		r.Get("/appointments/available_slots", availableSlotsHandler(cfg.Service))
		r.With(RequireRole(RolePatient)).Post("/appointments", createAppointmentHandler(cfg.Service))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.With(RequireRole(RoleDoctor, RoleAdmin)).Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))

		// Recurring availability
		r.Get("/availabilities", listWeeklyRulesHandler(cfg.Service))
		r.With(RequireRole(RoleDoctor, RoleAdmin)).Post("/availabilities", createWeeklyRuleHandler(cfg.Service))
		r.With(RequireRole(RoleDoctor, RoleAdmin)).Put("/availabilities/{id}", updateWeeklyRuleHandler(cfg.Service))
		r.With(RequireRole(RoleDoctor, RoleAdmin)).Delete("/availabilities/{id}", deleteWeeklyRuleHandler(cfg.Service))

		// Date exceptions
		r.Get("/exceptions", listExceptionsHandler(cfg.Service))
		r.With(RequireRole(RoleDoctor, RoleAdmin)).Put("/exceptions", putExceptionHandler(cfg.Service))
		r.With(RequireRole(RoleDoctor, RoleAdmin)).Delete("/exceptions/{id}", deleteExceptionHandler(cfg.Service))
	})

	return r
}
