package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clinicdesk/scheduling/internal/booking"
	"github.com/clinicdesk/scheduling/internal/calendar"
	"github.com/clinicdesk/scheduling/internal/export"
	"github.com/clinicdesk/scheduling/internal/reminder"
	"github.com/clinicdesk/scheduling/internal/response"
)

type RouterConfig struct {
	Coordinator *booking.Service
	Calendar    *calendar.Store
	Reminders   *reminder.Engine
	Responses   *response.Processor
	Exporter    *export.Exporter
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/doctors", listDoctorsHandler(cfg.Calendar))
	r.Get("/doctors/{id}/slots", listSlotsHandler(cfg.Calendar))

	r.Post("/appointments", bookAppointmentHandler(cfg.Coordinator))
	r.Get("/appointments", listAppointmentsHandler(cfg.Coordinator))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Coordinator))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Coordinator))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Coordinator))
	r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Coordinator))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Coordinator))
	r.Post("/appointments/{id}/no-show", noShowAppointmentHandler(cfg.Coordinator))
	r.Get("/appointments/{id}/reminders", getRemindersHandler(cfg.Reminders))

	r.Post("/responses", patientReplyHandler(cfg.Responses))
	r.Get("/responses/intents", listIntentsHandler(cfg.Responses))

	r.Get("/export/appointments.csv", exportAppointmentsHandler(cfg.Exporter))

	return r
}
