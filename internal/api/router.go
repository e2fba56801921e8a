package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/availability"
)

type BookingService interface {
	ListFreeSlots(ctx context.Context, providerID uuid.UUID, date availability.Date) ([]availability.Slot, error)
	BookSlot(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	TransitionAppointment(ctx context.Context, id int64, actor *appointment.Actor, to appointment.Status, notes *string) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id int64, actor *appointment.Actor) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, actor *appointment.Actor, f appointment.ListFilter) ([]appointment.Appointment, error)
	GetSchedule(ctx context.Context, providerID uuid.UUID) ([]availability.WeeklyScheduleEntry, error)
	PutScheduleEntry(ctx context.Context, actor *appointment.Actor, entry availability.WeeklyScheduleEntry) (*availability.WeeklyScheduleEntry, error)
	AddUnavailableSession(ctx context.Context, actor *appointment.Actor, s availability.UnavailableSession) (*availability.UnavailableSession, error)
}

type RouterConfig struct {
	Service        BookingService
	Tokens         TokenParser
	Logger         zerolog.Logger
	PgPool         *pgxpool.Pool
	Redis          *redis.Client
	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{svc: cfg.Service, logger: cfg.Logger}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Tokens))
		r.Use(RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.TrustProxy, cfg.Logger))

		r.Route("/providers/{providerID}", func(r chi.Router) {
			r.Get("/slots", h.listFreeSlots)
			r.Get("/schedule", h.getSchedule)
			r.Put("/schedule/{day}", h.putScheduleEntry)
			r.Post("/unavailable", h.addUnavailableSession)
		})

		r.Post("/appointments", h.bookAppointment)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Post("/appointments/{id}/transition", h.transitionAppointment)
	})

	return r
}
