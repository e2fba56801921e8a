package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/provider-booking-engine/internal/availability"
	"github.com/hackgods/provider-booking-engine/internal/lock"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Locker runs fn while holding the critical section for key. It gives up
// with an error wrapping lock.ErrNotAcquired after a bounded wait.
type Locker interface {
	WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(time.Now)

type Service struct {
	store      Store
	locker     Locker
	clock      Clock
	logger     zerolog.Logger
	defaultLoc *time.Location
}

type Option func(*Service)

// WithDefaultLocation sets the frame used for providers without a timezone.
func WithDefaultLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.defaultLoc = loc
		}
	}
}

func NewService(store Store, locker Locker, clock Clock, logger zerolog.Logger, opts ...Option) *Service {
	if clock == nil {
		clock = SystemClock
	}
	s := &Service{
		store:      store,
		locker:     locker,
		clock:      clock,
		logger:     logger.With().Str("component", "booking").Logger(),
		defaultLoc: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) loadProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := s.store.GetProvider(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return p, nil
}

// ListFreeSlots returns the provider's generated slots on date minus those
// overlapping a scheduled appointment or block-out, read from one snapshot.
func (s *Service) ListFreeSlots(ctx context.Context, providerID uuid.UUID, date availability.Date) ([]availability.Slot, error) {
	if date.IsZero() {
		return nil, ErrInvalidDate
	}

	p, err := s.loadProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return []availability.Slot{}, nil
	}

	snap, err := s.store.DaySnapshot(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("load day snapshot: %w", err)
	}

	return snap.FreeSlots(), nil
}

func (s *Service) validateMetadata(ctx context.Context, p *Provider, md Metadata) error {
	switch p.Role {
	case ProviderConsultation:
		if !md.ConsultationType.Valid() {
			return withDetail(ErrInvalidMetadata, fmt.Errorf("consultation_type must be one of in_person, video, voice"))
		}
	case ProviderInHomeService:
		if md.OfferingID == nil || *md.OfferingID == uuid.Nil {
			return withDetail(ErrInvalidMetadata, errors.New("offering_id is required"))
		}
		if strings.TrimSpace(md.Address) == "" {
			return withDetail(ErrInvalidMetadata, errors.New("address is required"))
		}
		ok, err := s.store.OfferingAvailable(ctx, p.ID, *md.OfferingID)
		if err != nil {
			return fmt.Errorf("check offering: %w", err)
		}
		if !ok {
			return ErrOfferingNotFound
		}
	}
	return nil
}

// BookSlot commits a scheduled appointment for req.Window or fails leaving
// the ledger unchanged. Bookings for the same provider and date are
// serialized by the locker and again inside the ledger's insert.
func (s *Service) BookSlot(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.RequesterID == uuid.Nil {
		return nil, ErrMissingActor
	}
	if req.Date.IsZero() {
		return nil, ErrInvalidDate
	}

	p, err := s.loadProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrProviderInactive
	}
	if err := s.validateMetadata(ctx, p, req.Metadata); err != nil {
		return nil, err
	}

	if err := req.Window.Validate(); err != nil {
		return nil, withDetail(ErrInvalidWindow, err)
	}

	now := s.clock.Now()
	if req.Date.At(req.Window.Start, p.Location(s.defaultLoc)).Before(now) {
		return nil, ErrWindowInPast
	}

	key := BookingKey(req.ProviderID, req.Date)
	log := s.logger.With().
		Str("provider_id", req.ProviderID.String()).
		Str("date", req.Date.String()).
		Str("window", req.Window.String()).
		Logger()

	var created *Appointment
	err = s.locker.WithKeyLock(ctx, key, func(lockCtx context.Context) error {
		appt, err := s.store.InsertScheduled(lockCtx, Appointment{
			ProviderID:  req.ProviderID,
			RequesterID: req.RequesterID,
			Date:        req.Date,
			Window:      req.Window,
			Status:      StatusScheduled,
			Metadata:    req.Metadata,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		created = appt
		return nil
	})

	if err != nil {
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			log.Info().Msg("booking rejected: key busy")
			return nil, withDetail(ErrBusy, err)
		case IsKind(err, KindBusy):
			log.Info().Err(err).Msg("booking rejected: ledger busy")
			return nil, err
		case IsKind(err, KindConflict):
			log.Debug().Err(err).Msg("booking rejected")
			return nil, err
		case KindOf(err) != "":
			return nil, err
		}
		return nil, fmt.Errorf("book slot: %w", err)
	}

	log.Info().Int64("appointment_id", created.ID).Msg("appointment booked")

	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"provider_id":  created.ProviderID.String(),
		"requester_id": created.RequesterID.String(),
		"date":         created.Date.String(),
		"start":        created.Window.Start.String(),
		"end":          created.Window.End.String(),
	})

	return created, nil
}

// TransitionAppointment moves a scheduled appointment to a terminal status.
// notes, when non-nil, replaces the stored notes.
func (s *Service) TransitionAppointment(ctx context.Context, id int64, actor *Actor, to Status, notes *string) (*Appointment, error) {
	if actor == nil || actor.ID == uuid.Nil {
		return nil, ErrMissingActor
	}

	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := Authorize(actor, appt); err != nil {
		return nil, err
	}
	if err := ValidateTransition(appt.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateAppointmentStatus(ctx, id, appt.Status, to, notes, s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// lost the compare-and-set to a concurrent transition
			return nil, withDetail(ErrInvalidTransition, fmt.Errorf("appointment %d is no longer %s", id, appt.Status))
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logger.Info().
		Int64("appointment_id", id).
		Str("from", string(appt.Status)).
		Str("to", string(to)).
		Str("actor_role", string(actor.Role)).
		Msg("appointment transitioned")

	s.logEvent(ctx, id, transitionEvent(to), map[string]any{
		"from":     string(appt.Status),
		"to":       string(to),
		"actor_id": actor.ID.String(),
	})

	return updated, nil
}

// GetAppointment returns one appointment to a party of it or to an admin.
func (s *Service) GetAppointment(ctx context.Context, id int64, actor *Actor) (*Appointment, error) {
	if actor == nil || actor.ID == uuid.Nil {
		return nil, ErrMissingActor
	}

	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	if actor.Role != ActorAdmin {
		if err := Authorize(actor, appt); err != nil {
			return nil, err
		}
	}
	return appt, nil
}

// ListAppointments lists what the actor may see, newest first.
func (s *Service) ListAppointments(ctx context.Context, actor *Actor, f ListFilter) ([]Appointment, error) {
	f, err := listScope(actor, f)
	if err != nil {
		return nil, err
	}

	appts, err := s.store.ListAppointments(ctx, f.Page())
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) GetSchedule(ctx context.Context, providerID uuid.UUID) ([]availability.WeeklyScheduleEntry, error) {
	if _, err := s.loadProvider(ctx, providerID); err != nil {
		return nil, err
	}

	entries, err := s.store.GetSchedule(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return entries, nil
}

// PutScheduleEntry replaces the provider's entry for entry.Day. Existing
// appointments are left as booked even if they no longer fit.
func (s *Service) PutScheduleEntry(ctx context.Context, actor *Actor, entry availability.WeeklyScheduleEntry) (*availability.WeeklyScheduleEntry, error) {
	if err := AuthorizeProvider(actor, entry.ProviderID); err != nil {
		return nil, err
	}
	if err := entry.Validate(); err != nil {
		return nil, withDetail(ErrInvalidSchedule, err)
	}
	if _, err := s.loadProvider(ctx, entry.ProviderID); err != nil {
		return nil, err
	}

	entry.UpdatedAt = s.clock.Now()
	saved, err := s.store.UpsertScheduleEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("save schedule entry: %w", err)
	}

	s.logger.Info().
		Str("provider_id", entry.ProviderID.String()).
		Str("day", entry.Day.String()).
		Str("window", entry.Window.String()).
		Dur("slot_duration", entry.SlotDuration).
		Bool("active", entry.Active).
		Msg("schedule entry saved")

	return saved, nil
}

// AddUnavailableSession blocks part of a date. Slots overlapping it stop
// being offered and bookings overlapping it are rejected as outside
// availability; appointments already booked are kept.
func (s *Service) AddUnavailableSession(ctx context.Context, actor *Actor, session availability.UnavailableSession) (*availability.UnavailableSession, error) {
	if err := AuthorizeProvider(actor, session.ProviderID); err != nil {
		return nil, err
	}
	if session.Date.IsZero() {
		return nil, ErrInvalidDate
	}
	if err := session.Window.Validate(); err != nil {
		return nil, withDetail(ErrInvalidWindow, err)
	}
	if _, err := s.loadProvider(ctx, session.ProviderID); err != nil {
		return nil, err
	}

	session.CreatedAt = s.clock.Now()
	saved, err := s.store.AddUnavailableSession(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("add unavailable session: %w", err)
	}
	return saved, nil
}
