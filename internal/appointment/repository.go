package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-booking-engine/internal/availability"
)

// Directory answers provider existence and active-status checks.
type Directory interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
}

// Catalog reports whether an offering is bookable with a provider.
type Catalog interface {
	OfferingAvailable(ctx context.Context, providerID, offeringID uuid.UUID) (bool, error)
}

type ScheduleStore interface {
	GetSchedule(ctx context.Context, providerID uuid.UUID) ([]availability.WeeklyScheduleEntry, error)
	UpsertScheduleEntry(ctx context.Context, entry availability.WeeklyScheduleEntry) (*availability.WeeklyScheduleEntry, error)
	AddUnavailableSession(ctx context.Context, s availability.UnavailableSession) (*availability.UnavailableSession, error)
}

// Ledger is the authoritative store of appointments.
type Ledger interface {
	// DaySnapshot reads the schedule entry, block-outs and scheduled
	// appointments for one provider and date as of a single instant.
	DaySnapshot(ctx context.Context, providerID uuid.UUID, date availability.Date) (*DaySnapshot, error)

	// InsertScheduled re-validates appt against a fresh snapshot and inserts
	// it as one atomic step with respect to every other insert for the same
	// provider and date.
	InsertScheduled(ctx context.Context, appt Appointment) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// UpdateAppointmentStatus is a compare-and-set on the current status.
	// It returns ErrAppointmentNotFound when the row is gone or no longer in
	// from. A nil notes leaves the stored notes untouched.
	UpdateAppointmentStatus(ctx context.Context, id int64, from, to Status, notes *string, at time.Time) (*Appointment, error)
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev EventLog) error
	ListUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error)
	MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Store bundles everything the service needs from persistence.
type Store interface {
	Directory
	Catalog
	ScheduleStore
	Ledger
	EventStore
}

// DaySnapshot is what the engine knows about one provider on one date.
type DaySnapshot struct {
	ProviderID  uuid.UUID
	Date        availability.Date
	Entry       *availability.WeeklyScheduleEntry
	Unavailable []availability.UnavailableSession
	Scheduled   []Appointment
}

func (s *DaySnapshot) busy() []availability.TimeWindow {
	busy := make([]availability.TimeWindow, 0, len(s.Unavailable)+len(s.Scheduled))
	for _, u := range s.Unavailable {
		busy = append(busy, u.Window)
	}
	for _, a := range s.Scheduled {
		if a.Status.Blocks() {
			busy = append(busy, a.Window)
		}
	}
	return busy
}

// FreeSlots is the generated grid minus anything overlapping a scheduled
// appointment or a block-out.
func (s *DaySnapshot) FreeSlots() []availability.Slot {
	return availability.FreeSlots(availability.Generate(s.Entry, s.ProviderID, s.Date), s.busy())
}

// CheckBookable runs the booking rules in order: a well-formed window, inside
// availability, then free of scheduled appointments.
func (s *DaySnapshot) CheckBookable(w availability.TimeWindow) error {
	if err := w.Validate(); err != nil {
		return withDetail(ErrInvalidWindow, err)
	}
	if !availability.Fits(s.Entry, s.Date, w) {
		return ErrOutsideAvailability
	}
	for _, u := range s.Unavailable {
		if u.Window.Overlaps(w) {
			return ErrOutsideAvailability
		}
	}
	for _, a := range s.Scheduled {
		if a.Status.Blocks() && a.Window.Overlaps(w) {
			return ErrSlotTaken
		}
	}
	return nil
}

var (
	_ Store = (*PgRepository)(nil)
	_ Store = (*MemoryRepository)(nil)
)
