package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-booking-engine/internal/availability"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// ParseStatus maps a status label to a Status. Labels are case-insensitive and
// "no-show"/"noshow" are accepted for StatusNoShow.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scheduled":
		return StatusScheduled, true
	case "completed":
		return StatusCompleted, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	case "no_show", "no-show", "noshow":
		return StatusNoShow, true
	}
	return "", false
}

type ProviderRole string

const (
	ProviderConsultation  ProviderRole = "consultation"
	ProviderInHomeService ProviderRole = "in_home_service"
)

type ConsultationType string

const (
	ConsultationInPerson ConsultationType = "in_person"
	ConsultationVideo    ConsultationType = "video"
	ConsultationVoice    ConsultationType = "voice"
)

func (c ConsultationType) Valid() bool {
	switch c {
	case ConsultationInPerson, ConsultationVideo, ConsultationVoice:
		return true
	}
	return false
}

type ActorRole string

const (
	ActorRequester ActorRole = "requester"
	ActorProvider  ActorRole = "provider"
	ActorAdmin     ActorRole = "admin"
)

// Actor is the authenticated caller as supplied by the identity service.
type Actor struct {
	ID   uuid.UUID
	Role ActorRole
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Role      ProviderRole
	Active    bool
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location is the frame every date and clock comparison for this provider
// uses. An empty or unknown timezone falls back to def.
func (p *Provider) Location(def *time.Location) *time.Location {
	if p.Timezone == "" {
		return def
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return def
	}
	return loc
}

type Metadata struct {
	Reason           string           `json:"reason,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	ConsultationType ConsultationType `json:"consultation_type,omitempty"`
	OfferingID       *uuid.UUID       `json:"offering_id,omitempty"`
	Address          string           `json:"address,omitempty"`
}

type Appointment struct {
	ID          int64
	ProviderID  uuid.UUID
	RequesterID uuid.UUID
	Date        availability.Date
	Window      availability.TimeWindow
	Status      Status
	Metadata    Metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

type BookingRequest struct {
	ProviderID  uuid.UUID
	RequesterID uuid.UUID
	Date        availability.Date
	Window      availability.TimeWindow
	Metadata    Metadata
}

// ListFilter narrows ListAppointments. Nil fields match everything.
type ListFilter struct {
	ProviderID  *uuid.UUID
	RequesterID *uuid.UUID
	Status      *Status
	Date        *availability.Date
	Limit       int
	Offset      int
}

// Page returns f with the limit defaulted and capped and a negative offset
// cleared.
func (f ListFilter) Page() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// BookingKey is the serialization key for bookings: one provider on one date.
func BookingKey(providerID uuid.UUID, date availability.Date) string {
	return providerID.String() + "|" + date.String()
}
