package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/availability"
)

type BookAppointmentRequest struct {
	ProviderID       string `json:"provider_id"`
	Date             string `json:"date"`
	Start            string `json:"start"`
	End              string `json:"end"`
	Reason           string `json:"reason"`
	Notes            string `json:"notes"`
	ConsultationType string `json:"consultation_type"`
	OfferingID       string `json:"offering_id"`
	Address          string `json:"address"`
}

type TransitionRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID               int64      `json:"id"`
	ProviderID       uuid.UUID  `json:"provider_id"`
	RequesterID      uuid.UUID  `json:"requester_id"`
	Date             string     `json:"date"`
	Start            string     `json:"start"`
	End              string     `json:"end"`
	Status           string     `json:"status"`
	Reason           string     `json:"reason,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	ConsultationType string     `json:"consultation_type,omitempty"`
	OfferingID       *uuid.UUID `json:"offering_id,omitempty"`
	Address          string     `json:"address,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		ProviderID:       a.ProviderID,
		RequesterID:      a.RequesterID,
		Date:             a.Date.String(),
		Start:            a.Window.Start.String(),
		End:              a.Window.End.String(),
		Status:           string(a.Status),
		Reason:           a.Metadata.Reason,
		Notes:            a.Metadata.Notes,
		ConsultationType: string(a.Metadata.ConsultationType),
		OfferingID:       a.Metadata.OfferingID,
		Address:          a.Metadata.Address,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

type ListAppointmentsResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type SlotResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type SlotsResponse struct {
	ProviderID uuid.UUID      `json:"provider_id"`
	Date       string         `json:"date"`
	Slots      []SlotResponse `json:"slots"`
}

type ScheduleEntryRequest struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	SlotMinutes int    `json:"slot_minutes"`
	Active      *bool  `json:"active,omitempty"`
}

type ScheduleEntryResponse struct {
	Day         string    `json:"day"`
	Start       string    `json:"start"`
	End         string    `json:"end"`
	SlotMinutes int       `json:"slot_minutes"`
	Active      bool      `json:"active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toScheduleEntryResponse(e *availability.WeeklyScheduleEntry) ScheduleEntryResponse {
	return ScheduleEntryResponse{
		Day:         e.Day.String(),
		Start:       e.Window.Start.String(),
		End:         e.Window.End.String(),
		SlotMinutes: int(e.SlotDuration / time.Minute),
		Active:      e.Active,
		UpdatedAt:   e.UpdatedAt,
	}
}

type UnavailableRequest struct {
	Date   string `json:"date"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason"`
}

type UnavailableResponse struct {
	ID     int64  `json:"id"`
	Date   string `json:"date"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
