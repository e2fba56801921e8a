package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/availability"
)

type handlers struct {
	svc    BookingService
	logger zerolog.Logger
}

func providerIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "providerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func appointmentIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (*appointment.Actor, bool) {
	actor := ActorFromContext(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "missing_actor", "authentication required")
		return nil, false
	}
	return actor, true
}

func parseWindow(w http.ResponseWriter, start, end string) (availability.TimeWindow, bool) {
	win, err := availability.ParseWindow(start, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return availability.TimeWindow{}, false
	}
	return win, true
}

func parseDate(w http.ResponseWriter, s string) (availability.Date, bool) {
	d, err := availability.ParseDate(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return availability.Date{}, false
	}
	return d, true
}

func (h *handlers) listFreeSlots(w http.ResponseWriter, r *http.Request) {
	providerID, ok := providerIDParam(w, r)
	if !ok {
		return
	}
	date, ok := parseDate(w, r.URL.Query().Get("date"))
	if !ok {
		return
	}

	slots, err := h.svc.ListFreeSlots(r.Context(), providerID, date)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := SlotsResponse{ProviderID: providerID, Date: date.String(), Slots: make([]SlotResponse, 0, len(slots))}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, SlotResponse{Start: s.Window.Start.String(), End: s.Window.End.String()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	date, ok := parseDate(w, req.Date)
	if !ok {
		return
	}
	window, ok := parseWindow(w, req.Start, req.End)
	if !ok {
		return
	}

	md := appointment.Metadata{
		Reason:           req.Reason,
		Notes:            req.Notes,
		ConsultationType: appointment.ConsultationType(req.ConsultationType),
		Address:          req.Address,
	}
	if req.OfferingID != "" {
		offeringID, err := uuid.Parse(req.OfferingID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offering_id", "offering_id must be a valid UUID")
			return
		}
		md.OfferingID = &offeringID
	}

	appt, err := h.svc.BookSlot(r.Context(), appointment.BookingRequest{
		ProviderID:  providerID,
		RequesterID: actor.ID,
		Date:        date,
		Window:      window,
		Metadata:    md,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) transitionAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := appointmentIDParam(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	// unknown labels go through as-is so the state machine rejects them
	to, known := appointment.ParseStatus(req.Status)
	if !known {
		to = appointment.Status(req.Status)
	}

	appt, err := h.svc.TransitionAppointment(r.Context(), id, actor, to, req.Notes)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := appointmentIDParam(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var f appointment.ListFilter

	if s := q.Get("status"); s != "" {
		status, known := appointment.ParseStatus(s)
		if !known {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+strconv.Quote(s))
			return
		}
		f.Status = &status
	}
	if s := q.Get("date"); s != "" {
		date, ok := parseDate(w, s)
		if !ok {
			return
		}
		f.Date = &date
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		f.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
			return
		}
		f.Offset = n
	}

	appts, err := h.svc.ListAppointments(r.Context(), actor, f)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	page := f.Page()
	resp := ListAppointmentsResponse{Items: make([]AppointmentResponse, 0, len(appts)), Limit: page.Limit, Offset: page.Offset}
	for i := range appts {
		resp.Items = append(resp.Items, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	providerID, ok := providerIDParam(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.GetSchedule(r.Context(), providerID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := make([]ScheduleEntryResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, toScheduleEntryResponse(&entries[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) putScheduleEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	providerID, ok := providerIDParam(w, r)
	if !ok {
		return
	}
	day, err := availability.ParseWeekday(chi.URLParam(r, "day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_day", err.Error())
		return
	}

	var req ScheduleEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	window, ok := parseWindow(w, req.Start, req.End)
	if !ok {
		return
	}
	if req.SlotMinutes <= 0 || req.SlotMinutes > availability.MinutesPerDay {
		writeError(w, http.StatusBadRequest, "invalid_schedule", "slot_minutes must be between 1 and 1440")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	saved, err := h.svc.PutScheduleEntry(r.Context(), actor, availability.WeeklyScheduleEntry{
		ProviderID:   providerID,
		Day:          day,
		Window:       window,
		SlotDuration: time.Duration(req.SlotMinutes) * time.Minute,
		Active:       active,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toScheduleEntryResponse(saved))
}

func (h *handlers) addUnavailableSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	providerID, ok := providerIDParam(w, r)
	if !ok {
		return
	}

	var req UnavailableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	date, ok := parseDate(w, req.Date)
	if !ok {
		return
	}
	window, ok := parseWindow(w, req.Start, req.End)
	if !ok {
		return
	}

	saved, err := h.svc.AddUnavailableSession(r.Context(), actor, availability.UnavailableSession{
		ProviderID: providerID,
		Date:       date,
		Window:     window,
		Reason:     req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, UnavailableResponse{
		ID:     saved.ID,
		Date:   saved.Date.String(),
		Start:  saved.Window.Start.String(),
		End:    saved.Window.End.String(),
		Reason: saved.Reason,
	})
}
