package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
)

func transitionEvent(to Status) string {
	switch to {
	case StatusCompleted:
		return EventAppointmentCompleted
	case StatusCancelled:
		return EventAppointmentCancelled
	case StatusNoShow:
		return EventAppointmentNoShow
	}
	return "APPOINTMENT_" + string(to)
}

// Publisher delivers relayed events to neighbouring services.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// Envelope is the wire shape of a relayed event.
type Envelope struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	AppointmentID *int64          `json:"appointment_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RelayEvents publishes up to batch unpublished events in id order and marks
// the delivered ones. It stops at the first publish failure so ordering is
// kept; the remainder is retried on the next run.
func (s *Service) RelayEvents(ctx context.Context, pub Publisher, batch int) (int, error) {
	events, err := s.store.ListUnpublishedEvents(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("list unpublished events: %w", err)
	}

	var (
		delivered []int64
		pubErr    error
	)
	for _, ev := range events {
		data, err := json.Marshal(Envelope{
			ID:            ev.ID,
			Type:          ev.EventType,
			AppointmentID: ev.AppointmentID,
			Payload:       json.RawMessage(ev.Payload),
			CreatedAt:     ev.CreatedAt,
		})
		if err != nil {
			pubErr = fmt.Errorf("marshal event %d: %w", ev.ID, err)
			break
		}
		if err := pub.Publish(ctx, data); err != nil {
			pubErr = fmt.Errorf("publish event %d: %w", ev.ID, err)
			break
		}
		delivered = append(delivered, ev.ID)
	}

	if err := s.store.MarkEventsPublished(ctx, delivered, s.clock.Now()); err != nil {
		return 0, fmt.Errorf("mark events published: %w", err)
	}

	return len(delivered), pubErr
}

func (s *Service) logEvent(ctx context.Context, appointmentID int64, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.store.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Int64("appointment_id", appointmentID).
			Msg("failed to insert event log")
	}
}
