package availability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidSlotDuration = errors.New("slot duration must be a positive whole number of minutes")
	ErrSlotExceedsWindow   = errors.New("slot duration is longer than the schedule window")
	ErrInvalidWeekday      = errors.New("unsupported day of week")
)

// WeeklyScheduleEntry is a provider's recurring availability on one weekday.
type WeeklyScheduleEntry struct {
	ProviderID   uuid.UUID
	Day          time.Weekday
	Window       TimeWindow
	SlotDuration time.Duration
	Active       bool
	UpdatedAt    time.Time
}

func (e WeeklyScheduleEntry) Validate() error {
	if e.Day < time.Sunday || e.Day > time.Saturday {
		return fmt.Errorf("%w: %d", ErrInvalidWeekday, e.Day)
	}
	if err := e.Window.Validate(); err != nil {
		return err
	}
	if e.SlotDuration <= 0 || e.SlotDuration%time.Minute != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSlotDuration, e.SlotDuration)
	}
	if e.SlotDuration > e.Window.Duration() {
		return fmt.Errorf("%w: %s > %s", ErrSlotExceedsWindow, e.SlotDuration, e.Window)
	}
	return nil
}

// UnavailableSession blocks part of one date for a provider, for example a
// day off or a meeting.
type UnavailableSession struct {
	ID         int64
	ProviderID uuid.UUID
	Date       Date
	Window     TimeWindow
	Reason     string
	CreatedAt  time.Time
}

// Slot is a generated, never persisted, candidate booking window.
type Slot struct {
	ProviderID uuid.UUID  `json:"provider_id"`
	Date       Date       `json:"date"`
	Window     TimeWindow `json:"window"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts English day names, their three letter forms, or the
// numbers 0 (Sunday) through 6.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if d, ok := weekdayNames[key]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(key); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}
