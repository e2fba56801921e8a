package availability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const MinutesPerDay = 24 * 60

var (
	ErrInvalidClockTime = errors.New("clock time must be HH:MM between 00:00 and 24:00")
	ErrInvalidWindow    = errors.New("window start must be before window end")
)

// ClockTime is a wall-clock instant within a provider-local day, in minutes
// since midnight. 24:00 is allowed so a window can close at end of day.
type ClockTime int

func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClockTime accepts "HH:MM" (and "HH:MM:SS" with zero seconds, which is
// how Postgres prints TIME values).
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}
	if len(parts) == 3 && parts[2] != "00" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}

	if !isDigits(parts[0], 1, 2) || !isDigits(parts[1], 2, 2) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}

	c := NewClockTime(h, m)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}
	return c, nil
}

// isDigits reports whether s is between min and max ASCII digits long.
func isDigits(s string, min, max int) bool {
	if len(s) < min || len(s) > max {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (c ClockTime) Valid() bool {
	return c >= 0 && c <= MinutesPerDay
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) Add(d time.Duration) ClockTime {
	return c + ClockTime(d/time.Minute)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeWindow is the half-open interval [Start, End) within one day.
type TimeWindow struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

func NewWindow(start, end ClockTime) TimeWindow {
	return TimeWindow{Start: start, End: end}
}

// ParseWindow parses "HH:MM" bounds. It does not check Start < End; callers
// decide whether an inverted window is an error.
func ParseWindow(start, end string) (TimeWindow, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return TimeWindow{}, err
	}
	return TimeWindow{Start: s, End: e}, nil
}

func (w TimeWindow) Valid() bool {
	return w.Start.Valid() && w.End.Valid() && w.Start < w.End
}

func (w TimeWindow) Validate() error {
	if !w.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, w)
	}
	return nil
}

func (w TimeWindow) Duration() time.Duration {
	if w.End <= w.Start {
		return 0
	}
	return time.Duration(w.End-w.Start) * time.Minute
}

// Overlaps reports whether the two windows share at least one instant.
// Windows that only touch (one ends exactly when the other starts) do not.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start < o.End && o.Start < w.End
}

// Contains reports whether o lies entirely inside w.
func (w TimeWindow) Contains(o TimeWindow) bool {
	return w.Start <= o.Start && o.End <= w.End
}

func (w TimeWindow) String() string {
	return w.Start.String() + "-" + w.End.String()
}
