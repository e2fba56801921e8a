package availability

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	valid := map[string]ClockTime{
		"00:00":    0,
		"09:30":    NewClockTime(9, 30),
		"9:05":     NewClockTime(9, 5),
		"23:59":    NewClockTime(23, 59),
		"24:00":    MinutesPerDay,
		"14:00:00": NewClockTime(14, 0),
	}
	for in, want := range valid {
		got, err := ParseClockTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "9", "24:01", "25:00", "12:60", "12:5", "ab:cd", "12:00:30", "-1:00", "+9:00", "-0:30", "09:+5"} {
		_, err := ParseClockTime(in)
		assert.ErrorIs(t, err, ErrInvalidClockTime, in)
	}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	w := func(a, b string) TimeWindow {
		win, err := ParseWindow(a, b)
		require.NoError(t, err)
		return win
	}

	cases := []struct {
		name string
		a, b TimeWindow
		want bool
	}{
		{"identical", w("09:00", "09:30"), w("09:00", "09:30"), true},
		{"partial", w("09:00", "09:30"), w("09:15", "09:45"), true},
		{"contained", w("09:00", "10:00"), w("09:10", "09:20"), true},
		{"touching end", w("09:00", "09:30"), w("09:30", "10:00"), false},
		{"touching start", w("09:30", "10:00"), w("09:00", "09:30"), false},
		{"disjoint", w("09:00", "09:30"), w("11:00", "11:30"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Overlaps(tc.b))
			assert.Equal(t, tc.want, tc.b.Overlaps(tc.a), "overlap must be symmetric")
		})
	}
}

func TestWindowValidate(t *testing.T) {
	assert.NoError(t, NewWindow(NewClockTime(9, 0), NewClockTime(9, 1)).Validate())
	assert.ErrorIs(t, NewWindow(NewClockTime(9, 0), NewClockTime(9, 0)).Validate(), ErrInvalidWindow)
	assert.ErrorIs(t, NewWindow(NewClockTime(10, 0), NewClockTime(9, 0)).Validate(), ErrInvalidWindow)
	assert.Equal(t, 90*time.Minute, NewWindow(NewClockTime(9, 0), NewClockTime(10, 30)).Duration())
}

func TestWindowJSON(t *testing.T) {
	var w TimeWindow
	require.NoError(t, json.Unmarshal([]byte(`{"start":"09:15","end":"09:45"}`), &w))
	assert.Equal(t, NewWindow(NewClockTime(9, 15), NewClockTime(9, 45)), w)

	out, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"09:15","end":"09:45"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"start":"9h","end":"09:45"}`), &w))
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d.Weekday())
	assert.Equal(t, "2024-01-15", d.String())
	assert.Equal(t, NewDate(2024, time.February, 1), NewDate(2024, time.January, 32))
	assert.True(t, d.Before(d.AddDays(1)))

	_, err = ParseDate("15/01/2024")
	assert.ErrorIs(t, err, ErrInvalidDate)

	loc, err := time.LoadLocation("Africa/Nairobi")
	require.NoError(t, err)
	at := d.At(NewClockTime(9, 30), loc)
	assert.Equal(t, 9, at.Hour())
	assert.Equal(t, 30, at.Minute())
	assert.Equal(t, loc, at.Location())
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{"Mon": time.Monday, "sunday": time.Sunday, "6": time.Saturday} {
		got, err := ParseWeekday(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseWeekday("funday")
	assert.ErrorIs(t, err, ErrInvalidWeekday)
	_, err = ParseWeekday("7")
	assert.ErrorIs(t, err, ErrInvalidWeekday)
}

func TestScheduleEntryValidate(t *testing.T) {
	entry := WeeklyScheduleEntry{
		Day:          time.Monday,
		Window:       NewWindow(NewClockTime(9, 0), NewClockTime(17, 0)),
		SlotDuration: 30 * time.Minute,
		Active:       true,
	}
	assert.NoError(t, entry.Validate())

	bad := entry
	bad.SlotDuration = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSlotDuration)

	bad = entry
	bad.SlotDuration = 90 * time.Second
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSlotDuration)

	bad = entry
	bad.Window = NewWindow(NewClockTime(17, 0), NewClockTime(9, 0))
	assert.ErrorIs(t, bad.Validate(), ErrInvalidWindow)

	bad = entry
	bad.Day = time.Weekday(9)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidWeekday)

	bad = entry
	bad.SlotDuration = 9 * time.Hour
	assert.ErrorIs(t, bad.Validate(), ErrSlotExceedsWindow)

	bad = entry
	bad.SlotDuration = 65566 * time.Minute
	assert.ErrorIs(t, bad.Validate(), ErrSlotExceedsWindow)

	full := entry
	full.SlotDuration = 8 * time.Hour
	assert.NoError(t, full.Validate())
}
