package availability

import (
	"time"

	"github.com/google/uuid"
)

// Generate partitions the day's schedule window into consecutive slots of
// entry.SlotDuration, in chronological order. A trailing remainder shorter
// than one slot is dropped. No entry, an inactive entry or an entry for a
// different weekday yields no slots.
func Generate(entry *WeeklyScheduleEntry, providerID uuid.UUID, date Date) []Slot {
	if entry == nil || !entry.Active || entry.Day != date.Weekday() {
		return []Slot{}
	}

	step := ClockTime(entry.SlotDuration / time.Minute)
	if step <= 0 || !entry.Window.Valid() {
		return []Slot{}
	}

	w := entry.Window
	slots := make([]Slot, 0, int(w.End-w.Start)/int(step))
	for cur := w.Start; cur+step <= w.End; cur += step {
		slots = append(slots, Slot{
			ProviderID: providerID,
			Date:       date,
			Window:     TimeWindow{Start: cur, End: cur + step},
		})
	}
	return slots
}

// FreeSlots drops every slot that overlaps any of the busy windows. Busy
// windows need not be aligned to the slot grid.
func FreeSlots(slots []Slot, busy []TimeWindow) []Slot {
	free := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if overlapsAny(s.Window, busy) {
			continue
		}
		free = append(free, s)
	}
	return free
}

// Fits reports whether w lies inside the active schedule entry for date.
func Fits(entry *WeeklyScheduleEntry, date Date, w TimeWindow) bool {
	if entry == nil || !entry.Active || entry.Day != date.Weekday() {
		return false
	}
	return entry.Window.Contains(w)
}

func overlapsAny(w TimeWindow, others []TimeWindow) bool {
	for _, o := range others {
		if w.Overlaps(o) {
			return true
		}
	}
	return false
}
