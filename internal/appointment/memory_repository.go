package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-booking-engine/internal/availability"
	"github.com/hackgods/provider-booking-engine/internal/lock"
)

type memOffering struct {
	providerID uuid.UUID
	available  bool
}

// MemoryRepository is an in-process Store. Inserts for one provider and date
// are serialized by a per-key lock; the map lock is only held for the short
// read or write of shared state.
type MemoryRepository struct {
	mu          sync.RWMutex
	providers   map[uuid.UUID]Provider
	offerings   map[uuid.UUID]memOffering
	schedules   map[uuid.UUID]map[time.Weekday]availability.WeeklyScheduleEntry
	unavailable map[string][]availability.UnavailableSession // booking key -> block-outs
	days        map[string][]int64                           // booking key -> appointment ids
	appts       map[int64]*Appointment
	events      []EventLog

	nextAppt    int64
	nextEvent   int64
	nextSession int64

	keys *lock.Keyed
}

// NewMemoryRepository returns an empty store. lockWait bounds how long an
// insert waits for another insert on the same key before it is reported
// busy.
func NewMemoryRepository(lockWait time.Duration) *MemoryRepository {
	return &MemoryRepository{
		providers:   make(map[uuid.UUID]Provider),
		offerings:   make(map[uuid.UUID]memOffering),
		schedules:   make(map[uuid.UUID]map[time.Weekday]availability.WeeklyScheduleEntry),
		unavailable: make(map[string][]availability.UnavailableSession),
		days:        make(map[string][]int64),
		appts:       make(map[int64]*Appointment),
		keys:        lock.NewKeyed(lockWait),
	}
}

// AddProvider registers a provider, for setup and tests.
func (m *MemoryRepository) AddProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

// AddOffering registers an offering for a provider.
func (m *MemoryRepository) AddOffering(providerID, offeringID uuid.UUID, available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offerings[offeringID] = memOffering{providerID: providerID, available: available}
}

func (m *MemoryRepository) GetProvider(_ context.Context, id uuid.UUID) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) OfferingAvailable(_ context.Context, providerID, offeringID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.offerings[offeringID]
	return ok && o.available && o.providerID == providerID, nil
}

func (m *MemoryRepository) GetSchedule(_ context.Context, providerID uuid.UUID) ([]availability.WeeklyScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []availability.WeeklyScheduleEntry{}
	for _, e := range m.schedules[providerID] {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Day < result[j].Day })
	return result, nil
}

func (m *MemoryRepository) UpsertScheduleEntry(_ context.Context, e availability.WeeklyScheduleEntry) (*availability.WeeklyScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	byDay, ok := m.schedules[e.ProviderID]
	if !ok {
		byDay = make(map[time.Weekday]availability.WeeklyScheduleEntry)
		m.schedules[e.ProviderID] = byDay
	}
	byDay[e.Day] = e
	return &e, nil
}

// AddUnavailableSession takes the booking key so it is ordered with inserts
// for the same provider and date.
func (m *MemoryRepository) AddUnavailableSession(ctx context.Context, s availability.UnavailableSession) (*availability.UnavailableSession, error) {
	key := BookingKey(s.ProviderID, s.Date)

	err := m.keys.WithKeyLock(ctx, key, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.nextSession++
		s.ID = m.nextSession
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now()
		}
		m.unavailable[key] = append(m.unavailable[key], s)
		return nil
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, withDetail(ErrBusy, err)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MemoryRepository) DaySnapshot(_ context.Context, providerID uuid.UUID, date availability.Date) (*DaySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(providerID, date), nil
}

// snapshotLocked copies the day's state. Callers hold m.mu.
func (m *MemoryRepository) snapshotLocked(providerID uuid.UUID, date availability.Date) *DaySnapshot {
	snap := &DaySnapshot{ProviderID: providerID, Date: date}

	if e, ok := m.schedules[providerID][date.Weekday()]; ok && e.Active {
		entry := e
		snap.Entry = &entry
	}

	key := BookingKey(providerID, date)
	snap.Unavailable = append([]availability.UnavailableSession(nil), m.unavailable[key]...)

	for _, id := range m.days[key] {
		a := m.appts[id]
		if a.Status.Blocks() {
			snap.Scheduled = append(snap.Scheduled, *a)
		}
	}
	sort.Slice(snap.Scheduled, func(i, j int) bool {
		return snap.Scheduled[i].Window.Start < snap.Scheduled[j].Window.Start
	})

	return snap
}

func (m *MemoryRepository) InsertScheduled(ctx context.Context, appt Appointment) (*Appointment, error) {
	key := BookingKey(appt.ProviderID, appt.Date)

	var created *Appointment
	err := m.keys.WithKeyLock(ctx, key, func(ctx context.Context) error {
		// check and append under one write lock so a block-out or schedule
		// change cannot land between them
		m.mu.Lock()
		defer m.mu.Unlock()

		if err := m.snapshotLocked(appt.ProviderID, appt.Date).CheckBookable(appt.Window); err != nil {
			return err
		}

		m.nextAppt++
		a := appt
		a.ID = m.nextAppt
		a.Status = StatusScheduled
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		a.UpdatedAt = a.CreatedAt

		m.appts[a.ID] = &a
		m.days[key] = append(m.days[key], a.ID)

		out := a
		created = &out
		return nil
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, withDetail(ErrBusy, err)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id int64) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *a
	return &out, nil
}

func (m *MemoryRepository) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Appointment
	for _, a := range m.appts {
		if f.ProviderID != nil && a.ProviderID != *f.ProviderID {
			continue
		}
		if f.RequesterID != nil && a.RequesterID != *f.RequesterID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Date != nil && a.Date != *f.Date {
			continue
		}
		matched = append(matched, *a)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Date != b.Date {
			return b.Date.Before(a.Date)
		}
		if a.Window.Start != b.Window.Start {
			return a.Window.Start > b.Window.Start
		}
		return a.ID > b.ID
	})

	if f.Offset >= len(matched) {
		return []Appointment{}, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id int64, from, to Status, notes *string, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	a.Status = to
	if notes != nil {
		a.Metadata.Notes = *notes
	}
	if at.IsZero() {
		at = time.Now()
	}
	a.UpdatedAt = at

	out := *a
	return &out, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEvent++
	ev.ID = m.nextEvent
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryRepository) ListUnpublishedEvents(_ context.Context, limit int) ([]EventLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []EventLog{}
	for _, ev := range m.events {
		if ev.PublishedAt != nil {
			continue
		}
		result = append(result, ev)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryRepository) MarkEventsPublished(_ context.Context, ids []int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range m.events {
		if want[m.events[i].ID] && m.events[i].PublishedAt == nil {
			t := at
			m.events[i].PublishedAt = &t
		}
	}
	return nil
}
