package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/provider-booking-engine/internal/availability"
	"github.com/hackgods/provider-booking-engine/internal/lock"
)

var fixedNow = time.Date(2024, time.January, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *Service
	store     *MemoryRepository
	provider  uuid.UUID
	nurse     uuid.UUID
	offering  uuid.UUID
	requester uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := NewMemoryRepository(time.Second)
	f := &fixture{
		store:     store,
		provider:  uuid.New(),
		nurse:     uuid.New(),
		offering:  uuid.New(),
		requester: uuid.New(),
	}

	store.AddProvider(Provider{ID: f.provider, Name: "Dr. Wanjiru", Role: ProviderConsultation, Active: true, Timezone: "UTC"})
	store.AddProvider(Provider{ID: f.nurse, Name: "Nurse Otieno", Role: ProviderInHomeService, Active: true})
	store.AddOffering(f.nurse, f.offering, true)

	for _, pid := range []uuid.UUID{f.provider, f.nurse} {
		_, err := store.UpsertScheduleEntry(ctx, availability.WeeklyScheduleEntry{
			ProviderID:   pid,
			Day:          time.Monday,
			Window:       win("09:00", "10:00"),
			SlotDuration: 30 * time.Minute,
			Active:       true,
		})
		require.NoError(t, err)
	}

	f.svc = NewService(store, lock.NewKeyed(time.Second), ClockFunc(func() time.Time { return fixedNow }), zerolog.Nop())
	return f
}

func (f *fixture) request(w availability.TimeWindow) BookingRequest {
	return BookingRequest{
		ProviderID:  f.provider,
		RequesterID: f.requester,
		Date:        monday,
		Window:      w,
		Metadata:    Metadata{Reason: "checkup", ConsultationType: ConsultationVideo},
	}
}

func (f *fixture) requesterActor() *Actor {
	return &Actor{ID: f.requester, Role: ActorRequester}
}

func (f *fixture) providerActor() *Actor {
	return &Actor{ID: f.provider, Role: ActorProvider}
}

func windows(slots []availability.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Window.String())
	}
	return out
}

func TestListFreeSlots_MondaySchedule(t *testing.T) {
	f := newFixture(t)

	slots, err := f.svc.ListFreeSlots(context.Background(), f.provider, monday)
	require.NoError(t, err)

	assert.Equal(t, []string{"09:00-09:30", "09:30-10:00"}, windows(slots))
}

func TestListFreeSlots_NoEntryForWeekday(t *testing.T) {
	f := newFixture(t)

	slots, err := f.svc.ListFreeSlots(context.Background(), f.provider, monday.AddDays(1))
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestListFreeSlots_UnknownProvider(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListFreeSlots(context.Background(), uuid.New(), monday)
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestListFreeSlots_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)

	first, err := f.svc.ListFreeSlots(ctx, f.provider, monday)
	require.NoError(t, err)
	second, err := f.svc.ListFreeSlots(ctx, f.provider, monday)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"09:30-10:00"}, windows(first))
}

func TestBookSlot_Success(t *testing.T) {
	f := newFixture(t)

	appt, err := f.svc.BookSlot(context.Background(), f.request(win("09:00", "09:30")))
	require.NoError(t, err)

	assert.Equal(t, int64(1), appt.ID)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, f.provider, appt.ProviderID)
	assert.Equal(t, f.requester, appt.RequesterID)
	assert.Equal(t, fixedNow, appt.CreatedAt)
	assert.Equal(t, ConsultationVideo, appt.Metadata.ConsultationType)

	events, err := f.store.ListUnpublishedEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentBooked, events[0].EventType)
	assert.Equal(t, appt.ID, *events[0].AppointmentID)
}

func TestBookSlot_OffGridWindowInsideAvailability(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookSlot(context.Background(), f.request(win("09:10", "09:25")))
	require.NoError(t, err)

	slots, err := f.svc.ListFreeSlots(context.Background(), f.provider, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:30-10:00"}, windows(slots))
}

func TestBookSlot_OutsideAvailability(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookSlot(context.Background(), f.request(win("08:00", "08:30")))

	assert.ErrorIs(t, err, ErrOutsideAvailability)
	assert.True(t, IsKind(err, KindConflict))
}

func TestBookSlot_InvertedWindow(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.BookSlot(context.Background(), f.request(win("09:30", "09:00")))

	assert.ErrorIs(t, err, ErrInvalidWindow)
	assert.True(t, IsKind(err, KindValidation))
}

func TestBookSlot_OverlapIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)

	_, err = f.svc.BookSlot(ctx, f.request(win("09:15", "09:45")))
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestBookSlot_TouchingWindowsDoNotConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)
	_, err = f.svc.BookSlot(ctx, f.request(win("09:30", "10:00")))
	require.NoError(t, err)
}

func TestBookSlot_ConcurrentOverlappingRequests(t *testing.T) {
	f := newFixture(t)

	reqs := []BookingRequest{f.request(win("09:00", "09:30")), f.request(win("09:15", "09:45"))}
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.BookSlot(context.Background(), reqs[i])
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotTaken):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestBookSlot_NoOverlapUnderContention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const bookers = 60
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// windows of 10 to 30 minutes at 5 minute offsets across 09:00-10:00
			begin := availability.NewClockTime(9, (i%10)*5)
			length := time.Duration(10+(i%3)*10) * time.Minute
			req := f.request(availability.NewWindow(begin, begin.Add(length)))
			req.RequesterID = uuid.New()
			<-start
			_, err := f.svc.BookSlot(ctx, req)
			if err != nil && !IsKind(err, KindConflict) {
				t.Errorf("booker %d: unexpected error: %v", i, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	snap, err := f.store.DaySnapshot(ctx, f.provider, monday)
	require.NoError(t, err)
	require.NotEmpty(t, snap.Scheduled)

	for i := range snap.Scheduled {
		for j := i + 1; j < len(snap.Scheduled); j++ {
			a, b := snap.Scheduled[i], snap.Scheduled[j]
			assert.False(t, a.Window.Overlaps(b.Window), "appointments %d (%s) and %d (%s) overlap", a.ID, a.Window, b.ID, b.Window)
		}
	}
}

type busyLocker struct{}

func (busyLocker) WithKeyLock(context.Context, string, func(context.Context) error) error {
	return fmt.Errorf("booking lock: %w", lock.ErrNotAcquired)
}

func TestBookSlot_BusyLeavesLedgerUnchanged(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, busyLocker{}, ClockFunc(func() time.Time { return fixedNow }), zerolog.Nop())

	_, err := svc.BookSlot(context.Background(), f.request(win("09:00", "09:30")))

	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, IsKind(err, KindBusy))

	appts, err := f.store.ListAppointments(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, appts)
}

func TestBookSlot_PreChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive := uuid.New()
	f.store.AddProvider(Provider{ID: inactive, Role: ProviderConsultation, Active: false})

	tests := []struct {
		name   string
		mutate func(*BookingRequest)
		want   error
	}{
		{"missing requester", func(r *BookingRequest) { r.RequesterID = uuid.Nil }, ErrMissingActor},
		{"missing date", func(r *BookingRequest) { r.Date = availability.Date{} }, ErrInvalidDate},
		{"unknown provider", func(r *BookingRequest) { r.ProviderID = uuid.New() }, ErrProviderNotFound},
		{"inactive provider", func(r *BookingRequest) { r.ProviderID = inactive }, ErrProviderInactive},
		{"bad consultation type", func(r *BookingRequest) { r.Metadata.ConsultationType = "carrier_pigeon" }, ErrInvalidMetadata},
		{"already started", func(r *BookingRequest) { r.Date = availability.DateOf(fixedNow).AddDays(-7) }, ErrWindowInPast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(win("09:00", "09:30"))
			tt.mutate(&req)
			_, err := f.svc.BookSlot(ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBookSlot_InHomeService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := func() BookingRequest {
		off := f.offering
		return BookingRequest{
			ProviderID:  f.nurse,
			RequesterID: f.requester,
			Date:        monday,
			Window:      win("09:00", "09:30"),
			Metadata:    Metadata{OfferingID: &off, Address: "12 Ngong Road", Notes: "gate code 42"},
		}
	}

	req := base()
	req.Metadata.OfferingID = nil
	_, err := f.svc.BookSlot(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	req = base()
	req.Metadata.Address = " "
	_, err = f.svc.BookSlot(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	req = base()
	other := uuid.New()
	req.Metadata.OfferingID = &other
	_, err = f.svc.BookSlot(ctx, req)
	assert.ErrorIs(t, err, ErrOfferingNotFound)

	appt, err := f.svc.BookSlot(ctx, base())
	require.NoError(t, err)
	assert.Equal(t, "12 Ngong Road", appt.Metadata.Address)
}

func TestBookSlot_BlockOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddUnavailableSession(ctx, f.providerActor(), availability.UnavailableSession{
		ProviderID: f.provider,
		Date:       monday,
		Window:     win("09:30", "10:00"),
		Reason:     "staff meeting",
	})
	require.NoError(t, err)

	slots, err := f.svc.ListFreeSlots(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00-09:30"}, windows(slots))

	_, err = f.svc.BookSlot(ctx, f.request(win("09:45", "10:00")))
	assert.ErrorIs(t, err, ErrOutsideAvailability)
}

func TestCancelFreesWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)

	slots, err := f.svc.ListFreeSlots(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:30-10:00"}, windows(slots))

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, f.requesterActor(), StatusCancelled, nil)
	require.NoError(t, err)

	slots, err = f.svc.ListFreeSlots(ctx, f.provider, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00-09:30", "09:30-10:00"}, windows(slots))

	_, err = f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	assert.NoError(t, err)
}

func TestTransition_CompletedIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)

	notes := "follow up in two weeks"
	done, err := f.svc.TransitionAppointment(ctx, appt.ID, f.providerActor(), StatusCompleted, &notes)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, notes, done.Metadata.Notes)

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, f.providerActor(), StatusScheduled, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, f.providerActor(), StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := f.svc.GetAppointment(ctx, appt.ID, f.requesterActor())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestTransition_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, nil, StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrMissingActor)

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, &Actor{ID: uuid.New(), Role: ActorRequester}, StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, f.requesterActor(), Status("rescheduled"), nil)
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = f.svc.TransitionAppointment(ctx, 999, f.requesterActor(), StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	got, err := f.store.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
}

func TestTransition_RacingTransitionsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)

	targets := []Status{StatusCancelled, StatusCompleted, StatusNoShow, StatusCancelled}
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to Status) {
			defer wg.Done()
			_, errs[i] = f.svc.TransitionAppointment(ctx, appt.ID, f.providerActor(), to, nil)
		}(i, to)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 1, wins)
}

func TestGetAppointment_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)

	_, err = f.svc.GetAppointment(ctx, appt.ID, f.providerActor())
	assert.NoError(t, err)
	_, err = f.svc.GetAppointment(ctx, appt.ID, &Actor{ID: uuid.New(), Role: ActorAdmin})
	assert.NoError(t, err)
	_, err = f.svc.GetAppointment(ctx, appt.ID, &Actor{ID: uuid.New(), Role: ActorRequester})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListAppointments_ScopedToActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)

	other := f.request(win("09:30", "10:00"))
	other.RequesterID = uuid.New()
	_, err = f.svc.BookSlot(ctx, other)
	require.NoError(t, err)

	mine, err := f.svc.ListAppointments(ctx, f.requesterActor(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.requester, mine[0].RequesterID)

	theirs, err := f.svc.ListAppointments(ctx, f.providerActor(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, theirs, 2)
	assert.Equal(t, "09:30-10:00", theirs[0].Window.String(), "newest first")

	cancelled := StatusCancelled
	none, err := f.svc.ListAppointments(ctx, f.providerActor(), ListFilter{Status: &cancelled})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.ListAppointments(ctx, nil, ListFilter{})
	assert.ErrorIs(t, err, ErrMissingActor)
}

func TestPutScheduleEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := availability.WeeklyScheduleEntry{
		ProviderID:   f.provider,
		Day:          time.Tuesday,
		Window:       win("14:00", "16:00"),
		SlotDuration: 45 * time.Minute,
		Active:       true,
	}

	_, err := f.svc.PutScheduleEntry(ctx, f.requesterActor(), entry)
	assert.ErrorIs(t, err, ErrForbidden)

	bad := entry
	bad.SlotDuration = 0
	_, err = f.svc.PutScheduleEntry(ctx, f.providerActor(), bad)
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	bad.SlotDuration = 3 * time.Hour
	_, err = f.svc.PutScheduleEntry(ctx, f.providerActor(), bad)
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	saved, err := f.svc.PutScheduleEntry(ctx, f.providerActor(), entry)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, saved.UpdatedAt)

	schedule, err := f.svc.GetSchedule(ctx, f.provider)
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.Equal(t, time.Monday, schedule[0].Day)
	assert.Equal(t, time.Tuesday, schedule[1].Day)

	// 14:00-16:00 in 45m steps leaves a 30m remainder
	slots, err := f.svc.ListFreeSlots(ctx, f.provider, monday.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"14:00-14:45", "14:45-15:30"}, windows(slots))
}

type recordingPublisher struct {
	msgs   [][]byte
	failAt int
}

func (p *recordingPublisher) Publish(_ context.Context, data []byte) error {
	if p.failAt > 0 && len(p.msgs)+1 == p.failAt {
		return errors.New("redis unavailable")
	}
	p.msgs = append(p.msgs, data)
	return nil
}

func TestRelayEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)
	_, err = f.svc.TransitionAppointment(ctx, appt.ID, f.requesterActor(), StatusCancelled, nil)
	require.NoError(t, err)
	_, err = f.svc.BookSlot(ctx, f.request(win("09:00", "09:30")))
	require.NoError(t, err)

	pub := &recordingPublisher{failAt: 2}
	n, err := f.svc.RelayEvents(ctx, pub, 10)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, string(pub.msgs[0]), EventAppointmentBooked)

	pub.failAt = 0
	n, err = f.svc.RelayEvents(ctx, pub, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, string(pub.msgs[1]), EventAppointmentCancelled)

	left, err := f.store.ListUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}
