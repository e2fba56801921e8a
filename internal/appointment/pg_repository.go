package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/provider-booking-engine/internal/availability"
)

const appointmentColumns = `id, provider_id, requester_id, appointment_date, start_minute, end_minute, status,
	reason, notes, consultation_type, offering_id, address, created_at, updated_at`

type PgRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPgRepository returns the Postgres store. lockTimeout bounds how long a
// booking waits on the per provider+date advisory lock before it is reported
// busy.
func NewPgRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *PgRepository {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &PgRepository{pool: pool, lockTimeout: lockTimeout}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Role,
		&p.Active,
		&p.Timezone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var start, end int16
	var offeringID *uuid.UUID

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.RequesterID,
		&date,
		&start,
		&end,
		&a.Status,
		&a.Metadata.Reason,
		&a.Metadata.Notes,
		&a.Metadata.ConsultationType,
		&offeringID,
		&a.Metadata.Address,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = availability.DateOf(date)
	a.Window = availability.NewWindow(availability.ClockTime(start), availability.ClockTime(end))
	a.Metadata.OfferingID = offeringID
	return &a, nil
}

func scanScheduleEntry(row pgx.Row) (*availability.WeeklyScheduleEntry, error) {
	var e availability.WeeklyScheduleEntry
	var day, start, end, slot int16

	err := row.Scan(
		&e.ProviderID,
		&day,
		&start,
		&end,
		&slot,
		&e.Active,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Day = time.Weekday(day)
	e.Window = availability.NewWindow(availability.ClockTime(start), availability.ClockTime(end))
	e.SlotDuration = time.Duration(slot) * time.Minute
	return &e, nil
}

func scanUnavailable(row pgx.Row) (*availability.UnavailableSession, error) {
	var u availability.UnavailableSession
	var date time.Time
	var start, end int16

	err := row.Scan(
		&u.ID,
		&u.ProviderID,
		&date,
		&start,
		&end,
		&u.Reason,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Date = availability.DateOf(date)
	u.Window = availability.NewWindow(availability.ClockTime(start), availability.ClockTime(end))
	return &u, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	result := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// classifyPgError turns lock timeouts and exclusion violations into business
// errors; anything else stays an infrastructure error.
func classifyPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return withDetail(ErrBusy, err)
		case "23P01": // exclusion_violation
			return withDetail(ErrSlotTaken, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Directory and catalog

func (r *PgRepository) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, role, is_active, timezone, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) OfferingAvailable(ctx context.Context, providerID, offeringID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM provider_offerings
			WHERE id = $1 AND provider_id = $2 AND is_available
		)
	`, offeringID, providerID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check offering: %w", err)
	}
	return ok, nil
}

// Schedule

func (r *PgRepository) GetSchedule(ctx context.Context, providerID uuid.UUID) ([]availability.WeeklyScheduleEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, day_of_week, start_minute, end_minute, slot_minutes, is_active, updated_at
		FROM weekly_schedules
		WHERE provider_id = $1
		ORDER BY day_of_week
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	return collect(rows, scanScheduleEntry)
}

func (r *PgRepository) UpsertScheduleEntry(ctx context.Context, e availability.WeeklyScheduleEntry) (*availability.WeeklyScheduleEntry, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO weekly_schedules (provider_id, day_of_week, start_minute, end_minute, slot_minutes, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		ON CONFLICT (provider_id, day_of_week) DO UPDATE
		SET start_minute = EXCLUDED.start_minute,
		    end_minute = EXCLUDED.end_minute,
		    slot_minutes = EXCLUDED.slot_minutes,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
		RETURNING provider_id, day_of_week, start_minute, end_minute, slot_minutes, is_active, updated_at
	`, e.ProviderID, int16(e.Day), int16(e.Window.Start), int16(e.Window.End),
		int16(e.SlotDuration/time.Minute), e.Active, nullableTime(e.UpdatedAt))

	saved, err := scanScheduleEntry(row)
	if err != nil {
		return nil, fmt.Errorf("upsert schedule entry: %w", err)
	}
	return saved, nil
}

// AddUnavailableSession takes the same advisory lock as InsertScheduled so a
// booking that read the day before the block-out commits first.
func (r *PgRepository) AddUnavailableSession(ctx context.Context, s availability.UnavailableSession) (*availability.UnavailableSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin unavailable session: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		BookingKey(s.ProviderID, s.Date),
	); err != nil {
		return nil, classifyPgError("advisory lock", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO unavailable_sessions (provider_id, session_date, start_minute, end_minute, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		RETURNING id, provider_id, session_date, start_minute, end_minute, reason, created_at
	`, s.ProviderID, s.Date.Time(), int16(s.Window.Start), int16(s.Window.End), s.Reason, nullableTime(s.CreatedAt))

	saved, err := scanUnavailable(row)
	if err != nil {
		return nil, fmt.Errorf("insert unavailable session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyPgError("commit unavailable session", err)
	}
	return saved, nil
}

// Ledger

func readDay(ctx context.Context, q querier, providerID uuid.UUID, date availability.Date) (*DaySnapshot, error) {
	snap := &DaySnapshot{ProviderID: providerID, Date: date}

	entry, err := scanScheduleEntry(q.QueryRow(ctx, `
		SELECT provider_id, day_of_week, start_minute, end_minute, slot_minutes, is_active, updated_at
		FROM weekly_schedules
		WHERE provider_id = $1 AND day_of_week = $2 AND is_active
	`, providerID, int16(date.Weekday())))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load schedule entry: %w", err)
	default:
		snap.Entry = entry
	}

	rows, err := q.Query(ctx, `
		SELECT id, provider_id, session_date, start_minute, end_minute, reason, created_at
		FROM unavailable_sessions
		WHERE provider_id = $1 AND session_date = $2
		ORDER BY start_minute
	`, providerID, date.Time())
	if err != nil {
		return nil, fmt.Errorf("query unavailable sessions: %w", err)
	}
	if snap.Unavailable, err = collect(rows, scanUnavailable); err != nil {
		return nil, fmt.Errorf("scan unavailable sessions: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND appointment_date = $2 AND status = 'scheduled'
		ORDER BY start_minute
	`, providerID, date.Time())
	if err != nil {
		return nil, fmt.Errorf("query scheduled appointments: %w", err)
	}
	if snap.Scheduled, err = collect(rows, scanAppointment); err != nil {
		return nil, fmt.Errorf("scan scheduled appointments: %w", err)
	}

	return snap, nil
}

func (r *PgRepository) DaySnapshot(ctx context.Context, providerID uuid.UUID, date availability.Date) (*DaySnapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := readDay(ctx, tx, providerID, date)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return snap, nil
}

// InsertScheduled serializes on a transaction-scoped advisory lock derived
// from the booking key, re-reads the day and inserts. The exclusion
// constraint on appointments backs this up if anything bypasses the lock.
func (r *PgRepository) InsertScheduled(ctx context.Context, appt Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		BookingKey(appt.ProviderID, appt.Date),
	); err != nil {
		return nil, classifyPgError("advisory lock", err)
	}

	snap, err := readDay(ctx, tx, appt.ProviderID, appt.Date)
	if err != nil {
		return nil, err
	}
	if err := snap.CheckBookable(appt.Window); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (provider_id, requester_id, appointment_date, start_minute, end_minute, status,
			reason, notes, consultation_type, offering_id, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'scheduled', $6, $7, $8, $9, $10, COALESCE($11, now()), COALESCE($11, now()))
		RETURNING `+appointmentColumns,
		appt.ProviderID, appt.RequesterID, appt.Date.Time(), int16(appt.Window.Start), int16(appt.Window.End),
		appt.Metadata.Reason, appt.Metadata.Notes, string(appt.Metadata.ConsultationType), appt.Metadata.OfferingID,
		appt.Metadata.Address, nullableTime(appt.CreatedAt),
	)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, classifyPgError("insert appointment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyPgError("commit booking", err)
	}

	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ProviderID != nil {
		add("provider_id = $%d", *f.ProviderID)
	}
	if f.RequesterID != nil {
		add("requester_id = $%d", *f.RequesterID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Date != nil {
		add("appointment_date = $%d", f.Date.Time())
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM appointments
		%s
		ORDER BY appointment_date DESC, start_minute DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id int64, from, to Status, notes *string, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = COALESCE($4, notes),
		    updated_at = COALESCE($5, now())
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from), notes, nullableTime(at))

	return scanAppointment(row)
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) ListUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at, published_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished events: %w", err)
	}

	return collect(rows, func(row pgx.Row) (*EventLog, error) {
		var ev EventLog
		if err := row.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt, &ev.PublishedAt); err != nil {
			return nil, err
		}
		return &ev, nil
	})
}

func (r *PgRepository) MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE event_logs
		SET published_at = $2
		WHERE id = ANY($1) AND published_at IS NULL
	`, ids, at)
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
