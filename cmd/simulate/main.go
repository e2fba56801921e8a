package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/auth"
	"github.com/hackgods/provider-booking-engine/internal/availability"
	"github.com/hackgods/provider-booking-engine/internal/config"
	"github.com/hackgods/provider-booking-engine/internal/db"
	"github.com/hackgods/provider-booking-engine/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	Requesters      int
	ProviderLimit   int
	BookingRatio    float64
	TransitionRatio float64
	ReadRatio       float64
	MaxRetries      uint64
	PostgresDSN     string
	JWTSecret       string
}

type target struct {
	ID     uuid.UUID
	Role   appointment.ProviderRole
	Day    time.Weekday
	Window availability.TimeWindow
	Slot   time.Duration
	Offers []uuid.UUID
}

type booked struct {
	ID       int64
	Provider uuid.UUID
}

type DataPool struct {
	Targets    []target
	Requesters []uuid.UUID
	Date       availability.Date

	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Busy      int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status == http.StatusServiceUnavailable:
		atomic.AddInt64(&om.Busy, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking    OperationMetrics
	Transition OperationMetrics
	Slots      OperationMetrics
	ReadByID   OperationMetrics
	List       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	tokens  *auth.Tokens
	logger  zerolog.Logger
	metrics Metrics
}

var visitReasons = []string{"follow-up", "annual checkup", "lab results review", "prescription renewal", "wound care", "first consultation"}

// errRetryBusy marks a 503 so the booking is retried with backoff.
var errRetryBusy = errors.New("provider busy")

func main() {
	base, err := config.Load()
	if err != nil {
		bootLogger := logging.New("simulate", "dev", "info")
		bootLogger.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New("simulate", base.Env, base.LogLevel)

	cfg := loadConfig(base)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("transition", cfg.TransitionRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, "simulate")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("providers", len(dataPool.Targets)).
		Int("requesters", len(dataPool.Requesters)).
		Str("date", dataPool.Date.String()).
		Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		tokens: auth.NewTokens(cfg.JWTSecret, cfg.Duration+time.Hour),
		logger: logger,
	}

	if err := sim.Run(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}

	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	overlaps, err := countOverlaps(verifyCtx, pgPool, dataPool.Date)
	if err != nil {
		logger.Fatal().Err(err).Msg("verify overlaps")
	}
	if overlaps > 0 {
		logger.Error().Int("pairs", overlaps).Msg("overlapping scheduled appointments found")
		os.Exit(1)
	}
	logger.Info().Msg("no overlapping scheduled appointments")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 20),
		Requesters:      getInt("SIM_REQUESTERS", 500),
		ProviderLimit:   getInt("SIM_PROVIDER_LIMIT", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		TransitionRatio: getFloat("SIM_TRANSITION_RATIO", 0.2),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		MaxRetries:      uint64(getInt("SIM_MAX_RETRIES", 3)),
		PostgresDSN:     base.PostgresDSN,
		JWTSecret:       base.JWTSecret,
	}

	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Requesters <= 0 {
		return fmt.Errorf("SIM_REQUESTERS must be > 0")
	}
	return nil
}

// loadDataPool picks a small set of providers so bookers collide, and targets
// the next Monday, which seeded providers always work.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	date := availability.DateOf(time.Now().UTC()).AddDays(1)
	for date.Weekday() != time.Monday {
		date = date.AddDays(1)
	}

	rows, err := pool.Query(ctx, `
		SELECT p.id, p.role, w.start_minute, w.end_minute, w.slot_minutes,
		       COALESCE(array_agg(o.id) FILTER (WHERE o.is_available), '{}')
		FROM providers p
		JOIN weekly_schedules w ON w.provider_id = p.id AND w.day_of_week = $1 AND w.is_active
		LEFT JOIN provider_offerings o ON o.provider_id = p.id
		WHERE p.is_active
		GROUP BY p.id, p.role, w.start_minute, w.end_minute, w.slot_minutes
		LIMIT $2
	`, int(date.Weekday()), cfg.ProviderLimit)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	defer rows.Close()

	dp := &DataPool{Date: date}
	for rows.Next() {
		var (
			t              target
			role           string
			start, end, sm int16
		)
		if err := rows.Scan(&t.ID, &role, &start, &end, &sm, &t.Offers); err != nil {
			return nil, err
		}
		t.Role = appointment.ProviderRole(role)
		t.Day = date.Weekday()
		t.Window = availability.NewWindow(availability.ClockTime(start), availability.ClockTime(end))
		t.Slot = time.Duration(sm) * time.Minute
		if t.Role == appointment.ProviderInHomeService && len(t.Offers) == 0 {
			continue
		}
		dp.Targets = append(dp.Targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dp.Targets) == 0 {
		return nil, fmt.Errorf("no providers with a %s schedule loaded", date.Weekday())
	}

	for i := 0; i < cfg.Requesters; i++ {
		dp.Requesters = append(dp.Requesters, uuid.New())
	}
	return dp, nil
}

func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(gctx, workerID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info().Msg("simulation complete")
	return nil
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.TransitionRatio:
				s.doTransition(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doListSlots(ctx, rng)
				case 1:
					s.doReadByID(ctx, rng)
				case 2:
					s.doList(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) token(id uuid.UUID, role appointment.ActorRole) string {
	tok, err := s.tokens.Issue(appointment.Actor{ID: id, Role: role}, time.Now())
	if err != nil {
		s.logger.Fatal().Err(err).Msg("issue token")
	}
	return tok
}

// send performs one request and returns the status code, decoding a 2xx body
// into out when out is non-nil.
func (s *Simulator) send(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// randomWindow picks a slot-aligned window, sometimes shifted by half a slot
// so bookings straddle neighbours and collide partially.
func randomWindow(t target, rng *rand.Rand) availability.TimeWindow {
	slots := int(t.Window.Duration() / t.Slot)
	if slots <= 0 {
		return t.Window
	}
	start := t.Window.Start.Add(time.Duration(rng.Intn(slots)) * t.Slot)
	if rng.Intn(4) == 0 {
		start = start.Add(t.Slot / 2)
	}
	return availability.NewWindow(start, start.Add(t.Slot))
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	requester := s.pool.Requesters[rng.Intn(len(s.pool.Requesters))]
	w := randomWindow(t, rng)

	req := map[string]string{
		"provider_id": t.ID.String(),
		"date":        s.pool.Date.String(),
		"start":       w.Start.String(),
		"end":         w.End.String(),
		"reason":      gofakeit.RandomString(visitReasons),
	}
	if t.Role == appointment.ProviderInHomeService {
		req["offering_id"] = t.Offers[rng.Intn(len(t.Offers))].String()
		req["address"] = gofakeit.Address().Address
	} else {
		req["consultation_type"] = []string{"in_person", "video", "voice"}[rng.Intn(3)]
	}

	token := s.token(requester, appointment.ActorRequester)

	start := time.Now()
	var (
		status int
		appt   struct {
			ID int64 `json:"id"`
		}
	)
	op := func() error {
		code, err := s.send(ctx, http.MethodPost, "/appointments", token, req, &appt)
		status = code
		if err != nil {
			return backoff.Permanent(err)
		}
		if code == http.StatusServiceUnavailable {
			return errRetryBusy
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	_ = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.config.MaxRetries), ctx))

	s.metrics.Booking.Record(time.Since(start), status)
	if status == http.StatusCreated && appt.ID > 0 {
		s.pool.AddAppointment(booked{ID: appt.ID, Provider: t.ID})
	}
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	to := []string{"completed", "cancelled", "no_show"}[rng.Intn(3)]

	start := time.Now()
	status, _ := s.send(ctx, http.MethodPost, "/appointments/"+strconv.FormatInt(b.ID, 10)+"/transition",
		s.token(b.Provider, appointment.ActorProvider), map[string]string{"status": to}, nil)
	s.metrics.Transition.Record(time.Since(start), status)
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	start := time.Now()
	status, _ := s.send(ctx, http.MethodGet,
		fmt.Sprintf("/providers/%s/slots?date=%s", t.ID, s.pool.Date), "", nil, nil)
	s.metrics.Slots.Record(time.Since(start), status)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _ := s.send(ctx, http.MethodGet, "/appointments/"+strconv.FormatInt(b.ID, 10),
		s.token(b.Provider, appointment.ActorProvider), nil, nil)
	s.metrics.ReadByID.Record(time.Since(start), status)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	start := time.Now()
	status, _ := s.send(ctx, http.MethodGet, "/appointments?status=scheduled&limit=20",
		s.token(t.ID, appointment.ActorProvider), nil, nil)
	s.metrics.List.Record(time.Since(start), status)
}

// countOverlaps counts pairs of scheduled appointments on date whose windows
// overlap for the same provider. Anything above zero is a double booking.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool, date availability.Date) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.provider_id = b.provider_id
		 AND a.appointment_date = b.appointment_date
		 AND a.id < b.id
		 AND a.start_minute < b.end_minute
		 AND b.start_minute < a.end_minute
		WHERE a.status = 'scheduled' AND b.status = 'scheduled' AND a.appointment_date = $1
	`, date.Time()).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Date: %s\n", s.pool.Date)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Transition", &s.metrics.Transition)
	printOperationReport("List slots", &s.metrics.Slots)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List appointments", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	busy := atomic.LoadInt64(&om.Busy)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if busy > 0 {
		fmt.Printf("  Busy after retries: %d (%.1f%%)\n", busy, pct(busy))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
