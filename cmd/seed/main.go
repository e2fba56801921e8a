package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/config"
	"github.com/hackgods/provider-booking-engine/internal/db"
	"github.com/hackgods/provider-booking-engine/internal/logging"
)

var offeringNames = []string{
	"Wound dressing",
	"Post-operative care",
	"Injection administration",
	"Elderly care visit",
	"Physiotherapy session",
	"Catheter care",
	"Vital signs check",
}

var timezones = []string{"UTC", "Africa/Nairobi", "Europe/London", "America/New_York"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("seed", "dev", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("seed", cfg.Env, cfg.LogLevel)

	if cfg.PostgresDSN == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, "seed")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	count := 100
	if v := os.Getenv("SEED_PROVIDERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}

	if err := seedProviders(ctx, pool, count, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed providers")
	}

	logger.Info().Msg("seed complete")
}

// seedProviders inserts providers in batches, each with a weekday schedule.
// Every third provider is an in-home service provider with offerings.
func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding providers")

	const batchSize = 50

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				if err := seedProvider(ctx, tx, i%3 == 2); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info().Int("seeded", end).Int("total", count).Msg("providers seeded")
	}
	return nil
}

func seedProvider(ctx context.Context, tx pgx.Tx, inHome bool) error {
	id := uuid.New()
	role := appointment.ProviderConsultation
	if inHome {
		role = appointment.ProviderInHomeService
	}
	tz := timezones[gofakeit.Number(0, len(timezones)-1)]

	_, err := tx.Exec(ctx, `
		INSERT INTO providers (id, name, role, is_active, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, now(), now())
	`, id, gofakeit.Name(), string(role), tz)
	if err != nil {
		return err
	}

	if inHome {
		offerings := gofakeit.Number(1, 3)
		for j := 0; j < offerings; j++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO provider_offerings (id, provider_id, name, price_cents, is_available)
				VALUES ($1, $2, $3, $4, TRUE)
			`, uuid.New(), id, offeringNames[gofakeit.Number(0, len(offeringNames)-1)], gofakeit.Number(1500, 12000))
			if err != nil {
				return err
			}
		}
	}

	startHour := gofakeit.Number(7, 10)
	hours := gofakeit.Number(4, 8)
	slotMinutes := []int{15, 20, 30, 45, 60}[gofakeit.Number(0, 4)]

	for day := time.Monday; day <= time.Friday; day++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO weekly_schedules (provider_id, day_of_week, start_minute, end_minute, slot_minutes, is_active, updated_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, now())
		`, id, int(day), startHour*60, (startHour+hours)*60, slotMinutes)
		if err != nil {
			return err
		}
	}
	return nil
}
