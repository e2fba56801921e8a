package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/config"
	"github.com/hackgods/provider-booking-engine/internal/db"
	"github.com/hackgods/provider-booking-engine/internal/lock"
	"github.com/hackgods/provider-booking-engine/internal/logging"
	redisclient "github.com/hackgods/provider-booking-engine/internal/redis"
)

const relayBatch = 200

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("event-relay", "dev", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("event-relay", cfg.Env, cfg.LogLevel)
	if cfg.StoreBackend != config.BackendPostgres {
		logger.Fatal().Str("store", cfg.StoreBackend).Msg("event relay needs the postgres store")
	}
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Str("channel", cfg.EventsChannel).
		Msg("event-relay starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, "event-relay")
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, "event-relay")
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	repo := appointment.NewPgRepository(pgPool, cfg.BookingLockWait)
	// the relay never books, the locker is only there to satisfy the service
	svc := appointment.NewService(repo, lock.NewKeyed(cfg.BookingLockWait), appointment.SystemClock, logger)
	pub := redisclient.NewEventPublisher(rdb, cfg.EventsChannel)

	runOnce(rootCtx, svc, pub, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping event relay")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, pub, logger)
		}
	}
}

// runOnce drains the outbox in batches until it is empty or a publish fails.
func runOnce(ctx context.Context, svc *appointment.Service, pub appointment.Publisher, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	total := 0
	for {
		n, err := svc.RelayEvents(runCtx, pub, relayBatch)
		total += n
		if err != nil {
			logger.Error().Err(err).Int("relayed", total).Msg("relay run error")
			return
		}
		if n < relayBatch {
			break
		}
	}

	if total > 0 {
		logger.Info().Int("relayed", total).Dur("took", time.Since(start)).Msg("relay run complete")
	}
}
