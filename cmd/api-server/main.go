package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/provider-booking-engine/internal/api"
	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/auth"
	"github.com/hackgods/provider-booking-engine/internal/config"
	"github.com/hackgods/provider-booking-engine/internal/db"
	"github.com/hackgods/provider-booking-engine/internal/lock"
	"github.com/hackgods/provider-booking-engine/internal/logging"
	redisclient "github.com/hackgods/provider-booking-engine/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("api-server", "dev", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreBackend).
		Str("lock", cfg.LockBackend).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("api-server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api-server shut down")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	var (
		store  appointment.Store
		pgPool *pgxpool.Pool
		rdb    *redis.Client
		locker appointment.Locker
	)

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, "api-server")
		cancelPg()
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to Postgres")

		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info().Int("applied", applied).Msg("migrations up to date")

		pgPool = pool
		store = appointment.NewPgRepository(pool, cfg.BookingLockWait)
	case config.BackendMemory:
		mem := appointment.NewMemoryRepository(cfg.BookingLockWait)
		seedDemo(ctx, mem, logger)
		store = mem
	}

	switch cfg.LockBackend {
	case config.BackendRedis:
		client, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, "api-server")
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Msg("connected to Redis")

		rdb = client
		locker = redisclient.NewRedisKeyLocker(client, cfg.LockTTL, cfg.BookingLockWait)
	case config.BackendLocal:
		locker = lock.NewKeyed(cfg.BookingLockWait)
	}

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return err
	}

	svc := appointment.NewService(store, locker, appointment.SystemClock, logger, appointment.WithDefaultLocation(loc))

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Tokens:         auth.NewTokens(cfg.JWTSecret, time.Hour),
		Logger:         logger,
		PgPool:         pgPool,
		Redis:          rdb,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustProxy:     cfg.TrustProxy,
		Env:            cfg.Env,
		Version:        cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
