// Package app wires the dispatcher's dependencies from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/example/prospect-sender/internal/common"
	"github.com/example/prospect-sender/internal/dispatch"
	"github.com/example/prospect-sender/internal/events"
	"github.com/example/prospect-sender/internal/gateway"
	"github.com/example/prospect-sender/internal/lock"
	"github.com/example/prospect-sender/internal/pacer"
	"github.com/example/prospect-sender/internal/policy"
	"github.com/example/prospect-sender/internal/store"
)

type Runtime struct {
	Pool        *pgxpool.Pool
	Repo        *store.PostgresRepository
	EventWriter *kafka.Writer
	Coordinator *dispatch.Coordinator

	closers []func()
}

// Open connects to Postgres, Redis (when configured) and Kafka and builds the
// coordinator. Close releases everything Open acquired.
func Open(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must be provided")
	}
	rt := &Runtime{}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rt.Pool = pool
	rt.closers = append(rt.closers, pool.Close)

	repo, err := store.OpenRepository(pool)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Repo = repo

	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, pool); err != nil {
			rt.Close()
			return nil, err
		}
		logger.Info().Msg("database migrations applied")
	}

	locker, err := rt.locker(ctx, cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.EventWriter = &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.EventsTopic,
		Balancer: &kafka.Hash{},
	}
	rt.closers = append(rt.closers, func() { _ = rt.EventWriter.Close() })

	rt.Coordinator = &dispatch.Coordinator{
		Repo:           repo,
		Gateway:        gateway.NewHTTPClient(cfg.GatewayTimeout),
		Engine:         policy.NewEngine(loc),
		Pacer:          pacer.New(),
		Locker:         locker,
		Events:         &events.Publisher{Writer: rt.EventWriter},
		Logger:         logger,
		CountryCode:    cfg.DefaultCountryCode,
		LinkBaseURL:    cfg.LinkBaseURL,
		GatewayTimeout: cfg.GatewayTimeout,
	}
	return rt, nil
}

func (rt *Runtime) locker(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (lock.Locker, error) {
	if cfg.RedisAddr == "" {
		if !cfg.AllowLocalLock {
			return nil, errors.New("REDIS_ADDR must be provided unless ALLOW_LOCAL_LOCK=true")
		}
		logger.Warn().Msg("REDIS_ADDR not set, identity lock is process-local")
		return lock.NewLocal(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	l := lock.NewRedis(client, cfg.LockTTL)
	l.Logger = logger
	return l, nil
}

func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
