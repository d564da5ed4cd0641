package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/server/config"
	"github.com/yndnr/tokvault-go/internal/storage"
	"github.com/yndnr/tokvault-go/internal/storage/memory"
	"github.com/yndnr/tokvault-go/internal/storage/postgres"
	"github.com/yndnr/tokvault-go/internal/storage/redisstore"
	"github.com/yndnr/tokvault-go/internal/telemetry/metric"
)

// stores is the selected storage backend.
type stores struct {
	Backend string
	Tokens  service.TokenStore
	Orders  service.OrderRepository

	ping  func(context.Context) error
	close func() error
}

// Ping reports whether the backend is reachable.
func (s *stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend.
func (s *stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func openStores(ctx context.Context, cfg *config.ServerConfig, metrics *metric.Registry, log *slog.Logger) (*stores, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case config.BackendBadger:
		bc := storage.DefaultBadgerConfig(sc.Badger.DataDir)
		bc.SyncWrites = sc.Badger.SyncWrites
		if sc.Badger.GCInterval > 0 {
			bc.GCInterval = sc.Badger.GCInterval
		}
		if sc.Badger.CacheSizeMB > 0 {
			bc.CacheSize = int64(sc.Badger.CacheSizeMB) << 20
		}
		engine, err := storage.NewBadgerEngine(bc, log)
		if err != nil {
			return nil, err
		}
		engine.RegisterMetrics(metrics.Registerer())
		return &stores{
			Backend: sc.Backend,
			Tokens:  storage.NewTokenStore(engine),
			Orders:  storage.NewOrderRepository(engine),
			ping:    engine.Ping,
			close:   engine.Close,
		}, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, postgres.Config{
			DSN:             sc.Postgres.DSN,
			MaxOpenConns:    sc.Postgres.MaxOpenConns,
			MaxIdleConns:    sc.Postgres.MaxIdleConns,
			ConnMaxLifetime: sc.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		log.Info("postgres store ready")
		return &stores{
			Backend: sc.Backend,
			Tokens:  postgres.NewTokenStore(db),
			Orders:  postgres.NewOrderRepository(db),
			ping:    db.Ping,
			close:   db.Close,
		}, nil

	case config.BackendRedis:
		rc := redisstore.Config{
			Addr:      sc.Redis.Addr,
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: sc.Redis.KeyPrefix,
			Retention: cfg.Sweeper.Retention,
		}
		client, err := redisstore.Connect(ctx, rc)
		if err != nil {
			return nil, err
		}
		log.Info("redis store ready", "key_prefix", rc.KeyPrefix)
		return &stores{
			Backend: sc.Backend,
			Tokens:  redisstore.NewTokenStore(client, rc),
			Orders:  redisstore.NewOrderRepository(client, rc),
			ping:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
			close:   client.Close,
		}, nil

	case config.BackendMemory:
		log.Warn("memory store selected; tokens and orders are lost on restart")
		return &stores{
			Backend: sc.Backend,
			Tokens:  memory.NewTokenStore(),
			Orders:  memory.NewOrderRepository(),
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}
