package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vault-keeper/internal/config"
	"vault-keeper/internal/storage"
	chstore "vault-keeper/internal/storage/clickhouse"
	"vault-keeper/internal/storage/memory"
	"vault-keeper/internal/storage/migrations"
	pgstore "vault-keeper/internal/storage/postgres"
)

// stores holds the audit stores selected by configuration.
type stores struct {
	cycles       storage.CycleStore
	outcomes     storage.OutcomeStore
	observations storage.HealthObservationStore
}

// createStores opens PostgreSQL and ClickHouse when their DSNs are set and
// falls back to in-memory stores otherwise. Migrations run on open.
func createStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*stores, func(), error) {
	s := &stores{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info("postgres ready", zap.Strings("applied_migrations", applied))

		s.cycles = pgstore.NewCycleStore(pool)
		s.outcomes = pgstore.NewOutcomeStore(pool)
	} else {
		logger.Info("using in-memory cycle and outcome stores")
		s.cycles = memory.NewCycleStore()
		s.outcomes = memory.NewOutcomeStore()
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		logger.Info("clickhouse ready")

		s.observations = chstore.NewHealthObservationStore(conn)
	} else {
		logger.Info("using in-memory health observation store")
		s.observations = memory.NewHealthObservationStore()
	}

	return s, cleanup, nil
}
