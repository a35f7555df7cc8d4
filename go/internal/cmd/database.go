package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/rs/zerolog/log"
)

// setupStore returns the auction store and a func that releases it.
func setupStore(ctx context.Context, cfg *Config) (store.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Warn().Msg("using in-memory store; auctions are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("connected to database")
	return pg, pool.Close, nil
}
