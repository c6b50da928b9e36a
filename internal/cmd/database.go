package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycircle/internal/dbconfig"
	"github.com/studycircle/studycircle/internal/storage"
	"github.com/studycircle/studycircle/internal/storage/memory"
	"github.com/studycircle/studycircle/internal/storage/postgres"
)

func setupStorage(ctx context.Context, cfg *Config) (storage.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		log.Info().Msg("using in-memory store")
		return memory.NewStore(), func() {}, nil

	case "postgres":
		dbCfg := dbconfig.NewConfigFromEnv()
		pool, err := postgres.NewPool(ctx, dbCfg.DSN(), int32(dbCfg.MaxConns))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		store := postgres.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ensure schema: %w", err)
		}

		log.Info().
			Str("host", dbCfg.Host).
			Int("port", dbCfg.Port).
			Str("database", dbCfg.Database).
			Msg("connected to database")
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
