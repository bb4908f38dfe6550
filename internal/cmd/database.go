package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/blitztime/server/internal/store"
)

// setupStore connects the durable snapshot store. Without a DSN the process
// runs purely in memory, which is fine for the engine's correctness.
func setupStore(ctx context.Context, cfg *Config) (store.Store, error) {
	if cfg.Database.DSN == "" {
		log.Info().Msg("no database configured, timers will not survive restarts")
		return store.NopStore{}, nil
	}
	st, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	log.Info().Msg("connected to database")
	return st, nil
}
