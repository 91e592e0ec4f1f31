package storage

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"trade_hook/internal/modules/config"
	"trade_hook/internal/store"
	"trade_hook/internal/store/pg"
	"trade_hook/internal/validator"
	"trade_hook/pkg/db"
	"trade_hook/pkg/logger"
)

func newStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (store.Store, error) {
	var st store.Store

	switch cfg.DB.Driver {
	case "postgres":
		poolMaster, err := db.NewPool(ctx, db.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create poolMaster: %w", err)
		}
		tm := db.NewPgTxManager(poolMaster)
		if err := tm.Ping(ctx); err != nil {
			tm.Close()
			return nil, err
		}
		lc.Append(fx.StopHook(tm.Close))

		pgStore := pg.New(tm)
		if cfg.DB.Migrate {
			if err := pgStore.Migrate(ctx); err != nil {
				tm.Close()
				return nil, err
			}
		}
		st = pgStore
	default:
		st = store.NewMemory()
	}

	webhooks := cfg.WebhookDefaults()
	for _, wh := range webhooks {
		if !validator.ValidateAPIKeyFormat(wh.APIKey) {
			logger.Warn("webhook %s: api key is not in wh_<64 hex> format", wh.ID)
		}
	}
	if err := store.Seed(ctx, st, webhooks); err != nil {
		return nil, fmt.Errorf("seed webhooks: %w", err)
	}
	logger.Info("store %q ready, webhooks seeded: %d", cfg.DB.Driver, len(webhooks))
	return st, nil
}

// Module отдаёт store.Store: память или Postgres по db.driver.
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(newStore),
	)
}
