package main

import (
	"context"

	"go.uber.org/fx"

	"trade_hook/internal/modules/api"
	"trade_hook/internal/modules/broadcast"
	"trade_hook/internal/modules/config"
	"trade_hook/internal/modules/health"
	"trade_hook/internal/modules/pipeline"
	"trade_hook/internal/modules/storage"
	"trade_hook/pkg/logger"
	"trade_hook/pkg/tracing"
)

const serviceName = "trade_hook"

// initObservability должен отработать до конструкторов, которые берут logger.Named.
func initObservability(lc fx.Lifecycle, cfg *config.Config) error {
	name := cfg.Service.Name
	if name == "" {
		name = serviceName
	}
	logger.SetServiceName(name)
	tracing.SetServiceName(name)

	if _, err := logger.Init(cfg.Log); err != nil {
		return err
	}
	_, closeTracer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("%s starting, db driver %q", name, cfg.DB.Driver)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("%s stopping", name)
			closeTracer()
			logger.Sync()
			return nil
		},
	})
	return nil
}

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		fx.Invoke(initObservability),
		storage.Module(),
		broadcast.Module(),
		pipeline.Module(),
		api.Module(),
		health.Module(),
	)
	app.Run()
}
