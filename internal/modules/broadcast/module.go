package broadcast

import (
	"context"

	"go.uber.org/fx"

	"trade_hook/internal/modules/broadcast/service"
	"trade_hook/pkg/logger"
)

func Module() fx.Option {
	return fx.Module("broadcast",
		fx.Provide(
			func() *service.Hub {
				return service.NewHub(service.Options{}, logger.Named("broadcast"))
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, hub *service.Hub) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					return hub.Close(ctx)
				},
			})
		}),
	)
}
