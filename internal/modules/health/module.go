package health

import (
	"context"

	"go.uber.org/fx"

	"trade_hook/internal/modules/health/service"
)

// Module отдаёт State и переключает готовность вместе с жизненным циклом приложения.
// Подключать последним: OnStart сработает после остальных модулей.
func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(service.NewState),
		fx.Invoke(func(lc fx.Lifecycle, state *service.State) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					state.SetReady(true)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					state.SetReady(false)
					return nil
				},
			})
		}),
	)
}
