package pipeline

import (
	"context"
	"time"

	"go.uber.org/fx"

	"trade_hook/internal/guard"
	broadcast "trade_hook/internal/modules/broadcast/service"
	"trade_hook/internal/modules/config"
	"trade_hook/internal/modules/pipeline/service"
	"trade_hook/internal/notify"
	"trade_hook/internal/position"
	"trade_hook/internal/queue"
	"trade_hook/internal/risk"
	"trade_hook/internal/store"
	"trade_hook/internal/validator"
	"trade_hook/pkg/logger"
)

func newResolver(cfg *config.Config) (*risk.Resolver, error) {
	provider, err := risk.NewFileProvider(cfg.Risk.InstrumentsFile)
	if err != nil {
		return nil, err
	}
	return risk.NewResolver(provider, risk.UnknownSymbolPolicy(cfg.Risk.UnknownSymbolPolicy), logger.Named("instruments")), nil
}

func newSizer(cfg *config.Config, r *risk.Resolver) *risk.Sizer {
	return risk.NewSizer(r, cfg.Risk.DefaultLeverage)
}

func newLimiter(cfg *config.Config) *guard.RateLimiter {
	return guard.NewRateLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
}

func newValidator(cfg *config.Config) *validator.Validator {
	return validator.New(validator.Options{MaxAge: cfg.Signals.MaxAge})
}

func newTracker(cfg *config.Config, st store.Store, r *risk.Resolver, hub *broadcast.Hub) *position.Tracker {
	ev := risk.NewEvaluator(risk.BreakevenConfig{
		Enabled:     cfg.Trailing.BreakevenEnabled,
		TriggerPips: cfg.Trailing.BreakevenTriggerPips,
		OffsetPips:  cfg.Trailing.BreakevenOffsetPips,
	})
	return position.NewTracker(st, ev, r, hub, logger.Named("tracker"))
}

func newNotifier(cfg *config.Config) notify.Notifier {
	log := logger.Named("notify")
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		return notify.NewLog(log)
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
	if err != nil {
		logger.Error("telegram notifier disabled: %v", err)
		return notify.NewLog(log)
	}
	return tg
}

type processorParams struct {
	fx.In

	Cfg       *config.Config
	Store     store.Store
	Limiter   *guard.RateLimiter
	Validator *validator.Validator
	Sizer     *risk.Sizer
	Tracker   *position.Tracker
	Hub       *broadcast.Hub
	Notifier  notify.Notifier
}

func newProcessor(p processorParams) *service.Processor {
	return service.NewProcessor(service.Options{
		MaxRiskPerTrade:   p.Cfg.Risk.MaxRiskPerTrade,
		DailyLossLimitPct: p.Cfg.Risk.DailyLossLimitPct,
		MaxOpenTrades:     p.Cfg.Risk.MaxOpenTrades,
		DefaultBalance:    p.Cfg.Risk.DefaultBalance,
		PendingLimit:      p.Cfg.Signals.PendingLimit,
		Queue: queue.Options{
			Workers:     p.Cfg.Queue.Workers,
			MaxAttempts: p.Cfg.Queue.MaxAttempts,
			Backoff:     p.Cfg.Queue.Backoff,
			MaxBackoff:  p.Cfg.Queue.MaxBackoff,
			Buffer:      p.Cfg.Queue.Buffer,
		},
	}, service.Deps{
		Store:     p.Store,
		Limiter:   p.Limiter,
		Validator: p.Validator,
		Sizer:     p.Sizer,
		Tracker:   p.Tracker,
		Publisher: p.Hub,
		Notifier:  p.Notifier,
		Log:       logger.Named("pipeline"),
	})
}

// maintain периодически чистит окна лимитера и память очереди.
func maintain(ctx context.Context, every time.Duration, limiter *guard.RateLimiter, q *queue.Queue, retention time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ids := limiter.Sweep()
			jobs := q.Prune(retention)
			if ids > 0 || jobs > 0 {
				logger.Debug("maintenance: swept %d limiter ids, pruned %d jobs", ids, jobs)
			}
		}
	}
}

func Module() fx.Option {
	return fx.Module("pipeline",
		fx.Provide(
			newResolver,
			newSizer,
			newLimiter,
			newValidator,
			newTracker,
			newNotifier,
			newProcessor,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, p *service.Processor, limiter *guard.RateLimiter) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					p.Start(ctx)
					go maintain(ctx, cfg.RateLimit.SweepInterval, limiter, p.Queue(), cfg.Queue.Retention)
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					err := p.Stop(stopCtx)
					cancel()
					return err
				},
			})
		}),
	)
}
