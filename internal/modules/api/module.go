package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"trade_hook/internal/modules/api/service"
	broadcast "trade_hook/internal/modules/broadcast/service"
	"trade_hook/internal/modules/config"
	health "trade_hook/internal/modules/health/service"
	pipeline "trade_hook/internal/modules/pipeline/service"
	"trade_hook/internal/risk"
	"trade_hook/pkg/logger"
)

func newServer(cfg *config.Config, p *pipeline.Processor, sizer *risk.Sizer, hub *broadcast.Hub, state *health.State) (*service.Server, error) {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	return service.NewServer(service.Options{
		MaxBodyBytes:   cfg.Signals.MaxBodyBytes,
		TrustedProxies: cfg.Service.TrustedProxies,
	}, service.Deps{
		Processor: p,
		Sizer:     sizer,
		Hub:       hub,
		State:     state,
		Log:       logger.Named("http"),
	})
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, s *service.Server) {
	srv := &http.Server{
		Addr:              cfg.Service.HTTPAddr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Service.HTTPAddr)
			if err != nil {
				return err
			}
			logger.Info("http: listening on %s", ln.Addr())
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http: serve: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cfg.Service.ShutdownTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Service.ShutdownTimeout)
				defer cancel()
			}
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("api",
		fx.Provide(newServer),
		fx.Invoke(RunHTTP),
	)
}
