package service

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trade_hook/internal/metrics"
	broadcast "trade_hook/internal/modules/broadcast/service"
	health "trade_hook/internal/modules/health/service"
	pipeline "trade_hook/internal/modules/pipeline/service"
	"trade_hook/internal/risk"
)

const defaultMaxBody = 64 << 10

type Options struct {
	MaxBodyBytes   int64
	TrustedProxies []string
}

type Deps struct {
	Processor *pipeline.Processor
	Sizer     *risk.Sizer
	Hub       *broadcast.Hub
	State     *health.State
	Log       *zap.Logger
}

// Server: HTTP-поверхность для TradingView, EA и дашборда.
type Server struct {
	Router *gin.Engine
	opts   Options
	Deps
}

func NewServer(opts Options, deps Deps) (*Server, error) {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.State == nil {
		deps.State = health.NewState()
	}

	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}

	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(deps.Log))
	r.Use(BodyLimit(opts.MaxBodyBytes))

	s := &Server{Router: r, opts: opts, Deps: deps}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.GET("/livez", s.livez)
	s.Router.GET("/readyz", s.readyz)
	s.Router.GET("/healthz", s.healthz)
	s.Router.GET("/metrics", gin.WrapH(metrics.Handler()))
	// поток событий общий для всех вебхуков инсталляции, поэтому только по ключу
	s.Router.GET("/ws", APIKeyAuth(s.Processor), gin.WrapF(s.Hub.ServeWS))

	api := s.Router.Group("/api")
	{
		// авторизацию делает сам пайплайн, чтобы отказы попадали в метрики
		api.POST("/signals/receive", s.receiveSignal)

		api.POST("/risk/calculate", s.calculateRisk)

		ea := api.Group("")
		ea.Use(APIKeyAuth(s.Processor))
		{
			ea.GET("/signals/pending", s.pendingSignals)
			ea.GET("/signals/history", s.history)
			ea.PATCH("/signals/:id/status", s.updateStatus)
			ea.POST("/positions/:id/tick", s.tick)
			ea.GET("/queue/status", s.queueStatus)
		}
	}
}
