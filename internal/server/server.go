package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/ensmarket/internal/config"
	intentdomain "github.com/smallbiznis/ensmarket/internal/intent/domain"
	"github.com/smallbiznis/ensmarket/internal/observability"
	obslogger "github.com/smallbiznis/ensmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ensmarket/internal/observability/metrics"
	obstracing "github.com/smallbiznis/ensmarket/internal/observability/tracing"
	"github.com/smallbiznis/ensmarket/internal/opsstatus"
	"github.com/smallbiznis/ensmarket/internal/ratelimit"
	webhookdomain "github.com/smallbiznis/ensmarket/internal/webhook/domain"
	"github.com/smallbiznis/ensmarket/internal/worker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the full API: webhook ingress, intents and internal ops.
var Module = fx.Module("http.server",
	ratelimit.Module,
	opsstatus.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// HealthModule serves only /health and /metrics, for processes that run the
// background jobs without the API.
var HealthModule = fx.Module("http.health",
	fx.Provide(registerGin),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, nil
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) (*gin.Engine, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	intents  intentdomain.Service
	webhooks webhookdomain.Service
	worker   *worker.Worker
	status   *opsstatus.Service
	limiter  *ratelimit.WebhookLimiter
	otel     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Log      *zap.Logger
	Intents  intentdomain.Service
	Webhooks webhookdomain.Service
	Worker   *worker.Worker
	Status   *opsstatus.Service
	Limiter  *ratelimit.WebhookLimiter `optional:"true"`
	Otel     *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		log:      p.Log.Named("http"),
		intents:  p.Intents,
		webhooks: p.Webhooks,
		worker:   p.Worker,
		status:   p.Status,
		limiter:  p.Limiter,
		otel:     p.Otel,
	}

	svc.registerWebhookRoutes()
	svc.registerInternalRoutes()
	svc.registerIntentRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/api/webhooks/ens/tx", s.WebhookRateLimit(), s.IngestENSWebhook)
}

func (s *Server) registerInternalRoutes() {
	ops := s.engine.Group("/api/internal/ens", s.InternalAuthRequired())
	{
		ops.POST("/reconcile", s.RunReconcile)
		ops.POST("/watch", s.RunWatch)
		ops.POST("/webhooks/retry", s.RunWebhookRetry)
		ops.GET("/webhooks", s.ListWebhookEvents)
		ops.GET("/worker-status", s.WorkerStatus)
	}
}

func (s *Server) registerIntentRoutes() {
	intents := s.engine.Group("/api/ens/intents", s.UserRequired())
	{
		intents.POST("", s.PrepareIntent)
		intents.GET("", s.ListIntents)
		intents.GET("/:id", s.GetIntent)
		intents.POST("/:id/commit-tx", s.AttachCommitTx)
		intents.POST("/:id/register-tx", s.AttachRegisterTx)
	}
}
