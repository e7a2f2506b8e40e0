package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/docs"
	"github.com/handbok-org/handbok/internal/app/api/handlers"
	mw "github.com/handbok-org/handbok/internal/app/api/middleware"
	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/app/service/billing"
	"github.com/handbok-org/handbok/internal/app/service/documents"
	"github.com/handbok-org/handbok/internal/app/service/forum"
	"github.com/handbok-org/handbok/internal/app/service/gdpr"
	"github.com/handbok-org/handbok/internal/app/service/handbook"
	"github.com/handbok-org/handbok/internal/app/service/maintenance"
	"github.com/handbok-org/handbok/internal/app/service/statistics"
	subsvc "github.com/handbok-org/handbok/internal/app/service/subscription"
	"github.com/handbok-org/handbok/internal/store"
	cfgpkg "github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/metrics"
	"github.com/handbok-org/handbok/pkg/ratelimit"
)

func newEngine(p *metrics.Prometheus) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware(), p.HandlerFunc())
	return r
}

func newPrometheus(log *zap.SugaredLogger) *metrics.Prometheus {
	return metrics.NewPrometheus(metrics.NewPrometheusOptions{
		Subsystem: "handbok",
		ReqCntURLLabelMappingFn: func(c *gin.Context) string {
			if fp := c.FullPath(); fp != "" {
				return fp
			}
			// unmatched paths share one label
			return "unmatched"
		},
		Logger: log,
	})
}

type routeParams struct {
	fx.In

	Log         *zap.SugaredLogger
	Cfg         *cfgpkg.Config
	Store       *store.Store
	Redis       *redis.Client
	GDPR        *gdpr.Service
	Maintenance *maintenance.Runner
	Documents   *documents.Service
	Forum       *forum.Service
	Handbooks   *handbook.Service
	Access      *access.Checker
	Subs        *subsvc.Service
	Billing     *billing.Handler
	Audit       *audit.Service
	Stats       *statistics.Service
}

func registerRoutes(r *gin.Engine, p routeParams) error {
	log, cfg := p.Log, p.Cfg
	verifier, err := mw.NewTokenVerifier(cfg.Supabase.JWTSecret)
	if err != nil {
		return err
	}
	limiter, err := ratelimit.NewFixedWindowLimiter(p.Redis, "handbok:ratelimit:gdpr-download", cfg.RateLimit.Limit, cfg.RateLimit.Window)
	if err != nil {
		return err
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub, p.Store)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	api.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())

	// machine callers authenticate with their own secrets
	handlers.RegisterCronRoutes(api.Group("/cron"), cfg, p.Maintenance, p.GDPR, log)
	handlers.RegisterWebhookRoutes(api.Group("/webhooks"), p.Billing, log)
	handlers.RegisterGDPRDownloadRoute(api.Group("/gdpr"), p.GDPR, log, mw.RateLimitByIP(limiter))
	internal := api.Group("/documents", mw.ServiceRole(cfg.Supabase.ServiceRoleKey))

	user := api.Group("", mw.Auth(verifier, cfg.Supabase.AuthCookie, log))
	handlers.RegisterGDPRRoutes(user.Group("/gdpr"), p.GDPR, log)
	handlers.RegisterDocumentRoutes(user.Group("/documents"), internal, p.Documents, cfg.Documents.MaxUploadBytes, log)
	handlers.RegisterReplyRoutes(user.Group("/messages"), p.Forum, log)
	handlers.RegisterHandbookRoutes(user.Group("/handbooks"), p.Handbooks, p.Access, p.Subs, log)
	handlers.RegisterAdminRoutes(user.Group("/admin", mw.Superadmin(p.Store)), p.Audit, p.Stats, p.Access, log)
	return nil
}

func newCORS(cfg *cfgpkg.Config) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", "x-api-key", "apikey"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
	})
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: newCORS(cfg).Handler(r), ReadHeaderTimeout: 5 * time.Second}
	serve(lc, log, srv, "HTTP server")
}

// runMetricsServer keeps GET /metrics off the public listener.
func runMetricsServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, p *metrics.Prometheus) {
	if cfg.MetricsAddr == "" {
		log.Infow("metrics server disabled")
		return
	}
	serve(lc, log, p.NewServer(cfg.MetricsAddr), "metrics server")
}

func serve(lc fx.Lifecycle, log *zap.SugaredLogger, srv *http.Server, name string) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting "+name, "addr", srv.Addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("%s error: %v", name, err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping " + name)
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newPrometheus),
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
	fx.Invoke(runMetricsServer),
)
