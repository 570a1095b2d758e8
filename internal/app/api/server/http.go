package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/clipmeter/docs"
	"github.com/fatflowers/clipmeter/internal/app/api/handlers"
	mw "github.com/fatflowers/clipmeter/internal/app/api/middleware"
	"github.com/fatflowers/clipmeter/internal/app/service/entitlement"
	"github.com/fatflowers/clipmeter/internal/app/service/generation"
	"github.com/fatflowers/clipmeter/internal/app/service/gift"
	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	nh "github.com/fatflowers/clipmeter/internal/app/service/notification_handler"
	"github.com/fatflowers/clipmeter/internal/app/service/plan"
	"github.com/fatflowers/clipmeter/internal/app/service/statistics"
	"github.com/fatflowers/clipmeter/internal/app/service/user"
	"github.com/fatflowers/clipmeter/internal/platform/db"
	"github.com/fatflowers/clipmeter/internal/platform/stripeapi"
	cfgpkg "github.com/fatflowers/clipmeter/pkg/config"
	metrics "github.com/fatflowers/clipmeter/pkg/metrics"
)

func newEngine() (*gin.Engine, error) {
	if err := handlers.RegisterValidators(); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r, nil
}

type routeDeps struct {
	fx.In

	Log           *zap.SugaredLogger
	Cfg           *cfgpkg.Config
	DB            *gorm.DB `optional:"true"`
	Auth          *mw.Authenticator
	Plans         *plan.Resolver
	Entitlement   *entitlement.Service
	Ledger        *ledger.Service
	Videos        *generation.Service
	Checkout      *stripeapi.Client
	Notifications *nh.NotificationHandler
	Gifts         *gift.Service
	Users         *user.Service
	Stats         *statistics.Service
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	log, cfg := d.Log, d.Cfg
	if cfg.MetricsAddr != "" {
		metrics.NewPrometheus(metrics.NewPrometheusOptions{ListenAddr: cfg.MetricsAddr, Logger: log}).Use(r)
	}
	logging := []gin.HandlerFunc{mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log)}

	// Public group
	pub := r.Group("/", logging...)
	var ready handlers.ReadinessCheck
	if d.DB != nil {
		ready = func(ctx context.Context) error { return db.Ping(ctx, d.DB) }
	}
	handlers.RegisterHealthRoutes(pub, ready)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1", logging...)
	handlers.RegisterPublicEntitlementRoutes(apiV1, d.Plans)
	handlers.RegisterRenderCallbackRoutes(apiV1.Group("/", mw.SharedSecret("X-Render-Secret", cfg.Renderer.CallbackSecret)), d.Videos)

	authed := apiV1.Group("/", d.Auth.AuthMiddleware())
	handlers.RegisterEntitlementRoutes(authed, d.Entitlement)
	handlers.RegisterCreditRoutes(authed, d.Ledger)
	handlers.RegisterVideoRoutes(authed, d.Videos)
	handlers.RegisterPaymentRoutes(authed, d.Checkout, d.Plans, cfg)

	handlers.RegisterAdminRoutes(apiV1.Group("/admin", d.Auth.AuthMiddleware(), mw.AdminOnly()), d.Gifts, d.Users, d.Ledger, d.Stats)

	handlers.RegisterPaymentWebhookRoutes(r.Group("/api/v2/payment", logging...), d.Notifications)
}

// withCORS wraps the engine for the storefront origins.
func withCORS(cfg *cfgpkg.Config, r *gin.Engine) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", handlers.SessionHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler(r)
}

func runServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: withCORS(cfg, r), ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(
		newEngine,
		func(cfg *cfgpkg.Config, users *user.Service, log *zap.SugaredLogger) *mw.Authenticator {
			return mw.NewAuthenticator(cfg, users, log)
		},
	),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
