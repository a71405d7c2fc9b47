package server

import (
	"database/sql"
	"fmt"

	"github.com/ahwlsqja/csrf-recovery/docs"
	"github.com/ahwlsqja/csrf-recovery/internal/common/handler"
	"github.com/ahwlsqja/csrf-recovery/internal/common/middleware"
	"github.com/ahwlsqja/csrf-recovery/internal/config"
	"github.com/ahwlsqja/csrf-recovery/internal/csrf"
	"github.com/ahwlsqja/csrf-recovery/internal/order"
	"github.com/ahwlsqja/csrf-recovery/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// Deps carries everything the router wires together. DB and Redis are
// only used for readiness checks and may be nil.
type Deps struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *sql.DB
	Redis    *redis.Client
	Sessions session.Store
	Orders   order.Repository
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) (*gin.Engine, error) {
	cfg := deps.Config
	logger := deps.Logger

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	// Swagger 설정
	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", cfg.Server.Port)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health & metrics endpoints
	healthHandler := handler.NewHealthHandler(deps.DB, deps.Redis)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============================================================================
	// Dependencies Setup
	// ============================================================================

	sessions := session.NewManager(deps.Sessions, session.Config{
		CookieName: cfg.Session.CookieName,
		Lifetime:   cfg.Session.Lifetime,
		Secure:     cfg.Session.Secure,
		Domain:     cfg.Session.Domain,
	}, logger)

	csrfCfg := csrf.Config{
		HeaderName:   cfg.CSRF.HeaderName,
		FieldName:    cfg.CSRF.FieldName,
		RefreshPath:  cfg.CSRF.RefreshPath,
		Except:       cfg.CSRF.Except,
		RefreshRate:  cfg.CSRF.RefreshRate,
		RefreshBurst: cfg.CSRF.RefreshBurst,
	}
	csrfHandler, err := csrf.NewHandler(csrfCfg, sessions, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create csrf handler: %w", err)
	}

	orderHandler := order.NewHandler(order.NewService(deps.Orders, logger))

	// ============================================================================
	// Route Registration
	// ============================================================================

	// Everything below carries a session and is CSRF protected.
	web := router.Group("")
	web.Use(sessions.Middleware())
	web.Use(csrf.Verify(csrfCfg, logger))
	{
		csrfHandler.RegisterRoutes(web)
		web.GET("/", orderForm(logger))

		v1 := web.Group("/api/v1")
		orderHandler.RegisterRoutes(v1)
	}

	return router, nil
}
