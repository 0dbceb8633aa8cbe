package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CharbellTrad/biometric-service/internal/core/port"
	"github.com/CharbellTrad/biometric-service/internal/infra/config"
	"github.com/CharbellTrad/biometric-service/internal/transport/http/handlers"
	"github.com/CharbellTrad/biometric-service/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Identity    port.IdentityProvider
	Devices     handlers.DeviceRegistry
	Stats       handlers.DeviceStats
	AuthLogs    handlers.AuthLog
	Metrics     *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(deps.Metrics.Handler())
	r.Use(middleware.Logger(logger))

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", metricsHandler(deps.Gatherer))

	api := r.Group("/api/v1")
	api.Use(middleware.RequireCaller(deps.Identity, logger))
	{
		if deps.Devices != nil {
			deviceHandler := handlers.NewDeviceHandler(deps.Devices, deps.Stats)
			deviceHandler.RegisterRoutes(api.Group("/devices"), buildRegisterMiddlewares(deps)...)
		}

		if deps.AuthLogs != nil {
			authLogHandler := handlers.NewAuthLogHandler(deps.AuthLogs)
			authLogHandler.RegisterRoutes(api.Group("/auth-logs"), buildLogMiddlewares(deps)...)
			authLogHandler.RegisterSessionRoutes(api.Group("/sessions"))
		}
	}

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	if gatherer == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func buildRegisterMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.Config == nil {
		return nil
	}
	return callerRateLimit(deps, "device_register", deps.Config.RateLimit.RegisterMaxAttempts)
}

func buildLogMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.Config == nil {
		return nil
	}
	return callerRateLimit(deps, "auth_log", deps.Config.RateLimit.LogMaxAttempts)
}

func callerRateLimit(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.CallerIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
