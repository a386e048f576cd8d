package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/communityos/auth-service/internal/infra/config"
	"github.com/communityos/auth-service/internal/infra/security"
	"github.com/communityos/auth-service/internal/transport/http/handlers"
	"github.com/communityos/auth-service/internal/transport/http/middleware"
	"github.com/communityos/auth-service/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth       *usecase.AuthService
	Sessions   *usecase.SessionService
	MagicLinks *usecase.MagicLinkService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Metrics     *middleware.HTTPMetrics
	Services    ServiceSet
	CSRF        *security.CSRFManager
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
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.App.CORSOrigins))

	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}

	authMiddleware := middleware.RequireAuth(deps.Services.Auth)
	csrfMiddleware := middleware.RequireCSRF(deps.CSRF)

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/health", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	api := r.Group("/api/v1")
	{
		isDev := deps.Config.App.Env == "development"

		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Auth, deps.CSRF, deps.Config.CSRF, isDev)
		authHandler.RegisterRoutes(authGroup, buildLoginMiddlewares(deps)...)

		magicLinkHandler := handlers.NewMagicLinkHandler(deps.Services.MagicLinks, deps.Services.Auth)
		magicLinkHandler.RegisterRoutes(authGroup, buildMagicLinkMiddlewares(deps)...)

		csrfHandler := handlers.NewCSRFHandler(deps.CSRF, deps.Config.CSRF, isDev)
		authGroup.GET("/csrf", authMiddleware, csrfHandler.Token)

		sessionHandler := handlers.NewSessionHandler(deps.Services.Sessions)
		sessionGroup := authGroup.Group("/sessions")
		sessionGroup.Use(authMiddleware, csrfMiddleware)
		sessionHandler.RegisterRoutes(sessionGroup)
	}

	return r
}

func buildLoginMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.LoginMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}

func buildMagicLinkMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	// The service enforces its own per-email and per-IP issuance windows; this
	// outer limit only shields the endpoint from raw request floods.
	limit := deps.Config.MagicLink.PerIPLimit
	if limit <= 0 {
		return nil
	}

	window := deps.Config.MagicLink.IssuanceWindow
	if window <= 0 {
		window = time.Hour
	}

	rule := middleware.RateLimitRule{
		Name:       "auth_magic_link_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
