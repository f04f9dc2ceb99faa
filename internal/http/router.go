package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ruraledu/backend/internal/auth"
	"github.com/ruraledu/backend/internal/config"
	"github.com/ruraledu/backend/internal/http/handlers"
	"github.com/ruraledu/backend/internal/http/middlewares"
	"github.com/ruraledu/backend/internal/observability"
	"github.com/ruraledu/backend/internal/redisclient"
	"github.com/ruraledu/backend/internal/repo/postgres"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxAuthBodyBytes = 16 << 10 // requests here are tiny json documents

func NewRouter(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config, prom *observability.Prom, redis *redisclient.Client) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	slog.SetDefault(log)

	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(otelgin.Middleware("ruraledu-api"))
	r.Use(middlewares.SecurityHeaders())

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(middlewares.CORSMiddleware(cfg.AllowedOrigins))
	}

	if prom != nil {
		r.Use(prom.GinHandleMiddleware())
		r.GET("/metrics", gin.WrapH(prom.MetricsHandler()))
	}

	// health
	ping := func() error {
		if pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	// wire up the auth service

	usersRepo := postgres.NewUsersRepo(pool, prom)
	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL())
	authHandler := handlers.NewAuthHandler(usersRepo, usersRepo, jwtManager, cfg, prom)
	authMiddleware := middlewares.NewAuthMiddleware(jwtManager, cfg)

	// credential endpoints share one window so an attacker cannot spread
	// guesses across signup and login
	var windowStore middlewares.WindowStore

	if redis != nil {
		windowStore = middlewares.NewRedisWindowStore(redis)
	}

	limiter := middlewares.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow, windowStore)

	api := r.Group("/api/auth")
	api.Use(middlewares.RequireJSON())
	api.Use(middlewares.MaxBodyBytes(maxAuthBodyBytes))

	api.POST("/signup", limiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.SignUp)
	api.POST("/login", limiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.Login)
	api.GET("/me", authMiddleware.RequireAuth(), authHandler.Me)
	api.POST("/logout", authHandler.Logout)

	return r
}
