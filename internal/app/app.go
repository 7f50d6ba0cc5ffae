package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/brewlog/auth-service/internal/config"
	"github.com/brewlog/auth-service/internal/health"
	"github.com/brewlog/auth-service/internal/http/handler"
	"github.com/brewlog/auth-service/internal/http/router"
	"github.com/brewlog/auth-service/internal/observability"
	"github.com/brewlog/auth-service/internal/repository"
	"github.com/brewlog/auth-service/internal/security"
	"github.com/brewlog/auth-service/internal/service"
)

// App is the composed service: storage, services, HTTP server, and the
// observability runtime, ready to run.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	DB            *gorm.DB
	Redis         *redis.Client
	Sessions      *service.SessionService
	Observability *observability.Runtime
}

// New wires the whole service from configuration. With Redis enabled the
// login throttle and OAuth state live there so multiple instances agree;
// otherwise they stay in process memory.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := repository.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	var rateStore service.RateLimitStore = service.NewInMemoryRateLimitStore()
	var stateStore service.OAuthStateStore = service.NewInMemoryOAuthStateStore()
	var linkStore service.LinkDecisionStore = service.NewInMemoryLinkDecisionStore()
	checkers := []health.Checker{health.NewDBChecker(db)}
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rateStore = service.NewRedisRateLimitStore(redisClient, "")
		stateStore = service.NewRedisOAuthStateStore(redisClient, "")
		linkStore = service.NewRedisLinkDecisionStore(redisClient, "")
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	}

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	linked := repository.NewLinkedAccountRepository(db)

	tokens := security.NewSessionTokenManager(cfg.SessionIssuer, cfg.SessionAudience, cfg.SessionSecret)
	sessionService := service.NewSessionService(sessions, users, tokens, cfg.SessionTTL, cfg.RefreshGuard)

	policy := service.LoginRatePolicy{
		MaxAttempts: cfg.LoginRateLimit,
		Window:      cfg.LoginRateWindow,
		Lockout:     cfg.LoginLockout,
	}
	limiter := service.NewLoginRateLimiter(rateStore, policy)
	loginService := service.NewLoginService(users, sessionService, limiter)

	providers := map[string]service.Provider{}
	if cfg.OAuthEnabled {
		providers = service.NewProviderRegistry(cfg.OAuthProviders)
	}
	oauthService := service.NewOAuthService(
		providers, stateStore, linkStore,
		users, linked, sessionService,
		cfg.OAuthStateTTL, cfg.OAuthExchangeTimeout,
	)

	routes := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(loginService, sessionService, oauthService, policy, cfg.SecureCookies),
		OAuthHandler:     handler.NewOAuthHandler(oauthService, cfg.SecureCookies),
		SessionHandler:   handler.NewSessionHandler(sessionService, cfg.SecureCookies),
		Sessions:         sessionService,
		CORSOrigins:      cfg.CORSOrigins,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		Readiness:        health.NewProbeRunner(2*time.Second, checkers...),
		EnableOTelHTTP:   cfg.OTELTracesEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           routes,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		DB:            db,
		Redis:         redisClient,
		Sessions:      sessionService,
		Observability: runtime,
	}, nil
}

// Shutdown drains the HTTP server, then flushes telemetry and closes the
// stores.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := a.Server.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := a.Observability.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
