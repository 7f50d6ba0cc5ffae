package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/brewlog/auth-service/internal/health"
	"github.com/brewlog/auth-service/internal/http/handler"
	"github.com/brewlog/auth-service/internal/http/middleware"
	"github.com/brewlog/auth-service/internal/http/response"
)

type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	OAuthHandler   *handler.OAuthHandler
	SessionHandler *handler.SessionHandler
	Sessions       middleware.SessionValidator

	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int

	// GlobalRateLimiter overrides the built-in API limiter, used by tests.
	GlobalRateLimiter func(http.Handler) http.Handler

	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	requireSession := middleware.RequireSession(dep.Sessions)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/providers", dep.AuthHandler.Providers)
			r.Group(func(r chi.Router) {
				r.Use(middleware.NoStore)
				r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
				r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
				r.With(requireSession, middleware.CSRFMiddleware).Post("/logout", dep.AuthHandler.Logout)
			})
			r.Route("/oauth", func(r chi.Router) {
				r.With(authLimiter).Get("/{provider}/login", dep.OAuthHandler.Begin)
				r.With(authLimiter, middleware.NoStore).Get("/{provider}/callback", dep.OAuthHandler.Callback)
				r.With(authLimiter, middleware.CSRFMiddleware, middleware.NoStore).Post("/link", dep.OAuthHandler.CompleteLink)
			})
		})

		r.Route("/session", func(r chi.Router) {
			r.Use(middleware.NoStore)
			// Refresh verifies the csrf token against the session record in
			// the service layer, not via the double-submit middleware.
			r.Post("/refresh", dep.SessionHandler.Refresh)
			// Validate answers 200 with valid=false for dead sessions, so it
			// sits outside RequireSession.
			r.Get("/validate", dep.SessionHandler.Validate)
		})

		r.With(requireSession, middleware.NoStore).Get("/me", dep.SessionHandler.Me)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
