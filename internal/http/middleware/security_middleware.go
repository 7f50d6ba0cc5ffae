package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/brewlog/auth-service/internal/http/response"
	"github.com/brewlog/auth-service/internal/observability"
	"github.com/brewlog/auth-service/internal/security"
)

// SecurityHeaders sets the browser hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// NoStore marks responses carrying session material as uncacheable.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// CORS allows the configured browser origins. Credentials are always allowed
// since the session rides in a cookie; a wildcard origin is therefore never
// emitted.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[strings.TrimRight(origin, "/")] {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Vary", "Origin")
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, X-CSRF-Token, X-Request-Id")
					h.Set("Access-Control-Max-Age", "600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimit caps request bodies. Auth payloads are small; anything larger is
// hostile or broken.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// StructuredRequestLogger emits one slog line per request.
func StructuredRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", ClientIP(r),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

// CSRFMiddleware enforces the double-submit check on state-changing
// endpoints reached without a server-side session: the header must echo the
// csrf cookie. Session-bound endpoints additionally verify the token against
// the session record in the service layer.
func CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie := security.GetCookie(r, security.CSRFCookieName)
		header := r.Header.Get("X-CSRF-Token")
		if cookie == "" || !security.CSRFTokenEqual(cookie, header) {
			observability.Audit(r, observability.AuditCSRFViolation, observability.SeverityHigh,
				"reason", csrfFailureReason(cookie, header))
			response.Error(w, r, http.StatusForbidden, "CSRF_VIOLATION", "Invalid security token, reload and retry", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func csrfFailureReason(cookie, header string) string {
	switch {
	case cookie == "":
		return "csrf_cookie_missing"
	case header == "":
		return "csrf_header_missing"
	default:
		return "csrf_mismatch"
	}
}

// ClientIP resolves the caller address after RealIP has already folded any
// trusted forwarding headers into RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
