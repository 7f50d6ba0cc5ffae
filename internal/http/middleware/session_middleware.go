package middleware

import (
	"context"
	"net/http"

	"github.com/brewlog/auth-service/internal/http/response"
	"github.com/brewlog/auth-service/internal/observability"
	"github.com/brewlog/auth-service/internal/security"
	"github.com/brewlog/auth-service/internal/service"
)

type contextKey string

const sessionContextKey contextKey = "session"

// SessionValidator is the slice of the session service this middleware
// needs.
type SessionValidator interface {
	Validate(ctx context.Context, rawToken string) (*service.ValidationResult, error)
}

// RequireSession resolves the session cookie to a live session and stores it
// in the request context. Validation fails closed: any invalid, revoked, or
// expired session yields 401 with no detail beyond the audit trail.
func RequireSession(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.GetCookie(r, security.SessionCookieName)
			result, err := sessions.Validate(r.Context(), raw)
			if err != nil {
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "Something went wrong, try again", nil)
				return
			}
			observability.RecordSessionValidate(r.Context(), validateOutcome(result))
			if !result.Valid {
				security.ClearSessionCookies(w, r.TLS != nil)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to continue", nil)
				return
			}
			ctx := context.WithValue(r.Context(), sessionContextKey, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateOutcome(result *service.ValidationResult) string {
	if result.Valid {
		return "valid"
	}
	if result.Reason == "" {
		return "invalid"
	}
	return result.Reason
}

// SessionFromContext returns the validated session placed by RequireSession.
func SessionFromContext(ctx context.Context) (*service.ValidationResult, bool) {
	result, ok := ctx.Value(sessionContextKey).(*service.ValidationResult)
	return result, ok
}
