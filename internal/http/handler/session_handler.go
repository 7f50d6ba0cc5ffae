package handler

import (
	"net/http"

	"github.com/brewlog/auth-service/internal/http/middleware"
	"github.com/brewlog/auth-service/internal/http/response"
	"github.com/brewlog/auth-service/internal/observability"
	"github.com/brewlog/auth-service/internal/security"
	"github.com/brewlog/auth-service/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
	secure   bool
}

func NewSessionHandler(sessions *service.SessionService, secureCookies bool) *SessionHandler {
	return &SessionHandler{sessions: sessions, secure: secureCookies}
}

// Refresh extends the current session. With most of the ttl left it is a
// deliberate no-op that re-states the current expiry; near expiry it rotates
// the cookie token and the csrf token together.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := security.GetCookie(r, security.SessionCookieName)
	result, err := h.sessions.Refresh(r.Context(), raw, r.Header.Get("X-CSRF-Token"))
	if err != nil {
		h.auditRefreshFailure(r, err)
		if ae, ok := service.AsAuthError(err); ok && ae.Kind == service.ErrKindSessionExpired {
			security.ClearSessionCookies(w, h.secure || r.TLS != nil)
		}
		writeServiceError(w, r, err)
		return
	}

	status := "noop"
	if result.Refreshed {
		status = "rotated"
		writeSessionCookies(w, r, result, h.secure)
		observability.Audit(r, observability.AuditLogin, observability.SeverityLow,
			"user_id", result.User.ID, "refreshed_session", true)
	}
	observability.RecordSessionRefresh(r.Context(), status)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"refreshed": result.Refreshed,
		"session":   sessionViewOf(result),
	})
}

func (h *SessionHandler) auditRefreshFailure(r *http.Request, err error) {
	ae, ok := service.AsAuthError(err)
	if !ok {
		return
	}
	observability.RecordSessionRefresh(r.Context(), string(ae.Kind))
	switch ae.Kind {
	case service.ErrKindCSRF:
		observability.Audit(r, observability.AuditCSRFViolation, observability.SeverityHigh, "reason", ae.Reason)
	case service.ErrKindSessionExpired:
		observability.Audit(r, observability.AuditFailedLogin, observability.SeverityLow, "reason", ae.Reason)
	}
}

// Validate reports whether the caller holds a live session. An invalid or
// absent session is a normal answer, not an error: the endpoint stays 200
// with valid=false so polling clients can distinguish "signed out" from a
// broken server.
func (h *SessionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	raw := security.GetCookie(r, security.SessionCookieName)
	result, err := h.sessions.Validate(r.Context(), raw)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "Something went wrong, try again", nil)
		return
	}
	observability.RecordSessionValidate(r.Context(), validateStatus(result))
	if !result.Valid {
		if result.Reason == "expired" {
			observability.Audit(r, observability.AuditFailedLogin, observability.SeverityLow, "reason", "session_expired")
		}
		security.ClearSessionCookies(w, h.secure || r.TLS != nil)
		response.JSON(w, r, http.StatusOK, map[string]any{"valid": false})
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"valid":      true,
		"user":       viewOf(result.User),
		"expires_at": result.ExpiresAt,
	})
}

func validateStatus(result *service.ValidationResult) string {
	if result.Valid {
		return "valid"
	}
	if result.Reason == "" {
		return "invalid"
	}
	return result.Reason
}

// Me returns the signed-in user's profile with its linked providers.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	result, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to continue", nil)
		return
	}
	providers := make([]string, 0, len(result.User.LinkedAccounts))
	for _, link := range result.User.LinkedAccounts {
		providers = append(providers, link.Provider)
	}
	view := viewOf(result.User)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user":             view,
		"linked_providers": providers,
		"auth_method":      string(result.Session.AuthMethod),
	})
}
