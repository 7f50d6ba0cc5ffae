package handler

import (
	"net/http"
	"time"

	"github.com/brewlog/auth-service/internal/domain"
	"github.com/brewlog/auth-service/internal/http/middleware"
	"github.com/brewlog/auth-service/internal/http/response"
	"github.com/brewlog/auth-service/internal/observability"
	"github.com/brewlog/auth-service/internal/security"
	"github.com/brewlog/auth-service/internal/service"
)

type AuthHandler struct {
	login    *service.LoginService
	sessions *service.SessionService
	oauth    *service.OAuthService
	policy   service.LoginRatePolicy
	secure   bool
}

func NewAuthHandler(login *service.LoginService, sessions *service.SessionService, oauth *service.OAuthService, policy service.LoginRatePolicy, secureCookies bool) *AuthHandler {
	return &AuthHandler{login: login, sessions: sessions, oauth: oauth, policy: policy, secure: secureCookies}
}

type userView struct {
	ID         uint   `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	AuthMethod string `json:"auth_method"`
}

type sessionView struct {
	User       userView  `json:"user"`
	CSRFToken  string    `json:"csrf_token"`
	ExpiresAt  time.Time `json:"expires_at"`
	AuthMethod string    `json:"auth_method"`
}

func viewOf(user *domain.User) userView {
	return userView{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		Avatar:     user.Avatar,
		AuthMethod: string(user.AuthMethod),
	}
}

func writeSessionCookies(w http.ResponseWriter, r *http.Request, result *service.SessionResult, secureCookies bool) {
	secure := secureCookies || r.TLS != nil
	security.SetSessionCookie(w, result.Token, result.Session.ExpiresAt, secure)
	security.SetCSRFCookie(w, result.Session.CSRFToken, result.Session.ExpiresAt, secure)
}

func sessionViewOf(result *service.SessionResult) sessionView {
	return sessionView{
		User:       viewOf(result.User),
		CSRFToken:  result.Session.CSRFToken,
		ExpiresAt:  result.Session.ExpiresAt,
		AuthMethod: string(result.Session.AuthMethod),
	}
}

type loginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	CSRFToken string `json:"csrfToken"`
}

// Login is the credential sign-in endpoint. The CSRF token travels in the
// request body, with the X-CSRF-Token header as a fallback.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Malformed request body", nil)
		return
	}
	csrfToken := body.CSRFToken
	if csrfToken == "" {
		csrfToken = r.Header.Get("X-CSRF-Token")
	}

	result, err := h.login.Login(r.Context(), service.LoginRequest{
		Email:     body.Email,
		Password:  body.Password,
		CSRFToken: csrfToken,
		ClientIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if result != nil && !result.RateLimit.ResetAt.IsZero() {
		response.RateLimitHeaders(w, h.policy.MaxAttempts, result.RateLimit.Remaining, result.RateLimit.ResetAt)
	}
	if err != nil {
		h.auditLoginFailure(r, body.Email, err)
		if ae, ok := service.AsAuthError(err); ok && ae.Kind == service.ErrKindRateLimited && result != nil {
			response.RetryAfter(w, result.RateLimit.RetryAfter)
			observability.RecordRateLimitRetryAfter(r.Context(), "login", result.RateLimit.RetryAfter)
		}
		writeServiceError(w, r, err)
		return
	}

	observability.RecordLogin(r.Context(), "email", "success")
	observability.Audit(r, observability.AuditLogin, observability.SeverityLow,
		"user_id", result.User.ID,
		"auth_method", "email",
	)
	writeSessionCookies(w, r, &result.SessionResult, h.secure)
	response.JSON(w, r, http.StatusOK, sessionViewOf(&result.SessionResult))
}

func (h *AuthHandler) auditLoginFailure(r *http.Request, email string, err error) {
	ae, ok := service.AsAuthError(err)
	if !ok {
		return
	}
	attrs := []any{
		"email", security.SanitizeEmailForLog(email),
		"reason", ae.Reason,
	}
	switch ae.Kind {
	case service.ErrKindRateLimited:
		observability.RecordLogin(r.Context(), "email", "rate_limited")
		observability.Audit(r, observability.AuditRateLimitExceeded, observability.SeverityHigh, attrs...)
	case service.ErrKindCSRF:
		observability.RecordLogin(r.Context(), "email", "csrf_violation")
		observability.Audit(r, observability.AuditCSRFViolation, observability.SeverityHigh, attrs...)
	default:
		observability.RecordLogin(r.Context(), "email", string(ae.Kind))
		observability.Audit(r, observability.AuditFailedLogin, observability.SeverityMedium, attrs...)
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Malformed request body", nil)
		return
	}

	result, err := h.login.Register(r.Context(), service.RegisterRequest{
		Email:     body.Email,
		Password:  body.Password,
		Name:      body.Name,
		ClientIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	observability.Audit(r, observability.AuditRegistration, observability.SeverityLow, "user_id", result.User.ID)
	writeSessionCookies(w, r, result, h.secure)
	response.JSON(w, r, http.StatusCreated, sessionViewOf(result))
}

// Logout revokes the current session and expires both cookies. It answers
// 200 even for a dead session; logging out twice is not an error.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw := security.GetCookie(r, security.SessionCookieName)
	userID, err := h.sessions.Logout(r.Context(), raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if userID != 0 {
		observability.Audit(r, observability.AuditLogout, observability.SeverityLow, "user_id", userID)
	}
	security.ClearSessionCookies(w, h.secure || r.TLS != nil)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "signed_out"})
}

// Providers lists the configured OAuth providers ordered for the caller's
// platform, and bootstraps the pre-login csrf cookie the login form echoes
// back.
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	if security.GetCookie(r, security.CSRFCookieName) == "" {
		token, err := security.NewCSRFToken()
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		security.SetCSRFCookie(w, token, time.Now().Add(time.Hour), h.secure || r.TLS != nil)
	}
	names := h.oauth.ProviderNames(r.URL.Query().Get("platform"))
	response.JSON(w, r, http.StatusOK, map[string]any{"providers": names})
}
