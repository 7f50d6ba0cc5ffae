package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brewlog/auth-service/internal/http/middleware"
	"github.com/brewlog/auth-service/internal/http/response"
	"github.com/brewlog/auth-service/internal/observability"
	"github.com/brewlog/auth-service/internal/security"
	"github.com/brewlog/auth-service/internal/service"
)

type OAuthHandler struct {
	oauth  *service.OAuthService
	secure bool
}

func NewOAuthHandler(oauth *service.OAuthService, secureCookies bool) *OAuthHandler {
	return &OAuthHandler{oauth: oauth, secure: secureCookies}
}

// Begin starts the provider handshake and redirects the browser to the
// provider's authorization page.
func (h *OAuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	result, err := h.oauth.BeginFlow(r.Context(), provider, middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.RecordOAuthFlowTransition(r.Context(), provider, "initiated")
	observability.Audit(r, observability.AuditOAuthLogin, observability.SeverityLow, "provider", provider)
	http.Redirect(w, r, result.AuthorizeURL, http.StatusFound)
}

// Callback finishes the handshake. It answers either a signed-in session or
// an awaiting_user_choice payload holding a pending-link token.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	result, err := h.oauth.HandleCallback(r.Context(), service.CallbackRequest{
		Provider:  provider,
		State:     q.Get("state"),
		Code:      q.Get("code"),
		ErrorCode: q.Get("error"),
		ClientIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.auditCallbackFailure(r, provider, err)
		writeServiceError(w, r, err)
		return
	}

	observability.RecordOAuthFlowTransition(r.Context(), provider, result.Outcome)
	if result.Outcome == service.OutcomeAwaitingLinkChoice {
		observability.Audit(r, observability.AuditOAuthCallback, observability.SeverityLow,
			"provider", provider,
			"outcome", result.Outcome,
		)
		response.JSON(w, r, http.StatusOK, map[string]any{
			"outcome":       result.Outcome,
			"pending_token": result.PendingToken,
			"provider":      result.Provider,
			"email":         result.Email,
		})
		return
	}

	observability.RecordLogin(r.Context(), "oauth", "success")
	observability.Audit(r, observability.AuditOAuthCallback, observability.SeverityLow,
		"provider", provider,
		"outcome", result.Outcome,
		"user_id", result.Session.User.ID,
		"new_user", result.NewUser,
	)
	writeSessionCookies(w, r, result.Session, h.secure)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"outcome":  result.Outcome,
		"new_user": result.NewUser,
		"session":  sessionViewOf(result.Session),
	})
}

func (h *OAuthHandler) auditCallbackFailure(r *http.Request, provider string, err error) {
	ae, ok := service.AsAuthError(err)
	if !ok {
		return
	}
	observability.RecordOAuthFlowTransition(r.Context(), provider, string(ae.Kind))
	event := observability.AuditOAuthCallback
	severity := observability.SeverityMedium
	if ae.Kind == service.ErrKindStateMismatch {
		event = observability.AuditOAuthStateMismatch
		severity = observability.SeverityHigh
	}
	observability.Audit(r, event, severity, "provider", provider, "reason", ae.Reason)
}

type completeLinkRequest struct {
	PendingToken string `json:"pending_token"`
	Decision     string `json:"decision"`
}

// CompleteLink applies the user's account-linking choice and signs them in.
func (h *OAuthHandler) CompleteLink(w http.ResponseWriter, r *http.Request) {
	var body completeLinkRequest
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Malformed request body", nil)
		return
	}

	result, err := h.oauth.CompleteLink(r.Context(), body.PendingToken, body.Decision, r.UserAgent(), middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	observability.RecordOAuthFlowTransition(r.Context(), result.Provider, "link_"+body.Decision)
	observability.Audit(r, linkAuditEvent(body.Decision), observability.SeverityLow,
		"provider", result.Provider,
		"decision", body.Decision,
		"user_id", result.Session.User.ID,
		"email", security.SanitizeEmailForLog(result.Email),
	)
	writeSessionCookies(w, r, result.Session, h.secure)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"outcome":  result.Outcome,
		"new_user": result.NewUser,
		"session":  sessionViewOf(result.Session),
	})
}

// account_linked marks only an actual link; choosing a separate account
// registers a new one instead.
func linkAuditEvent(decision string) string {
	if decision == service.LinkDecisionSeparate {
		return observability.AuditRegistration
	}
	return observability.AuditAccountLinked
}
