package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brewlog/auth-service/internal/http/response"
	"github.com/brewlog/auth-service/internal/service"
)

// writeServiceError maps the auth error taxonomy onto HTTP statuses. Raw
// internal errors never reach the client; they are logged and answered with
// a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := service.AsAuthError(err)
	if !ok {
		slog.ErrorContext(r.Context(), "unhandled service error", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "Something went wrong, try again", nil)
		return
	}
	response.Error(w, r, statusForKind(ae.Kind), strings.ToUpper(string(ae.Kind)), ae.Message, nil)
}

func statusForKind(kind service.AuthErrorKind) int {
	switch kind {
	case service.ErrKindValidation:
		return http.StatusBadRequest
	case service.ErrKindInvalidCredentials, service.ErrKindSessionExpired:
		return http.StatusUnauthorized
	case service.ErrKindCSRF, service.ErrKindAccessDenied:
		return http.StatusForbidden
	case service.ErrKindAccountLocked:
		return http.StatusLocked
	case service.ErrKindRateLimited:
		return http.StatusTooManyRequests
	case service.ErrKindStateMismatch:
		return http.StatusBadRequest
	case service.ErrKindLinking:
		return http.StatusConflict
	case service.ErrKindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON parses a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}
