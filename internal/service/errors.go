package service

import (
	"errors"
	"fmt"
)

// AuthErrorKind is the wire-visible error taxonomy. Raw internal errors are
// normalized into one of these at the handler boundary and never leak to the
// client.
type AuthErrorKind string

const (
	ErrKindValidation         AuthErrorKind = "validation_error"
	ErrKindInvalidCredentials AuthErrorKind = "invalid_credentials"
	ErrKindAccountLocked      AuthErrorKind = "account_locked"
	ErrKindRateLimited        AuthErrorKind = "rate_limit_exceeded"
	ErrKindCSRF               AuthErrorKind = "csrf_violation"
	ErrKindStateMismatch      AuthErrorKind = "oauth_state_mismatch"
	ErrKindAccessDenied       AuthErrorKind = "oauth_access_denied"
	ErrKindNetwork            AuthErrorKind = "oauth_network_error"
	ErrKindLinking            AuthErrorKind = "account_linking_error"
	ErrKindSessionExpired     AuthErrorKind = "SESSION_EXPIRED"
)

// AuthError carries the taxonomy kind, a client-safe message, and an
// internal reason recorded in the audit trail but never echoed to clients.
type AuthError struct {
	Kind      AuthErrorKind
	Message   string
	Reason    string
	Retryable bool
	wrapped   error
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return string(e.Kind)
}

func (e *AuthError) Unwrap() error { return e.wrapped }

func newAuthError(kind AuthErrorKind, message, reason string, retryable bool) *AuthError {
	return &AuthError{Kind: kind, Message: message, Reason: reason, Retryable: retryable}
}

func wrapAuthError(kind AuthErrorKind, message, reason string, retryable bool, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Reason: reason, Retryable: retryable, wrapped: err}
}

// AsAuthError unwraps err into the taxonomy, if it belongs to it.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// genericCredentialMessage is shared by user-not-found and wrong-password
// failures so responses cannot be used for account enumeration.
const genericCredentialMessage = "Invalid email or password"
