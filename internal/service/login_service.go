package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/brewlog/auth-service/internal/domain"
	"github.com/brewlog/auth-service/internal/repository"
	"github.com/brewlog/auth-service/internal/security"
)

const (
	maxEmailLength    = 254
	minPasswordLength = 8
)

type LoginRequest struct {
	Email     string
	Password  string
	CSRFToken string
	ClientIP  string
	UserAgent string
}

type LoginResult struct {
	SessionResult
	RateLimit RateLimitDecision
}

// LoginService runs the ordered credential login pipeline: throttle, input
// validation, CSRF presence, lookup, lock check, password verification.
// Each step short-circuits; not-found and wrong-password are
// indistinguishable to the caller.
type LoginService struct {
	users   repository.UserRepository
	session *SessionService
	limiter *LoginRateLimiter
}

func NewLoginService(users repository.UserRepository, session *SessionService, limiter *LoginRateLimiter) *LoginService {
	return &LoginService{users: users, session: session, limiter: limiter}
}

func (s *LoginService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	decision, err := s.limiter.Check(ctx, req.ClientIP)
	if err != nil {
		return nil, err
	}
	result := &LoginResult{RateLimit: decision}
	if !decision.Allowed {
		return result, newAuthError(ErrKindRateLimited, "Too many attempts, try again later", "rate_limited", true)
	}

	email, ok := normalizeEmail(req.Email)
	if !ok || len(req.Password) < minPasswordLength {
		return result, newAuthError(ErrKindValidation, "Invalid email or password format", "input_validation", true)
	}

	if req.CSRFToken == "" {
		return result, newAuthError(ErrKindCSRF, "Missing security token, reload and retry", "csrf_missing", true)
	}
	if !security.ValidCSRFTokenFormat(req.CSRFToken) {
		return result, newAuthError(ErrKindCSRF, "Invalid security token, reload and retry", "csrf_malformed", true)
	}

	user, err := s.users.FindCredentialUserByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Identical kind and message as wrong-password; only the audit
			// reason differs.
			return result, newAuthError(ErrKindInvalidCredentials, genericCredentialMessage, "user_not_found", true)
		}
		return nil, err
	}

	if user.Locked() {
		return result, newAuthError(ErrKindAccountLocked, "Account is locked, contact support", "account_locked", false)
	}

	if err := security.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		if recordErr := s.users.RecordFailedLogin(user.ID); recordErr != nil {
			return nil, recordErr
		}
		return result, newAuthError(ErrKindInvalidCredentials, genericCredentialMessage, "wrong_password", true)
	}

	// Success: prior failures stop counting against this client.
	if err := s.limiter.Reset(ctx, req.ClientIP); err != nil {
		return nil, err
	}
	if err := s.users.ResetFailedLogins(user.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	session, err := s.session.Issue(user, domain.AuthMethodEmail, req.UserAgent, req.ClientIP)
	if err != nil {
		return nil, err
	}
	result.SessionResult = *session
	return result, nil
}

type RegisterRequest struct {
	Email     string
	Password  string
	Name      string
	ClientIP  string
	UserAgent string
}

// Register provisions a credential account and signs it in. One credential
// account per email; OAuth accounts under the same address are untouched.
func (s *LoginService) Register(ctx context.Context, req RegisterRequest) (*SessionResult, error) {
	email, ok := normalizeEmail(req.Email)
	if !ok || len(req.Password) < minPasswordLength {
		return nil, newAuthError(ErrKindValidation, "Invalid email or password format", "input_validation", true)
	}

	if _, err := s.users.FindCredentialUserByEmail(email); err == nil {
		return nil, newAuthError(ErrKindValidation, "Unable to register with this email", "email_taken", false)
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		AuthMethod:   domain.AuthMethodEmail,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	return s.session.Issue(user, domain.AuthMethodEmail, req.UserAgent, req.ClientIP)
}

// normalizeEmail trims, lowercases and structurally validates an email.
func normalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > maxEmailLength {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}
