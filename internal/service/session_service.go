package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/brewlog/auth-service/internal/domain"
	"github.com/brewlog/auth-service/internal/repository"
	"github.com/brewlog/auth-service/internal/security"
)

// SessionService owns the session lifecycle: issue on login, lazy-expiry
// validation, refresh with CSRF rotation, logout.
type SessionService struct {
	sessions     repository.SessionRepository
	users        repository.UserRepository
	tokens       *security.SessionTokenManager
	ttl          time.Duration
	refreshGuard time.Duration
}

func NewSessionService(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	tokens *security.SessionTokenManager,
	ttl, refreshGuard time.Duration,
) *SessionService {
	if ttl <= 0 || ttl > 7*24*time.Hour {
		ttl = 7 * 24 * time.Hour
	}
	if refreshGuard <= 0 {
		refreshGuard = 15 * time.Minute
	}
	return &SessionService{
		sessions:     sessions,
		users:        users,
		tokens:       tokens,
		ttl:          ttl,
		refreshGuard: refreshGuard,
	}
}

// SessionResult bundles the server-side session with the signed cookie
// token handed to the client.
type SessionResult struct {
	Session   *domain.Session
	User      *domain.User
	Token     string
	Refreshed bool
}

// ValidationResult is the fail-closed answer of Validate. Reason is for
// audit use only; invalid sessions all look alike to the client.
type ValidationResult struct {
	Valid     bool
	Reason    string
	User      *domain.User
	Session   *domain.Session
	ExpiresAt time.Time
}

// Issue creates a fresh session for an authenticated user. The CSRF token
// is newly minted, never carried over from any prior session.
func (s *SessionService) Issue(user *domain.User, method domain.AuthMethod, ua, ip string) (*SessionResult, error) {
	csrf, err := security.NewCSRFToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	session := &domain.Session{
		UserID:        user.ID,
		TokenID:       uuid.NewString(),
		CSRFToken:     csrf,
		AuthMethod:    method,
		UserAgent:     ua,
		IP:            ip,
		ExpiresAt:     now.Add(s.ttl),
		LastValidated: now,
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, err
	}
	token, err := s.tokens.Sign(user.ID, session.TokenID, string(method), session.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &SessionResult{Session: session, User: user, Token: token}, nil
}

// Validate resolves a raw cookie token to a live session. It fails closed:
// any parse failure, missing record, revocation, expiry, or incomplete user
// record yields Valid=false rather than an error.
func (s *SessionService) Validate(ctx context.Context, rawToken string) (*ValidationResult, error) {
	if rawToken == "" {
		return &ValidationResult{Valid: false, Reason: "no_session"}, nil
	}
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return &ValidationResult{Valid: false, Reason: "invalid_token"}, nil
	}
	session, err := s.sessions.FindByTokenID(claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return &ValidationResult{Valid: false, Reason: "no_session"}, nil
		}
		return nil, err
	}
	now := time.Now()
	if session.RevokedAt != nil {
		return &ValidationResult{Valid: false, Reason: "revoked"}, nil
	}
	if session.Expired(now) {
		return &ValidationResult{Valid: false, Reason: "expired"}, nil
	}
	user, err := s.users.FindByID(session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return &ValidationResult{Valid: false, Reason: "invalid_user"}, nil
		}
		return nil, err
	}
	if user.ID == 0 || user.Email == "" {
		return &ValidationResult{Valid: false, Reason: "invalid_user"}, nil
	}
	if err := s.sessions.TouchValidated(session.TokenID, now.UTC()); err != nil {
		return nil, err
	}
	session.LastValidated = now.UTC()
	return &ValidationResult{
		Valid:     true,
		User:      user,
		Session:   session,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Refresh extends a session by a full TTL window and rotates its CSRF
// token. A session with more than the guard interval left is returned
// unchanged so clients polling refresh do not churn tokens. An expired
// session can only be replaced by a full re-login.
func (s *SessionService) Refresh(ctx context.Context, rawToken, csrfToken string) (*SessionResult, error) {
	if rawToken == "" {
		return nil, newAuthError(ErrKindSessionExpired, "No active session", "no_session", false)
	}
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return nil, newAuthError(ErrKindSessionExpired, "No active session", "invalid_token", false)
	}
	session, err := s.sessions.FindByTokenID(claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, newAuthError(ErrKindSessionExpired, "No active session", "no_session", false)
		}
		return nil, err
	}
	now := time.Now()
	if session.RevokedAt != nil {
		return nil, newAuthError(ErrKindSessionExpired, "No active session", "revoked", false)
	}
	if session.Expired(now) {
		return nil, newAuthError(ErrKindSessionExpired, "Session expired, sign in again", "session_expired", false)
	}
	if !security.CSRFTokenEqual(session.CSRFToken, csrfToken) {
		return nil, newAuthError(ErrKindCSRF, "Invalid security token, reload and retry", "csrf_mismatch", true)
	}

	user, err := s.users.FindByID(session.UserID)
	if err != nil {
		return nil, err
	}

	if session.ExpiresAt.Sub(now) > s.refreshGuard {
		return &SessionResult{Session: session, User: user, Token: rawToken, Refreshed: false}, nil
	}

	newCSRF, err := security.NewCSRFToken()
	if err != nil {
		return nil, err
	}
	refreshed, err := s.sessions.Refresh(session.TokenID, now.UTC().Add(s.ttl), newCSRF)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, newAuthError(ErrKindSessionExpired, "Session expired, sign in again", "session_expired", false)
		}
		return nil, err
	}
	token, err := s.tokens.Sign(user.ID, refreshed.TokenID, string(refreshed.AuthMethod), refreshed.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &SessionResult{Session: refreshed, User: user, Token: token, Refreshed: true}, nil
}

// Logout revokes the session behind a raw cookie token. Unknown or already
// dead tokens are a no-op; logout never fails toward the client.
func (s *SessionService) Logout(ctx context.Context, rawToken string) (uint, error) {
	if rawToken == "" {
		return 0, nil
	}
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return 0, nil
	}
	if err := s.sessions.RevokeByTokenID(claims.ID, "logout"); err != nil {
		return 0, err
	}
	id, _ := strconv.ParseUint(claims.Subject, 10, 64)
	return uint(id), nil
}
