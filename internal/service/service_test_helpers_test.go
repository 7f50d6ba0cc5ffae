package service

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/brewlog/auth-service/internal/domain"
	"github.com/brewlog/auth-service/internal/repository"
	"github.com/brewlog/auth-service/internal/security"
)

var svcDBSeq atomic.Int64

type serviceDeps struct {
	db       *gorm.DB
	users    repository.UserRepository
	sessions repository.SessionRepository
	linked   repository.LinkedAccountRepository
	tokens   *security.SessionTokenManager
}

func newServiceDeps(t *testing.T) *serviceDeps {
	t.Helper()

	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", svcDBSeq.Add(1))
	db, err := repository.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	return &serviceDeps{
		db:       db,
		users:    repository.NewUserRepository(db),
		sessions: repository.NewSessionRepository(db),
		linked:   repository.NewLinkedAccountRepository(db),
		tokens:   security.NewSessionTokenManager("auth-service", "auth-clients", "test-secret-at-least-32-characters!!"),
	}
}

func (d *serviceDeps) sessionService(t *testing.T, ttl, guard time.Duration) *SessionService {
	t.Helper()
	return NewSessionService(d.sessions, d.users, d.tokens, ttl, guard)
}

// forceSessionExpiry backdates a session record under the repository's
// forward-only refresh rule.
func forceSessionExpiry(t *testing.T, deps *serviceDeps, tokenID string) {
	t.Helper()
	err := deps.db.Model(&domain.Session{}).
		Where("token_id = ?", tokenID).
		UpdateColumn("expires_at", time.Now().Add(-time.Minute)).Error
	if err != nil {
		t.Fatalf("force expiry: %v", err)
	}
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}
