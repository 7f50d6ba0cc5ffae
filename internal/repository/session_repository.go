package repository

import (
	"context"
	"errors"
	"time"

	"github.com/brewlog/auth-service/internal/domain"
	"github.com/brewlog/auth-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(s *domain.Session) error
	// FindByTokenID returns the session for a cookie token id whether or not
	// it is expired; callers apply the lazy-expiry check so expired and
	// missing sessions can be told apart in audit logs.
	FindByTokenID(tokenID string) (*domain.Session, error)
	// Refresh extends a session and rotates its CSRF token inside one
	// transaction. ExpiresAt only moves forward: a refresh that would shorten
	// the session is rejected as not found.
	Refresh(tokenID string, newExpiresAt time.Time, newCSRFToken string) (*domain.Session, error)
	TouchValidated(tokenID string, at time.Time) error
	RevokeByTokenID(tokenID, reason string) error
	CleanupExpired() (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByTokenID(tokenID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("token_id = ?", tokenID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) Refresh(tokenID string, newExpiresAt time.Time, newCSRFToken string) (*domain.Session, error) {
	var refreshed *domain.Session
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var s domain.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_id = ? AND revoked_at IS NULL AND expires_at > ?", tokenID, time.Now()).
			First(&s).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if !newExpiresAt.After(s.ExpiresAt) {
			return ErrSessionNotFound
		}
		now := time.Now().UTC()
		if err := tx.Model(&domain.Session{}).
			Where("id = ?", s.ID).
			Updates(map[string]any{
				"expires_at":     newExpiresAt,
				"csrf_token":     newCSRFToken,
				"last_validated": now,
			}).Error; err != nil {
			return err
		}
		s.ExpiresAt = newExpiresAt
		s.CSRFToken = newCSRFToken
		s.LastValidated = now
		refreshed = &s
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "refresh", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "session", "refresh", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "refresh", "success")
	return refreshed, nil
}

func (r *GormSessionRepository) TouchValidated(tokenID string, at time.Time) error {
	err := r.db.Model(&domain.Session{}).
		Where("token_id = ?", tokenID).
		UpdateColumn("last_validated", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "touch_validated", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "touch_validated", "success")
	return nil
}

func (r *GormSessionRepository) RevokeByTokenID(tokenID, reason string) error {
	now := time.Now().UTC()
	err := r.db.Model(&domain.Session{}).
		Where("token_id = ? AND revoked_at IS NULL", tokenID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_token_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_token_id", "success")
	return nil
}

func (r *GormSessionRepository) CleanupExpired() (int64, error) {
	res := r.db.Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
