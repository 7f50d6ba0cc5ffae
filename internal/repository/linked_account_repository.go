package repository

import (
	"context"
	"errors"

	"github.com/brewlog/auth-service/internal/domain"
	"github.com/brewlog/auth-service/internal/observability"

	"gorm.io/gorm"
)

var ErrAlreadyLinked = errors.New("provider already linked to user")

type LinkedAccountRepository interface {
	ListByUserID(userID uint) ([]domain.LinkedAccount, error)
	// Create appends a provider link, enforcing at most one link per provider
	// per user.
	Create(link *domain.LinkedAccount) error
}

type GormLinkedAccountRepository struct{ db *gorm.DB }

func NewLinkedAccountRepository(db *gorm.DB) LinkedAccountRepository {
	return &GormLinkedAccountRepository{db: db}
}

func (r *GormLinkedAccountRepository) ListByUserID(userID uint) ([]domain.LinkedAccount, error) {
	var links []domain.LinkedAccount
	err := r.db.Where("user_id = ?", userID).Order("linked_at ASC").Find(&links).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "linked_account", "list_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "linked_account", "list_by_user_id", "success")
	return links, nil
}

func (r *GormLinkedAccountRepository) Create(link *domain.LinkedAccount) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.LinkedAccount
		err := tx.Where("user_id = ? AND provider = ?", link.UserID, link.Provider).First(&existing).Error
		if err == nil {
			return ErrAlreadyLinked
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(link).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyLinked) {
			observability.RecordRepositoryOperation(context.Background(), "linked_account", "create", "conflict")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "linked_account", "create", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "linked_account", "create", "success")
	return nil
}
