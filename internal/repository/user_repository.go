package repository

import (
	"context"
	"errors"
	"time"

	"github.com/brewlog/auth-service/internal/domain"
	"github.com/brewlog/auth-service/internal/observability"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	FindByID(id uint) (*domain.User, error)
	// FindCredentialUserByEmail resolves the password-bearing account for an
	// email. Emails are not unique across accounts; credential login always
	// targets the account that can actually verify a password.
	FindCredentialUserByEmail(email string) (*domain.User, error)
	FindByEmail(email string) (*domain.User, error)
	FindByProviderIdentity(provider, providerID string) (*domain.User, error)
	Create(user *domain.User) error
	Update(user *domain.User) error
	RecordFailedLogin(userID uint) error
	ResetFailedLogins(userID uint, loginAt time.Time) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.Preload("LinkedAccounts").First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindCredentialUserByEmail(email string) (*domain.User, error) {
	var u domain.User
	err := r.db.Preload("LinkedAccounts").
		Where("email = ? AND password_hash <> ''", email).
		Order("id ASC").
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_credential_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_credential_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_credential_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(email string) (*domain.User, error) {
	var u domain.User
	err := r.db.Preload("LinkedAccounts").
		Where("email = ?", email).
		Order("id ASC").
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByProviderIdentity(provider, providerID string) (*domain.User, error) {
	var link domain.LinkedAccount
	err := r.db.Where("provider = ? AND provider_id = ?", provider, providerID).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_provider_identity", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_provider_identity", "error")
		return nil, err
	}
	return r.FindByID(link.UserID)
}

func (r *GormUserRepository) Create(user *domain.User) error {
	err := r.db.Create(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "create", "success")
	return nil
}

func (r *GormUserRepository) Update(user *domain.User) error {
	err := r.db.Save(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "update", "success")
	return nil
}

func (r *GormUserRepository) RecordFailedLogin(userID uint) error {
	err := r.db.Model(&domain.User{}).
		Where("id = ?", userID).
		UpdateColumn("failed_attempts", gorm.Expr("failed_attempts + 1")).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "record_failed_login", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "record_failed_login", "success")
	return nil
}

func (r *GormUserRepository) ResetFailedLogins(userID uint, loginAt time.Time) error {
	err := r.db.Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"failed_attempts": 0, "last_login_at": loginAt}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "reset_failed_logins", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "reset_failed_logins", "success")
	return nil
}
