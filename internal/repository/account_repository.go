package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/observability"

	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountRepository interface {
	FindByID(id uint) (*domain.Account, error)
	FindByEmail(email string) (*domain.Account, error)
	Create(account *domain.Account) error
	UpdatePassword(id uint, hash, salt string) error
	UpdateStatus(id uint, status domain.AccountStatus) error
}

type GormAccountRepository struct{ db *gorm.DB }

func NewAccountRepository(db *gorm.DB) AccountRepository { return &GormAccountRepository{db: db} }

func (r *GormAccountRepository) FindByID(id uint) (*domain.Account, error) {
	var a domain.Account
	err := r.db.First(&a, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "account", "find_by_id", "not_found")
			return nil, ErrAccountNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "account", "find_by_id", "error")
		return nil, autherr.Storage("account find", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "account", "find_by_id", "success")
	return &a, nil
}

// FindByEmail is case-insensitive: addresses are normalized to lower case on
// write, and the lookup lowers the probe to match.
func (r *GormAccountRepository) FindByEmail(email string) (*domain.Account, error) {
	var a domain.Account
	err := r.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "account", "find_by_email", "not_found")
			return nil, ErrAccountNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "account", "find_by_email", "error")
		return nil, autherr.Storage("account find", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "account", "find_by_email", "success")
	return &a, nil
}

func (r *GormAccountRepository) Create(account *domain.Account) error {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	err := r.db.Create(account).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "account", "create", "error")
		return autherr.Storage("account create", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "account", "create", "success")
	return nil
}

func (r *GormAccountRepository) UpdatePassword(id uint, hash, salt string) error {
	res := r.db.Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{"password_hash": hash, "password_salt": salt})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "account", "update_password", "error")
		return autherr.Storage("account update password", res.Error)
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "account", "update_password", "not_found")
		return ErrAccountNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "account", "update_password", "success")
	return nil
}

func (r *GormAccountRepository) UpdateStatus(id uint, status domain.AccountStatus) error {
	res := r.db.Model(&domain.Account{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "account", "update_status", "error")
		return autherr.Storage("account update status", res.Error)
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "account", "update_status", "not_found")
		return ErrAccountNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "account", "update_status", "success")
	return nil
}
