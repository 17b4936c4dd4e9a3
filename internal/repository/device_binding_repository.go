package repository

import (
	"context"
	"errors"
	"time"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrBindingNotFound = errors.New("device binding not found")

// ResetResult describes what a primary reset displaced.
type ResetResult struct {
	Binding             *domain.DeviceBinding
	InvalidatedSessions int64
}

type DeviceBindingRepository interface {
	ListActiveByAccount(accountID uint) ([]domain.DeviceBinding, error)
	FindActivePrimary(accountID uint) (*domain.DeviceBinding, error)
	Register(binding *domain.DeviceBinding) error
	RegisterPrimary(binding *domain.DeviceBinding) (replacedFingerprint string, err error)
	Deactivate(bindingID uint, reason string, actorID *uint) (bool, error)
	ResetPrimary(accountID uint, reason string, actorID *uint) (*ResetResult, error)
}

type GormDeviceBindingRepository struct{ db *gorm.DB }

func NewDeviceBindingRepository(db *gorm.DB) DeviceBindingRepository {
	return &GormDeviceBindingRepository{db: db}
}

func (r *GormDeviceBindingRepository) ListActiveByAccount(accountID uint) ([]domain.DeviceBinding, error) {
	var bindings []domain.DeviceBinding
	err := r.db.Where("account_id = ? AND deactivated_at IS NULL", accountID).
		Order("created_at ASC").
		Find(&bindings).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_binding", "list_active_by_account", "error")
		return nil, autherr.Storage("binding list", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "device_binding", "list_active_by_account", "success")
	return bindings, nil
}

func (r *GormDeviceBindingRepository) FindActivePrimary(accountID uint) (*domain.DeviceBinding, error) {
	var b domain.DeviceBinding
	err := r.db.Where("account_id = ? AND is_primary = ? AND deactivated_at IS NULL", accountID, true).
		First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "device_binding", "find_active_primary", "not_found")
			return nil, ErrBindingNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "device_binding", "find_active_primary", "error")
		return nil, autherr.Storage("binding find", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "device_binding", "find_active_primary", "success")
	return &b, nil
}

func (r *GormDeviceBindingRepository) Register(binding *domain.DeviceBinding) error {
	binding.IsPrimary = false
	err := r.db.Create(binding).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_binding", "register", "error")
		return autherr.Storage("binding create", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "device_binding", "register", "success")
	return nil
}

// RegisterPrimary installs a new primary binding. The account row is locked
// first: when no primary exists yet the primary lookup matches zero rows and
// locks nothing, so without it two concurrent first logins could both take
// the not-found branch. Any existing active primary is deactivated inside the
// same transaction and sessions bound to the displaced fingerprint are
// invalidated with reason device_reset. The partial unique index on live
// primaries backstops the invariant at the schema level.
func (r *GormDeviceBindingRepository) RegisterPrimary(binding *domain.DeviceBinding) (string, error) {
	var replaced string
	binding.IsPrimary = true
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var account domain.Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&account, binding.AccountID).Error; err != nil {
			return err
		}
		var current domain.DeviceBinding
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ? AND is_primary = ? AND deactivated_at IS NULL", binding.AccountID, true).
			First(&current).Error
		switch {
		case err == nil:
			now := time.Now().UTC()
			if err := tx.Model(&domain.DeviceBinding{}).
				Where("id = ? AND deactivated_at IS NULL", current.ID).
				Updates(map[string]any{
					"deactivated_at":      now,
					"deactivation_reason": domain.DeactivationReasonReplaced,
				}).Error; err != nil {
				return err
			}
			replaced = current.Fingerprint
			if err := tx.Model(&domain.Session{}).
				Where("account_id = ? AND fingerprint = ? AND invalidated_at IS NULL", binding.AccountID, current.Fingerprint).
				Updates(map[string]any{
					"invalidated_at":      now,
					"invalidation_reason": domain.InvalidationDeviceReset,
				}).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first-ever binding, nothing to displace
		default:
			return err
		}
		return tx.Create(binding).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_binding", "register_primary", "error")
		return "", autherr.Storage("binding register primary", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "device_binding", "register_primary", "success")
	return replaced, nil
}

// Deactivate is idempotent: a second call on the same binding changes nothing
// and reports changed=false.
func (r *GormDeviceBindingRepository) Deactivate(bindingID uint, reason string, actorID *uint) (bool, error) {
	res := r.db.Model(&domain.DeviceBinding{}).
		Where("id = ? AND deactivated_at IS NULL", bindingID).
		Updates(map[string]any{
			"deactivated_at":      time.Now().UTC(),
			"deactivated_by":      actorID,
			"deactivation_reason": reason,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "device_binding", "deactivate", "error")
		return false, autherr.Storage("binding deactivate", res.Error)
	}
	observability.RecordRepositoryOperation(context.Background(), "device_binding", "deactivate", "success")
	return res.RowsAffected > 0, nil
}

// ResetPrimary deactivates the account's active primary binding and
// invalidates every live session bound to its fingerprint, as one atomic
// operation. Used by the administrative device-reset flow.
func (r *GormDeviceBindingRepository) ResetPrimary(accountID uint, reason string, actorID *uint) (*ResetResult, error) {
	var result ResetResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var current domain.DeviceBinding
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ? AND is_primary = ? AND deactivated_at IS NULL", accountID, true).
			First(&current).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBindingNotFound
			}
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&domain.DeviceBinding{}).
			Where("id = ? AND deactivated_at IS NULL", current.ID).
			Updates(map[string]any{
				"deactivated_at":      now,
				"deactivated_by":      actorID,
				"deactivation_reason": reason,
			}).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.Session{}).
			Where("account_id = ? AND fingerprint = ? AND invalidated_at IS NULL", accountID, current.Fingerprint).
			Updates(map[string]any{
				"invalidated_at":      now,
				"invalidation_reason": domain.InvalidationDeviceReset,
			})
		if res.Error != nil {
			return res.Error
		}
		current.Deactivate(reason, actorID, now)
		result.Binding = &current
		result.InvalidatedSessions = res.RowsAffected
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBindingNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "device_binding", "reset_primary", "not_found")
			return nil, err
		}
		observability.RecordRepositoryOperation(context.Background(), "device_binding", "reset_primary", "error")
		return nil, autherr.Storage("binding reset primary", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "device_binding", "reset_primary", "success")
	return &result, nil
}
