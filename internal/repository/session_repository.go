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

type SessionRepository interface {
	Create(s *domain.Session) error
	FindByID(id uint) (*domain.Session, error)
	FindByToken(token string) (*domain.Session, error)
	FindByRefreshHash(hash string) (*domain.Session, error)
	FindByPriorRefreshHash(hash string) (*domain.Session, error)
	ListActiveByAccount(accountID uint) ([]domain.Session, error)
	Touch(sessionID uint, at time.Time) error
	RotateRefresh(sessionID uint, oldHash, newHash string, refreshExpiresAt time.Time) (bool, error)
	Invalidate(sessionID uint, reason domain.InvalidationReason) (bool, error)
	InvalidateAllForAccount(accountID uint, reason domain.InvalidationReason) (int64, error)
	InvalidateByFingerprint(accountID uint, fingerprint string, reason domain.InvalidationReason) (int64, error)
	CleanupExpired() (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return autherr.Storage("session create", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByID(id uint) (*domain.Session, error) {
	return r.findOne("find_by_id", "id = ?", id)
}

func (r *GormSessionRepository) FindByToken(token string) (*domain.Session, error) {
	return r.findOne("find_by_token", "session_token = ?", token)
}

func (r *GormSessionRepository) FindByRefreshHash(hash string) (*domain.Session, error) {
	return r.findOne("find_by_refresh_hash", "refresh_token_hash = ?", hash)
}

func (r *GormSessionRepository) FindByPriorRefreshHash(hash string) (*domain.Session, error) {
	return r.findOne("find_by_prior_refresh_hash", "prior_refresh_token_hash = ?", hash)
}

func (r *GormSessionRepository) findOne(op string, query string, args ...any) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where(query, args...).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", op, "not_found")
			return nil, autherr.ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", op, "error")
		return nil, autherr.Storage("session "+op, err)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", op, "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByAccount(accountID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("account_id = ? AND invalidated_at IS NULL AND expires_at > ?", accountID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_account", "error")
		return nil, autherr.Storage("session list", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_account", "success")
	return sessions, nil
}

// Touch updates last_activity only. Failures are reported but callers treat
// them as non-fatal.
func (r *GormSessionRepository) Touch(sessionID uint, at time.Time) error {
	err := r.db.Model(&domain.Session{}).
		Where("id = ? AND invalidated_at IS NULL", sessionID).
		Update("last_activity_at", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "touch", "error")
		return autherr.Storage("session touch", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "touch", "success")
	return nil
}

// RotateRefresh swaps the stored refresh hash under a row lock. The update is
// conditional on the old hash still being current, so of two concurrent
// rotations against the same token exactly one wins. The displaced hash is
// kept one generation back for replay detection, and the refresh deadline
// moves forward with the new token.
func (r *GormSessionRepository) RotateRefresh(sessionID uint, oldHash, newHash string, refreshExpiresAt time.Time) (bool, error) {
	var rotated bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var s domain.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND refresh_token_hash = ? AND invalidated_at IS NULL AND expires_at > ?",
				sessionID, oldHash, time.Now()).
			First(&s).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		res := tx.Model(&domain.Session{}).
			Where("id = ? AND refresh_token_hash = ?", s.ID, oldHash).
			Updates(map[string]any{
				"prior_refresh_token_hash": oldHash,
				"refresh_token_hash":       newHash,
				"refresh_expires_at":       refreshExpiresAt,
				"last_activity_at":         time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		rotated = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "rotate_refresh", "error")
		return false, autherr.Storage("session rotate", err)
	}
	if !rotated {
		observability.RecordRepositoryOperation(context.Background(), "session", "rotate_refresh", "not_found")
		return false, nil
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "rotate_refresh", "success")
	return true, nil
}

func (r *GormSessionRepository) Invalidate(sessionID uint, reason domain.InvalidationReason) (bool, error) {
	res := r.db.Model(&domain.Session{}).
		Where("id = ? AND invalidated_at IS NULL", sessionID).
		Updates(map[string]any{"invalidated_at": time.Now().UTC(), "invalidation_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "invalidate", "error")
		return false, autherr.Storage("session invalidate", res.Error)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "invalidate", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) InvalidateAllForAccount(accountID uint, reason domain.InvalidationReason) (int64, error) {
	res := r.db.Model(&domain.Session{}).
		Where("account_id = ? AND invalidated_at IS NULL", accountID).
		Updates(map[string]any{"invalidated_at": time.Now().UTC(), "invalidation_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "invalidate_all_for_account", "error")
		return 0, autherr.Storage("session invalidate all", res.Error)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "invalidate_all_for_account", "success")
	return res.RowsAffected, nil
}

// InvalidateByFingerprint terminates every live session bound to a device in
// a single statement; used by the device-reset cascade.
func (r *GormSessionRepository) InvalidateByFingerprint(accountID uint, fingerprint string, reason domain.InvalidationReason) (int64, error) {
	res := r.db.Model(&domain.Session{}).
		Where("account_id = ? AND fingerprint = ? AND invalidated_at IS NULL", accountID, fingerprint).
		Updates(map[string]any{"invalidated_at": time.Now().UTC(), "invalidation_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "invalidate_by_fingerprint", "error")
		return 0, autherr.Storage("session invalidate by fingerprint", res.Error)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "invalidate_by_fingerprint", "success")
	return res.RowsAffected, nil
}

// CleanupExpired marks expired-but-never-invalidated sessions with reason
// "expired". Bookkeeping only: Verify evaluates expiry lazily and does not
// depend on this running.
func (r *GormSessionRepository) CleanupExpired() (int64, error) {
	res := r.db.Model(&domain.Session{}).
		Where("expires_at <= ? AND invalidated_at IS NULL", time.Now()).
		Updates(map[string]any{"invalidated_at": time.Now().UTC(), "invalidation_reason": domain.InvalidationExpired})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "error")
		return 0, autherr.Storage("session cleanup", res.Error)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
