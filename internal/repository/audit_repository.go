package repository

import (
	"context"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/observability"

	"gorm.io/gorm"
)

// AuditLogRepository is append-only. Nothing in this package updates or
// deletes audit rows.
type AuditLogRepository interface {
	Append(entry *domain.AuditLogEntry) error
	ListByEntity(entityType string, entityID uint, limit int) ([]domain.AuditLogEntry, error)
}

type GormAuditLogRepository struct{ db *gorm.DB }

func NewAuditLogRepository(db *gorm.DB) AuditLogRepository { return &GormAuditLogRepository{db: db} }

func (r *GormAuditLogRepository) Append(entry *domain.AuditLogEntry) error {
	err := r.db.Create(entry).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "audit_log", "append", "error")
		return autherr.Storage("audit append", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "audit_log", "append", "success")
	return nil
}

func (r *GormAuditLogRepository) ListByEntity(entityType string, entityID uint, limit int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []domain.AuditLogEntry
	err := r.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "audit_log", "list_by_entity", "error")
		return nil, autherr.Storage("audit list", err)
	}
	observability.RecordRepositoryOperation(context.Background(), "audit_log", "list_by_entity", "success")
	return entries, nil
}
