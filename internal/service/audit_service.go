package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/observability"
	"github.com/pipetrade/rfq-auth/internal/repository"
)

// AuditService is the append-only sink for security-relevant actions. Every
// entry lands in the audit_log table and is mirrored to the structured log
// stream. A failed append is logged but never fails the triggering operation.
type AuditService struct {
	repo repository.AuditLogRepository
}

func NewAuditService(repo repository.AuditLogRepository) *AuditService {
	return &AuditService{repo: repo}
}

type AuditEvent struct {
	EntityType string
	EntityID   uint
	Action     domain.AuditAction
	OldValue   any
	NewValue   any
	ActorID    *uint
	IPAddress  string
	UserAgent  string
}

func (s *AuditService) Record(ctx context.Context, ev AuditEvent) {
	entry := &domain.AuditLogEntry{
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Action:     ev.Action,
		OldValue:   snapshot(ev.OldValue),
		NewValue:   snapshot(ev.NewValue),
		ActorID:    ev.ActorID,
		IPAddress:  ev.IPAddress,
		UserAgent:  ev.UserAgent,
	}
	if err := s.repo.Append(entry); err != nil {
		slog.ErrorContext(ctx, "audit append failed",
			"entity_type", ev.EntityType,
			"entity_id", ev.EntityID,
			"action", ev.Action,
			"error", err,
		)
	}
	observability.Audit(ctx, string(ev.Action),
		"entity_type", ev.EntityType,
		"entity_id", ev.EntityID,
		"ip", ev.IPAddress,
	)
}

func snapshot(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
