package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/repository"
)

type SessionView struct {
	ID             uint       `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	InvalidatedAt  *time.Time `json:"invalidated_at,omitempty"`
	Fingerprint    string     `json:"fingerprint"`
	UserAgent      string     `json:"user_agent"`
	IPAddress      string     `json:"ip_address"`
	IsCurrent      bool       `json:"is_current"`
}

// SessionService is the session registry: lookup, verification with lazy
// expiry, activity pings, and invalidation cascades.
type SessionService struct {
	sessions repository.SessionRepository
	audit    *AuditService
}

func NewSessionService(sessions repository.SessionRepository, audit *AuditService) *SessionService {
	return &SessionService{sessions: sessions, audit: audit}
}

// Verify resolves a session token to its account. An expired session fails
// with ErrSessionExpired whether or not the reaper got to it first; an
// invalidated one reports the recorded reason.
func (s *SessionService) Verify(ctx context.Context, sessionToken string) (uint, error) {
	session, err := s.sessions.FindByToken(sessionToken)
	if err != nil {
		return 0, err
	}
	if session.Invalidated() {
		reason := domain.InvalidationExpired
		if session.InvalidationReason != nil {
			reason = *session.InvalidationReason
		}
		return 0, &autherr.SessionInvalidatedError{Reason: reason}
	}
	if session.ExpiredAt(time.Now()) {
		return 0, autherr.ErrSessionExpired
	}
	return session.AccountID, nil
}

// Touch updates the activity timestamp. Best-effort: failure is logged, not
// returned.
func (s *SessionService) Touch(ctx context.Context, sessionID uint) {
	if err := s.sessions.Touch(sessionID, time.Now().UTC()); err != nil {
		slog.WarnContext(ctx, "session touch failed", "session_id", sessionID, "error", err)
	}
}

func (s *SessionService) Invalidate(ctx context.Context, sessionID uint, reason domain.InvalidationReason) (bool, error) {
	return s.sessions.Invalidate(sessionID, reason)
}

// InvalidateAllForAccount cascades over every live session. Used on password
// change, suspension, and device reset.
func (s *SessionService) InvalidateAllForAccount(ctx context.Context, accountID uint, reason domain.InvalidationReason) (int64, error) {
	return s.sessions.InvalidateAllForAccount(accountID, reason)
}

func (s *SessionService) ListActive(accountID uint, currentSessionID uint) ([]SessionView, error) {
	sessions, err := s.sessions.ListActiveByAccount(accountID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:             session.ID,
			CreatedAt:      session.CreatedAt,
			ExpiresAt:      session.ExpiresAt,
			LastActivityAt: session.LastActivityAt,
			InvalidatedAt:  session.InvalidatedAt,
			Fingerprint:    session.Fingerprint,
			UserAgent:      session.UserAgent,
			IPAddress:      session.IPAddress,
			IsCurrent:      session.ID == currentSessionID,
		})
	}
	return views, nil
}

// ReapExpired marks expired sessions invalidated for reporting. Correctness
// never depends on it; Verify already evaluates expiry lazily.
func (s *SessionService) ReapExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.CleanupExpired()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "expired sessions reaped", "count", n)
	}
	return n, nil
}
