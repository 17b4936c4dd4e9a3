package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/domain"
)

func TestSessionVerifyReportsInvalidationReason(t *testing.T) {
	h := newAuthHarness(t, false)
	account := h.register(t, "reasons@pipetrade.example", "s3cret-pw", nil, false)
	login := h.login(t, "reasons@pipetrade.example", "s3cret-pw", "fp-1", "203.0.113.10")

	ctx := context.Background()
	if _, err := h.sessionSvc.Verify(ctx, login.SessionToken); err != nil {
		t.Fatalf("verify live session: %v", err)
	}

	if _, err := h.sessionSvc.InvalidateAllForAccount(ctx, account.ID, domain.InvalidationAdminReset); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	_, err := h.sessionSvc.Verify(ctx, login.SessionToken)
	var invalidated *autherr.SessionInvalidatedError
	if !errors.As(err, &invalidated) {
		t.Fatalf("expected SessionInvalidatedError, got %v", err)
	}
	if invalidated.Reason != domain.InvalidationAdminReset {
		t.Fatalf("expected reason admin_reset, got %s", invalidated.Reason)
	}
}

func TestSessionVerifyEvaluatesExpiryLazily(t *testing.T) {
	h := newAuthHarness(t, false)
	account := h.register(t, "lazy@pipetrade.example", "s3cret-pw", nil, false)

	session := &domain.Session{
		AccountID:    account.ID,
		SessionToken: "tok-lazy-expired",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	if err := h.sessions.Create(session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	// No reaper has run; expiry must still be detected.
	if _, err := h.sessionSvc.Verify(context.Background(), "tok-lazy-expired"); !errors.Is(err, autherr.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestSessionVerifyUnknownToken(t *testing.T) {
	h := newAuthHarness(t, false)
	if _, err := h.sessionSvc.Verify(context.Background(), "never-issued"); !errors.Is(err, autherr.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionListActiveMarksCurrent(t *testing.T) {
	h := newAuthHarness(t, false)
	account := h.register(t, "listview@pipetrade.example", "s3cret-pw", nil, false)
	h.login(t, "listview@pipetrade.example", "s3cret-pw", "fp-1", "203.0.113.10")
	second := h.login(t, "listview@pipetrade.example", "s3cret-pw", "fp-2", "198.51.100.7")

	current := h.sessionByToken(t, second.SessionToken)
	views, err := h.sessionSvc.ListActive(account.ID, current.ID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	currentMarked := 0
	for _, v := range views {
		if v.IsCurrent {
			currentMarked++
			if v.ID != current.ID {
				t.Fatalf("wrong session marked current: %d", v.ID)
			}
		}
	}
	if currentMarked != 1 {
		t.Fatalf("expected exactly one current session, got %d", currentMarked)
	}
}

func TestReapExpiredCountsOnlyExpired(t *testing.T) {
	h := newAuthHarness(t, false)
	account := h.register(t, "reaper@pipetrade.example", "s3cret-pw", nil, false)
	h.login(t, "reaper@pipetrade.example", "s3cret-pw", "fp-1", "203.0.113.10")

	stale := &domain.Session{
		AccountID:    account.ID,
		SessionToken: "tok-reap-stale",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}
	if err := h.sessions.Create(stale); err != nil {
		t.Fatalf("create stale session: %v", err)
	}

	n, err := h.sessionSvc.ReapExpired(context.Background())
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 session reaped, got %d", n)
	}
}
