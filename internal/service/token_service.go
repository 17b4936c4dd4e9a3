package service

import (
	"context"
	"errors"
	"time"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/observability"
	"github.com/pipetrade/rfq-auth/internal/repository"
	"github.com/pipetrade/rfq-auth/internal/security"
)

// TokenPair is what a successful issue or rotation hands back. ExpiresIn is
// the access-token lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Identity is the verified content of an access token.
type Identity struct {
	AccountID uint
	Roles     []string
	SessionID uint
}

// TokenService mints and verifies the token pair. Access tokens are signed
// and stateless; refresh tokens are opaque, single-use, and exist server-side
// only as a peppered hash on the session row.
type TokenService struct {
	jwtMgr     *security.JWTManager
	sessions   repository.SessionRepository
	accounts   repository.AccountRepository
	audit      *AuditService
	pepper     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(
	jwtMgr *security.JWTManager,
	sessions repository.SessionRepository,
	accounts repository.AccountRepository,
	audit *AuditService,
	pepper string,
	accessTTL, refreshTTL time.Duration,
) *TokenService {
	return &TokenService{
		jwtMgr:     jwtMgr,
		sessions:   sessions,
		accounts:   accounts,
		audit:      audit,
		pepper:     pepper,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// RefreshDeadline reports when a refresh token minted at the given instant
// stops being accepted. Each rotation pushes the deadline forward.
func (s *TokenService) RefreshDeadline(now time.Time) time.Time {
	return now.Add(s.refreshTTL)
}

// MintRefresh creates a fresh opaque refresh token and the hash to store in
// its place.
func (s *TokenService) MintRefresh() (token, hash string, err error) {
	token, err = security.NewOpaqueToken()
	if err != nil {
		return "", "", err
	}
	return token, security.HashRefreshToken(token, s.pepper), nil
}

// Issue signs an access token for an existing session and pairs it with the
// refresh plaintext the caller just minted.
func (s *TokenService) Issue(account *domain.Account, sessionID uint, refresh string) (*TokenPair, error) {
	access, err := s.jwtMgr.SignAccessToken(account.ID, account.Roles, sessionID, s.accessTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// Rotate exchanges a refresh token for a new pair. The stored hash is swapped
// under a conditional update, so a given token value rotates at most once.
// Presenting an already-rotated token is treated as possible theft: the
// session is invalidated outright, not just the request refused.
func (s *TokenService) Rotate(ctx context.Context, refreshToken, fingerprint, ip, ua string) (*TokenPair, *domain.Session, error) {
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	session, err := s.sessions.FindByRefreshHash(hash)
	if err != nil {
		if errors.Is(err, autherr.ErrSessionNotFound) {
			return nil, nil, s.handlePossibleReplay(ctx, hash, ip, ua)
		}
		return nil, nil, err
	}
	now := time.Now()
	if !session.ActiveAt(now) {
		return nil, nil, autherr.ErrRefreshTokenInvalid
	}
	if !session.RefreshExpiresAt.IsZero() && now.After(session.RefreshExpiresAt) {
		observability.RecordAuthRefresh("expired")
		return nil, nil, autherr.ErrRefreshTokenInvalid
	}
	if session.Fingerprint != "" && fingerprint != "" && session.Fingerprint != fingerprint {
		s.audit.Record(ctx, AuditEvent{
			EntityType: "session",
			EntityID:   session.ID,
			Action:     domain.AuditActionSecurity,
			NewValue:   map[string]any{"refresh_fingerprint_mismatch": true},
			IPAddress:  ip,
			UserAgent:  ua,
		})
		return nil, nil, autherr.ErrRefreshTokenInvalid
	}

	account, err := s.accounts.FindByID(session.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, nil, autherr.ErrRefreshTokenInvalid
		}
		return nil, nil, err
	}
	if !account.Active() {
		_, _ = s.sessions.InvalidateAllForAccount(account.ID, domain.InvalidationAccountSuspended)
		return nil, nil, autherr.ErrRefreshTokenInvalid
	}

	newRefresh, newHash, err := s.MintRefresh()
	if err != nil {
		return nil, nil, err
	}
	rotated, err := s.sessions.RotateRefresh(session.ID, hash, newHash, s.RefreshDeadline(now))
	if err != nil {
		return nil, nil, err
	}
	if !rotated {
		// Lost a concurrent rotation race; the presented token is no longer
		// current. A retry with it will hit the replay path.
		return nil, nil, autherr.ErrRefreshTokenInvalid
	}
	pair, err := s.Issue(account, session.ID, newRefresh)
	if err != nil {
		return nil, nil, err
	}
	s.audit.Record(ctx, AuditEvent{
		EntityType: "session",
		EntityID:   session.ID,
		Action:     domain.AuditActionRefresh,
		IPAddress:  ip,
		UserAgent:  ua,
	})
	observability.RecordAuthRefresh("success")
	return pair, session, nil
}

// handlePossibleReplay checks whether the unknown hash was a previous
// generation of some session's refresh token. If so, the token was stolen or
// the client is replaying: kill the session.
func (s *TokenService) handlePossibleReplay(ctx context.Context, hash, ip, ua string) error {
	session, err := s.sessions.FindByPriorRefreshHash(hash)
	if err != nil {
		if errors.Is(err, autherr.ErrSessionNotFound) {
			observability.RecordAuthRefresh("invalid")
			return autherr.ErrRefreshTokenInvalid
		}
		return err
	}
	_, _ = s.sessions.Invalidate(session.ID, domain.InvalidationExpired)
	s.audit.Record(ctx, AuditEvent{
		EntityType: "session",
		EntityID:   session.ID,
		Action:     domain.AuditActionSecurity,
		NewValue:   map[string]any{"refresh_token_reuse": true},
		IPAddress:  ip,
		UserAgent:  ua,
	})
	observability.RecordAuthRefresh("reuse_detected")
	return autherr.ErrRefreshTokenInvalid
}

// Verify checks the access token signature and claims, then confirms the
// issuing session is still live. The signature check is stateless; the
// session check is the single storage round trip the design allows.
func (s *TokenService) Verify(accessToken string) (*Identity, error) {
	claims, err := s.jwtMgr.ParseAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	accountID, err := claims.AccountID()
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.FindByID(claims.SessionID)
	if err != nil {
		if errors.Is(err, autherr.ErrSessionNotFound) {
			return nil, autherr.ErrTokenInvalid
		}
		return nil, err
	}
	if session.AccountID != accountID || !session.ActiveAt(time.Now()) {
		return nil, autherr.ErrTokenInvalid
	}
	return &Identity{AccountID: accountID, Roles: claims.Roles, SessionID: session.ID}, nil
}
