package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/observability"
	"github.com/pipetrade/rfq-auth/internal/repository"
	"github.com/pipetrade/rfq-auth/internal/security"
)

type LoginInput struct {
	Email       string
	Password    string
	Fingerprint string
	IPAddress   string
	IPCountry   string
	UserAgent   string
}

type LoginResult struct {
	AccountID         uint   `json:"account_id"`
	SessionToken      string `json:"session_token"`
	AccessToken       string `json:"access_token"`
	RefreshToken      string `json:"refresh_token"`
	ExpiresIn         int64  `json:"expires_in"`
	IPMismatchWarning bool   `json:"ip_mismatch_warning,omitempty"`
	RegisteredIP      string `json:"registered_ip,omitempty"`
}

// CooldownActiveError reports an abuse-guard throttle; it is not part of the
// authentication taxonomy and maps to 429 at the boundary.
type CooldownActiveError struct {
	RetryAfter time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("login throttled, retry after %s", e.RetryAfter)
}

// AuthService drives a login attempt through credential check, device
// evaluation, session creation, and audit emission. Every exit, success or
// failure, leaves an audit record.
type AuthService struct {
	credentials   *CredentialService
	devices       *DeviceService
	tokens        *TokenService
	sessions      repository.SessionRepository
	audit         *AuditService
	abuse         AuthAbuseGuard
	sessionTTL    time.Duration
	singleSession bool
}

func NewAuthService(
	credentials *CredentialService,
	devices *DeviceService,
	tokens *TokenService,
	sessions repository.SessionRepository,
	audit *AuditService,
	abuse AuthAbuseGuard,
	sessionTTL time.Duration,
	singleSession bool,
) *AuthService {
	return &AuthService{
		credentials:   credentials,
		devices:       devices,
		tokens:        tokens,
		sessions:      sessions,
		audit:         audit,
		abuse:         abuse,
		sessionTTL:    sessionTTL,
		singleSession: singleSession,
	}
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if cooldown := s.checkCooldown(ctx, in); cooldown > 0 {
		observability.RecordAuthLogin("throttled")
		return nil, &CooldownActiveError{RetryAfter: cooldown}
	}

	account, err := s.credentials.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		s.registerFailure(ctx, in)
		s.auditLoginFailure(ctx, in, 0, err)
		observability.RecordAuthLogin("credentials_rejected")
		return nil, err
	}

	eval, err := s.devices.Evaluate(ctx, account, in.Fingerprint, in.IPAddress)
	if err != nil {
		return nil, err
	}
	switch eval.Outcome {
	case DeviceOutcomeBlocked:
		s.registerFailure(ctx, in)
		s.auditLoginFailure(ctx, in, account.ID, autherr.ErrDeviceNotRecognized)
		observability.RecordAuthLogin("device_blocked")
		return nil, autherr.ErrDeviceNotRecognized
	case DeviceOutcomeFirstLogin:
		if _, err := s.devices.RegisterPrimary(ctx, account.ID, in.Fingerprint, in.IPAddress, in.IPCountry, in.UserAgent); err != nil {
			return nil, err
		}
	}

	if s.singleSession {
		if _, err := s.sessions.InvalidateAllForAccount(account.ID, domain.InvalidationNewLogin); err != nil {
			return nil, err
		}
	}

	result, err := s.issueSession(ctx, account, in, eval)
	if err != nil {
		return nil, err
	}
	s.resetFailures(ctx, in)
	observability.RecordAuthLogin("success")
	return result, nil
}

func (s *AuthService) issueSession(ctx context.Context, account *domain.Account, in LoginInput, eval *DeviceEvaluation) (*LoginResult, error) {
	sessionToken, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	refresh, refreshHash, err := s.tokens.MintRefresh()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	session := &domain.Session{
		AccountID:        account.ID,
		SessionToken:     sessionToken,
		RefreshTokenHash: &refreshHash,
		Fingerprint:      in.Fingerprint,
		IPAddress:        in.IPAddress,
		UserAgent:        in.UserAgent,
		ExpiresAt:        now.Add(s.sessionTTL),
		RefreshExpiresAt: s.tokens.RefreshDeadline(now),
		LastActivityAt:   now,
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, err
	}
	pair, err := s.tokens.Issue(account, session.ID, refresh)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, AuditEvent{
		EntityType: "session",
		EntityID:   session.ID,
		Action:     domain.AuditActionLogin,
		NewValue: map[string]any{
			"account_id":          account.ID,
			"fingerprint":         in.Fingerprint,
			"ip_mismatch_warning": eval.IPMismatchWarning,
		},
		ActorID:   &account.ID,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	})
	return &LoginResult{
		AccountID:         account.ID,
		SessionToken:      sessionToken,
		AccessToken:       pair.AccessToken,
		RefreshToken:      pair.RefreshToken,
		ExpiresIn:         pair.ExpiresIn,
		IPMismatchWarning: eval.IPMismatchWarning,
		RegisteredIP:      eval.RegisteredIP,
	}, nil
}

// Refresh exchanges a refresh token for a new pair, enforcing single use.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, fingerprint, ip, ua string) (*TokenPair, error) {
	pair, _, err := s.tokens.Rotate(ctx, refreshToken, fingerprint, ip, ua)
	return pair, err
}

// Logout invalidates the session behind the presented token. Either the
// opaque session token or a still-valid access token is accepted.
func (s *AuthService) Logout(ctx context.Context, token, ip, ua string) error {
	session, err := s.resolveSession(token)
	if err != nil {
		observability.RecordAuthLogout("unknown_session")
		return err
	}
	changed, err := s.sessions.Invalidate(session.ID, domain.InvalidationLogout)
	if err != nil {
		return err
	}
	if changed {
		s.audit.Record(ctx, AuditEvent{
			EntityType: "session",
			EntityID:   session.ID,
			Action:     domain.AuditActionLogout,
			ActorID:    &session.AccountID,
			IPAddress:  ip,
			UserAgent:  ua,
		})
	}
	observability.RecordAuthLogout("success")
	return nil
}

// AdminResetDevice clears the account's primary binding and its sessions.
// Role enforcement happens at the HTTP layer; the acting administrator is
// recorded here.
func (s *AuthService) AdminResetDevice(ctx context.Context, accountID, actorID uint, ip, ua string) (*repository.ResetResult, error) {
	return s.devices.AdminReset(ctx, accountID, actorID, ip, ua)
}

func (s *AuthService) resolveSession(token string) (*domain.Session, error) {
	session, err := s.sessions.FindByToken(token)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, autherr.ErrSessionNotFound) {
		return nil, err
	}
	identity, verr := s.tokens.Verify(token)
	if verr != nil {
		return nil, autherr.ErrSessionNotFound
	}
	return s.sessions.FindByID(identity.SessionID)
}

func (s *AuthService) auditLoginFailure(ctx context.Context, in LoginInput, accountID uint, cause error) {
	action := domain.AuditActionLoginFailed
	if errors.Is(cause, autherr.ErrDeviceNotRecognized) {
		action = domain.AuditActionSecurity
	}
	s.audit.Record(ctx, AuditEvent{
		EntityType: "account",
		EntityID:   accountID,
		Action:     action,
		NewValue:   map[string]any{"email": in.Email, "fingerprint": in.Fingerprint, "cause": cause.Error()},
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
	})
}

// Abuse-guard calls fail open: a redis outage degrades throttling, never
// login availability.

func (s *AuthService) checkCooldown(ctx context.Context, in LoginInput) time.Duration {
	if s.abuse == nil {
		return 0
	}
	cooldown, err := s.abuse.Check(ctx, AuthAbuseScopeLogin, in.Email, in.IPAddress)
	if err != nil {
		return 0
	}
	return cooldown
}

func (s *AuthService) registerFailure(ctx context.Context, in LoginInput) {
	if s.abuse == nil {
		return
	}
	_, _ = s.abuse.RegisterFailure(ctx, AuthAbuseScopeLogin, in.Email, in.IPAddress)
}

func (s *AuthService) resetFailures(ctx context.Context, in LoginInput) {
	if s.abuse == nil {
		return
	}
	_ = s.abuse.Reset(ctx, AuthAbuseScopeLogin, in.Email, in.IPAddress)
}
