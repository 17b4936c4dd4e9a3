package service

import (
	"context"
	"errors"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/repository"
	"github.com/pipetrade/rfq-auth/internal/security"
)

// CredentialService fronts the account/credential store. Lookups that fail
// and passwords that do not verify both surface as ErrInvalidCredentials so
// callers cannot enumerate accounts; the distinction survives only in the
// audit trail.
type CredentialService struct {
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	hasher   *security.PasswordHasher
	audit    *AuditService
}

func NewCredentialService(
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	hasher *security.PasswordHasher,
	audit *AuditService,
) *CredentialService {
	return &CredentialService{accounts: accounts, sessions: sessions, hasher: hasher, audit: audit}
}

// decoySalt/decoyHash feed a burn verification when the account does not
// exist, keeping the lookup-miss path on the same timing as a wrong password.
var (
	decoyHash = "eLWCbhgKQV1JOuvoSJ39dqUqFEWyVzylUBCyKu28zHs"
	decoySalt = "z9Ltd9C2X8VUevqoqbqkcg"
)

func (s *CredentialService) Authenticate(ctx context.Context, email, password string) (*domain.Account, error) {
	account, err := s.accounts.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			s.hasher.Verify(password, decoyHash, decoySalt)
			return nil, autherr.ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Verify(password, account.PasswordHash, account.PasswordSalt) {
		return nil, autherr.ErrInvalidCredentials
	}
	if !account.Active() {
		return nil, autherr.ErrAccountSuspended
	}
	return account, nil
}

func (s *CredentialService) FindByID(id uint) (*domain.Account, error) {
	return s.accounts.FindByID(id)
}

// ChangePassword re-hashes under a fresh salt and cascades invalidation of
// every live session for the account.
func (s *CredentialService) ChangePassword(ctx context.Context, accountID uint, newPassword string, actorID *uint, ip, ua string) error {
	hash, salt, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(accountID, hash, salt); err != nil {
		return err
	}
	invalidated, err := s.sessions.InvalidateAllForAccount(accountID, domain.InvalidationAdminReset)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, AuditEvent{
		EntityType: "account",
		EntityID:   accountID,
		Action:     domain.AuditActionUpdate,
		NewValue:   map[string]any{"password_changed": true, "sessions_invalidated": invalidated},
		ActorID:    actorID,
		IPAddress:  ip,
		UserAgent:  ua,
	})
	return nil
}

// Suspend marks the account suspended and terminates all of its sessions.
func (s *CredentialService) Suspend(ctx context.Context, accountID uint, actorID *uint, ip, ua string) error {
	account, err := s.accounts.FindByID(accountID)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdateStatus(accountID, domain.AccountStatusSuspended); err != nil {
		return err
	}
	invalidated, err := s.sessions.InvalidateAllForAccount(accountID, domain.InvalidationAccountSuspended)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, AuditEvent{
		EntityType: "account",
		EntityID:   accountID,
		Action:     domain.AuditActionUpdate,
		OldValue:   map[string]any{"status": account.Status},
		NewValue:   map[string]any{"status": domain.AccountStatusSuspended, "sessions_invalidated": invalidated},
		ActorID:    actorID,
		IPAddress:  ip,
		UserAgent:  ua,
	})
	return nil
}

// Register creates an account with a hashed credential. Used by seeding and
// the admin provisioning path.
func (s *CredentialService) Register(ctx context.Context, email, password string, roles []string, deviceBound bool) (*domain.Account, error) {
	hash, salt, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	account := &domain.Account{
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		Status:       domain.AccountStatusActive,
		Roles:        roles,
		DeviceBound:  deviceBound,
	}
	if err := s.accounts.Create(account); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, AuditEvent{
		EntityType: "account",
		EntityID:   account.ID,
		Action:     domain.AuditActionCreate,
		NewValue:   map[string]any{"email": account.Email, "roles": roles, "device_bound": deviceBound},
	})
	return account, nil
}
