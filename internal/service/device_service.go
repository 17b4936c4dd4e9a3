package service

import (
	"context"
	"errors"

	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/observability"
	"github.com/pipetrade/rfq-auth/internal/repository"
)

// DeviceOutcome is the device-binding ledger's verdict for a login attempt.
type DeviceOutcome string

const (
	DeviceOutcomeOK         DeviceOutcome = "ok"
	DeviceOutcomeFirstLogin DeviceOutcome = "first_login"
	DeviceOutcomeBlocked    DeviceOutcome = "blocked"
)

// MatchReason explains a negative MatchesBoundDevice answer.
const (
	MatchReasonNoBinding           = "no-binding"
	MatchReasonFingerprintMismatch = "fingerprint-mismatch"
)

type DeviceEvaluation struct {
	Outcome           DeviceOutcome
	IPMismatchWarning bool
	RegisteredIP      string
	Binding           *domain.DeviceBinding
}

type DeviceMatch struct {
	Bound  bool
	Reason string
}

// DeviceService enforces the device-binding policy: device-bound accounts
// hold exactly one live primary fingerprint, established trust-on-first-use
// and replaced only through an explicit reset.
type DeviceService struct {
	bindings repository.DeviceBindingRepository
	audit    *AuditService
}

func NewDeviceService(bindings repository.DeviceBindingRepository, audit *AuditService) *DeviceService {
	return &DeviceService{bindings: bindings, audit: audit}
}

// Evaluate decides whether the presented fingerprint may proceed. A matching
// device from a new address yields a soft warning, never a block; a
// mismatched device blocks outright.
func (s *DeviceService) Evaluate(ctx context.Context, account *domain.Account, fingerprint, ip string) (*DeviceEvaluation, error) {
	if !account.DeviceBound {
		observability.RecordDeviceEvaluation("unbound_account")
		return &DeviceEvaluation{Outcome: DeviceOutcomeOK}, nil
	}
	primary, err := s.bindings.FindActivePrimary(account.ID)
	if err != nil {
		if errors.Is(err, repository.ErrBindingNotFound) {
			observability.RecordDeviceEvaluation("first_login")
			return &DeviceEvaluation{Outcome: DeviceOutcomeFirstLogin}, nil
		}
		return nil, err
	}
	if primary.Fingerprint != fingerprint {
		observability.RecordDeviceEvaluation("blocked")
		return &DeviceEvaluation{Outcome: DeviceOutcomeBlocked, Binding: primary}, nil
	}
	eval := &DeviceEvaluation{Outcome: DeviceOutcomeOK, Binding: primary}
	if ip != "" && primary.RegisteredIP != "" && ip != primary.RegisteredIP {
		eval.IPMismatchWarning = true
		eval.RegisteredIP = primary.RegisteredIP
		observability.RecordIPMismatch()
		observability.RecordDeviceEvaluation("ip_mismatch")
	} else {
		observability.RecordDeviceEvaluation("ok")
	}
	return eval, nil
}

// MatchesBoundDevice answers the bare ledger question without policy side
// effects.
func (s *DeviceService) MatchesBoundDevice(accountID uint, fingerprint string) (*DeviceMatch, error) {
	primary, err := s.bindings.FindActivePrimary(accountID)
	if err != nil {
		if errors.Is(err, repository.ErrBindingNotFound) {
			return &DeviceMatch{Bound: false, Reason: MatchReasonNoBinding}, nil
		}
		return nil, err
	}
	if primary.Fingerprint != fingerprint {
		return &DeviceMatch{Bound: false, Reason: MatchReasonFingerprintMismatch}, nil
	}
	return &DeviceMatch{Bound: true}, nil
}

// RegisterPrimary installs fingerprint as the account's primary device.
// Displacing an existing primary cascades device_reset invalidation of its
// sessions inside the repository transaction.
func (s *DeviceService) RegisterPrimary(ctx context.Context, accountID uint, fingerprint, ip, ipCountry, ua string) (*domain.DeviceBinding, error) {
	binding := &domain.DeviceBinding{
		AccountID:    accountID,
		Fingerprint:  fingerprint,
		RegisteredIP: ip,
		IPCountry:    ipCountry,
	}
	replaced, err := s.bindings.RegisterPrimary(binding)
	if err != nil {
		return nil, err
	}
	newVal := map[string]any{"fingerprint": fingerprint, "registered_ip": ip, "is_primary": true}
	ev := AuditEvent{
		EntityType: "device_binding",
		EntityID:   binding.ID,
		Action:     domain.AuditActionCreate,
		NewValue:   newVal,
		IPAddress:  ip,
		UserAgent:  ua,
	}
	if replaced != "" {
		ev.OldValue = map[string]any{"fingerprint": replaced}
	}
	s.audit.Record(ctx, ev)
	return binding, nil
}

// Deactivate soft-revokes one binding. Idempotent: repeating the call leaves
// the first deactivation record untouched.
func (s *DeviceService) Deactivate(ctx context.Context, bindingID uint, reason string, actorID *uint, ip, ua string) error {
	changed, err := s.bindings.Deactivate(bindingID, reason, actorID)
	if err != nil {
		return err
	}
	if changed {
		s.audit.Record(ctx, AuditEvent{
			EntityType: "device_binding",
			EntityID:   bindingID,
			Action:     domain.AuditActionUpdate,
			NewValue:   map[string]any{"deactivation_reason": reason},
			ActorID:    actorID,
			IPAddress:  ip,
			UserAgent:  ua,
		})
	}
	return nil
}

// AdminReset deactivates the active primary binding and every session bound
// to it, recording the elevated actor. The next successful login re-binds
// trust-on-first-use.
func (s *DeviceService) AdminReset(ctx context.Context, accountID uint, actorID uint, ip, ua string) (*repository.ResetResult, error) {
	result, err := s.bindings.ResetPrimary(accountID, domain.DeactivationReasonDeviceReset, &actorID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, AuditEvent{
		EntityType: "device_binding",
		EntityID:   result.Binding.ID,
		Action:     domain.AuditActionDeviceReset,
		OldValue:   map[string]any{"fingerprint": result.Binding.Fingerprint, "is_primary": true},
		NewValue:   map[string]any{"deactivation_reason": domain.DeactivationReasonDeviceReset, "sessions_invalidated": result.InvalidatedSessions},
		ActorID:    &actorID,
		IPAddress:  ip,
		UserAgent:  ua,
	})
	return result, nil
}

func (s *DeviceService) ListActiveBindings(accountID uint) ([]domain.DeviceBinding, error) {
	return s.bindings.ListActiveByAccount(accountID)
}
