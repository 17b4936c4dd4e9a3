package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/repository"
	"github.com/pipetrade/rfq-auth/internal/security"
)

type authHarness struct {
	db          *gorm.DB
	sessions    repository.SessionRepository
	bindings    repository.DeviceBindingRepository
	audits      repository.AuditLogRepository
	credentials *CredentialService
	devices     *DeviceService
	tokens      *TokenService
	sessionSvc  *SessionService
	auth        *AuthService
}

func newAuthHarness(t *testing.T, singleSession bool) *authHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.Account{},
		&domain.DeviceBinding{},
		&domain.Session{},
		&domain.AuditLogEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	accountRepo := repository.NewAccountRepository(db)
	bindingRepo := repository.NewDeviceBindingRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	auditSvc := NewAuditService(auditRepo)
	hasher := security.NewPasswordHasher()
	jwtMgr := security.NewJWTManager("rfq-auth-test", "rfq-platform-test", "test-access-secret")

	credentials := NewCredentialService(accountRepo, sessionRepo, hasher, auditSvc)
	devices := NewDeviceService(bindingRepo, auditSvc)
	tokens := NewTokenService(jwtMgr, sessionRepo, accountRepo, auditSvc, "test-pepper", 15*time.Minute, 24*time.Hour)
	sessionSvc := NewSessionService(sessionRepo, auditSvc)
	auth := NewAuthService(credentials, devices, tokens, sessionRepo, auditSvc, nil, time.Hour, singleSession)

	return &authHarness{
		db:          db,
		sessions:    sessionRepo,
		bindings:    bindingRepo,
		audits:      auditRepo,
		credentials: credentials,
		devices:     devices,
		tokens:      tokens,
		sessionSvc:  sessionSvc,
		auth:        auth,
	}
}

func (h *authHarness) register(t *testing.T, email, password string, roles []string, deviceBound bool) *domain.Account {
	t.Helper()

	account, err := h.credentials.Register(context.Background(), email, password, roles, deviceBound)
	if err != nil {
		t.Fatalf("register account: %v", err)
	}
	return account
}

func (h *authHarness) login(t *testing.T, email, password, fingerprint, ip string) *LoginResult {
	t.Helper()

	result, err := h.auth.Login(context.Background(), LoginInput{
		Email:       email,
		Password:    password,
		Fingerprint: fingerprint,
		IPAddress:   ip,
		UserAgent:   "harness/1.0",
	})
	if err != nil {
		t.Fatalf("login %s from %s: %v", email, ip, err)
	}
	return result
}

func (h *authHarness) sessionByToken(t *testing.T, token string) *domain.Session {
	t.Helper()

	session, err := h.sessions.FindByToken(token)
	if err != nil {
		t.Fatalf("find session by token: %v", err)
	}
	return session
}
