package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pipetrade/rfq-auth/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, email string) *domain.Account {
	t.Helper()

	account := &domain.Account{
		Email:        email,
		PasswordHash: "hash",
		PasswordSalt: "salt",
		Status:       domain.AccountStatusActive,
		DeviceBound:  true,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

func seedSession(t *testing.T, db *gorm.DB, accountID uint, token, refreshHash, fingerprint string, expiresAt time.Time) *domain.Session {
	t.Helper()

	session := &domain.Session{
		AccountID:      accountID,
		SessionToken:   token,
		Fingerprint:    fingerprint,
		IPAddress:      "203.0.113.10",
		ExpiresAt:      expiresAt,
		LastActivityAt: time.Now().UTC(),
	}
	if refreshHash != "" {
		session.RefreshTokenHash = &refreshHash
	}
	if err := db.Create(session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session
}
