package domain

import "time"

type AuditAction string

const (
	AuditActionCreate      AuditAction = "create"
	AuditActionUpdate      AuditAction = "update"
	AuditActionDelete      AuditAction = "delete"
	AuditActionLogin       AuditAction = "login"
	AuditActionLoginFailed AuditAction = "login_failed"
	AuditActionLogout      AuditAction = "logout"
	AuditActionRefresh     AuditAction = "token_refresh"
	AuditActionDeviceReset AuditAction = "device_reset"
	AuditActionSecurity    AuditAction = "security_event"
)

// AuditLogEntry is an immutable fact. ActorID is nullable for system actions
// and only references the account informationally: entries outlive account
// deletion with the reference nulled.
type AuditLogEntry struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	EntityType string      `gorm:"size:64;index:idx_audit_entity;not null" json:"entity_type"`
	EntityID   uint        `gorm:"index:idx_audit_entity" json:"entity_id"`
	Action     AuditAction `gorm:"size:32;not null" json:"action"`
	OldValue   string      `gorm:"type:text" json:"old_value,omitempty"`
	NewValue   string      `gorm:"type:text" json:"new_value,omitempty"`
	ActorID    *uint       `json:"actor_id,omitempty"`
	Actor      *Account    `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	IPAddress  string      `gorm:"size:64" json:"ip_address"`
	UserAgent  string      `gorm:"size:512" json:"user_agent"`
	CreatedAt  time.Time   `json:"created_at"`
}
