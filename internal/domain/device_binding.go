package domain

import "time"

// Binding deactivation reasons recorded alongside DeactivatedAt.
const (
	DeactivationReasonDeviceReset = "device_reset"
	DeactivationReasonAdminReset  = "admin_reset"
	DeactivationReasonReplaced    = "replaced"
)

// DeviceBinding ties an account to a client device fingerprint. Bindings are
// soft-revoked: a nil DeactivatedAt means the binding is live, and a set
// DeactivatedAt always carries a reason. At most one binding per account may
// be live with IsPrimary set; a partial unique index enforces that at the
// schema level so racing registrations cannot both land.
type DeviceBinding struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	AccountID          uint       `gorm:"index:idx_binding_account_fp;uniqueIndex:idx_binding_live_primary,where:is_primary AND deactivated_at IS NULL;not null" json:"account_id"`
	Account            *Account   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Fingerprint        string     `gorm:"size:128;index:idx_binding_account_fp;not null" json:"fingerprint"`
	IsPrimary          bool       `gorm:"not null;default:false" json:"is_primary"`
	RegisteredIP       string     `gorm:"size:64" json:"registered_ip"`
	IPCountry          string     `gorm:"size:2" json:"ip_country,omitempty"`
	DeactivatedAt      *time.Time `gorm:"index" json:"deactivated_at,omitempty"`
	DeactivatedBy      *uint      `json:"deactivated_by,omitempty"`
	DeactivationReason *string    `gorm:"size:64" json:"deactivation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (b *DeviceBinding) Active() bool { return b.DeactivatedAt == nil }

// Deactivate stamps the lifecycle fields together so a deactivated binding
// can never lack a timestamp or reason.
func (b *DeviceBinding) Deactivate(reason string, actorID *uint, at time.Time) {
	if b.DeactivatedAt != nil {
		return
	}
	b.DeactivatedAt = &at
	b.DeactivationReason = &reason
	b.DeactivatedBy = actorID
}
