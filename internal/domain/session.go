package domain

import "time"

type InvalidationReason string

const (
	InvalidationLogout           InvalidationReason = "logout"
	InvalidationNewLogin         InvalidationReason = "new_login"
	InvalidationExpired          InvalidationReason = "expired"
	InvalidationAdminReset       InvalidationReason = "admin_reset"
	InvalidationDeviceReset      InvalidationReason = "device_reset"
	InvalidationAccountSuspended InvalidationReason = "account_suspended"
)

// Session is one authenticated login instance. SessionToken is the opaque
// bearer/lookup key; the refresh token is stored only as a peppered hash, with
// the previous hash retained one generation back for rotation-replay
// detection. RefreshExpiresAt bounds the current refresh token independently
// of the session and moves forward on each rotation. Sessions are never
// deleted, only invalidated with a reason.
type Session struct {
	ID                    uint                `gorm:"primaryKey" json:"id"`
	AccountID             uint                `gorm:"index:idx_session_account_active;not null" json:"account_id"`
	Account               *Account            `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	SessionToken          string              `gorm:"size:128;uniqueIndex;not null" json:"-"`
	RefreshTokenHash      *string             `gorm:"size:128;uniqueIndex" json:"-"`
	PriorRefreshTokenHash *string             `gorm:"size:128;index" json:"-"`
	Fingerprint           string              `gorm:"size:128;index" json:"fingerprint"`
	IPAddress             string              `gorm:"size:64" json:"ip_address"`
	UserAgent             string              `gorm:"size:512" json:"user_agent"`
	ExpiresAt             time.Time           `gorm:"index;not null" json:"expires_at"`
	RefreshExpiresAt      time.Time           `json:"-"`
	LastActivityAt        time.Time           `json:"last_activity_at"`
	InvalidatedAt         *time.Time          `gorm:"index:idx_session_account_active" json:"invalidated_at,omitempty"`
	InvalidationReason    *InvalidationReason `gorm:"size:32" json:"invalidation_reason,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

func (s *Session) Invalidated() bool { return s.InvalidatedAt != nil }

func (s *Session) ExpiredAt(now time.Time) bool { return !s.ExpiresAt.After(now) }

// ActiveAt reports whether the session is usable at the given instant.
// Expiry is evaluated lazily here rather than by a background sweep.
func (s *Session) ActiveAt(now time.Time) bool {
	return s.InvalidatedAt == nil && s.ExpiresAt.After(now)
}
