package domain

import "time"

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

type Account struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	Email        string        `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string        `gorm:"size:128;not null" json:"-"`
	PasswordSalt string        `gorm:"size:64;not null" json:"-"`
	Status       AccountStatus `gorm:"size:32;not null;default:active" json:"status"`
	Roles        []string      `gorm:"serializer:json" json:"roles"`
	DeviceBound  bool          `gorm:"not null;default:false" json:"device_bound"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (a *Account) Active() bool { return a.Status == AccountStatusActive }

func (a *Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
