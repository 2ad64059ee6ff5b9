package models

import (
	"time"

	"github.com/google/uuid"
)

// InviteCode is a bounded one-time (or few-use) invitation issued by an
// existing account.
type InviteCode struct {
	Code string `gorm:"type:varchar(12);primaryKey"` // Fixed-length random alphanumeric.

	CreatedBy uuid.UUID  `gorm:"type:uuid;not null;index"` // Issuing account.
	UsedBy    *uuid.UUID `gorm:"type:uuid"`                // First consuming account.

	ExpiresAt time.Time  `gorm:"not null"` // Hard expiry.
	UsedAt    *time.Time // Set on first consumption.

	IsValid  bool `gorm:"not null;default:true"` // False once exhausted or revoked.
	UseCount int  `gorm:"not null;default:0"`    // Never exceeds MaxUses.
	MaxUses  int  `gorm:"not null;default:1"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}
