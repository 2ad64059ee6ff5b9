package models

import (
	"time"

	"github.com/google/uuid"
)

// InviteRelationship records exactly one inviter->invitee edge per
// successful invite consumption. The rows form a forest rooted at seeded
// accounts; an invitee appears at most once.
type InviteRelationship struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	InviterID uuid.UUID `gorm:"type:uuid;not null;index"`       // Issuing account.
	InviteeID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"` // Consuming account.

	InviteCode string `gorm:"type:varchar(12);not null"` // Code that was consumed.

	InvitedAt time.Time `gorm:"not null;autoCreateTime"`
}
