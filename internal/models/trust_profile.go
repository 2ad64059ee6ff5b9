package models

import (
	"time"

	"github.com/google/uuid"
)

// TrustLevel is the coarse reputation tier assigned to an account.
type TrustLevel int

const (
	TrustLevelNew      TrustLevel = 0 // Fresh accounts, tightest limits.
	TrustLevelBasic    TrustLevel = 1 // 7+ days, some activity, few flags.
	TrustLevelTrusted  TrustLevel = 2 // 90+ days, sustained activity.
	TrustLevelVerified TrustLevel = 3 // Manual verification only.
)

// TrustLevelFromInt converts a stored integer into a TrustLevel.
// Out-of-range values collapse to New.
func TrustLevelFromInt(v int) TrustLevel {
	switch v {
	case 1:
		return TrustLevelBasic
	case 2:
		return TrustLevelTrusted
	case 3:
		return TrustLevelVerified
	default:
		return TrustLevelNew
	}
}

func (l TrustLevel) String() string {
	switch l {
	case TrustLevelBasic:
		return "basic"
	case TrustLevelTrusted:
		return "trusted"
	case TrustLevelVerified:
		return "verified"
	default:
		return "new"
	}
}

// TrustProfile holds per-account reputation state. One row per account,
// created at account creation, never deleted while the account exists.
type TrustProfile struct {
	AccountID uuid.UUID `gorm:"type:uuid;primaryKey"` // Owning account.

	TrustLevel     int `gorm:"not null;default:0"` // Derived tier, see trust.LevelFor.
	TrustPoints    int `gorm:"not null;default:0"` // Signed-delta score, floored at 0.
	AccountAgeDays int `gorm:"not null;default:0"` // Recomputed by the daily batch job.

	PostsCount         int `gorm:"not null;default:0"` // Activity counters.
	CommentsCount      int `gorm:"not null;default:0"`
	LikesReceivedCount int `gorm:"not null;default:0"`
	FollowersCount     int `gorm:"not null;default:0"`

	FlagsReceived int `gorm:"not null;default:0"` // Violation counters. Never decays.
	Strikes       int `gorm:"not null;default:0"`

	InvitesSent       int `gorm:"not null;default:0"` // Invite ledger counters.
	SuccessfulInvites int `gorm:"not null;default:0"`

	BannedUntil    *time.Time // Set by strike escalation; banned while in the future.
	LastActivityAt *time.Time // Last guarded action.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Level returns the typed trust level.
func (p *TrustProfile) Level() TrustLevel {
	return TrustLevelFromInt(p.TrustLevel)
}

// Banned reports whether the profile is banned as of now.
func (p *TrustProfile) Banned(now time.Time) bool {
	return p.BannedUntil != nil && p.BannedUntil.After(now)
}
