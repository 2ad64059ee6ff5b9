package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DeviceFingerprint correlates a stable device hash with the accounts seen
// using it. Risk score grows as more accounts share one device.
type DeviceFingerprint struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	FingerprintHash string `gorm:"type:varchar(64);not null;uniqueIndex"` // SHA-256 hex of the raw fingerprint.

	AccountIDs   datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // JSON array of account UUIDs, duplicates ignored.
	AccountCount int            `gorm:"not null;default:0"`               // len(AccountIDs), denormalized for queries.

	RiskScore int `gorm:"not null;default:0;index"` // 0-100, non-decreasing except via Unblock.

	IsBlocked   bool       `gorm:"not null;default:false"` // Blocked devices fail all sightings.
	BlockReason string     `gorm:"type:text"`
	BlockedAt   *time.Time

	UserAgent string `gorm:"type:text"` // Metadata captured on first sighting.

	FirstSeenAt time.Time `gorm:"not null;autoCreateTime"`
	LastSeenAt  time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime"`
}

// Accounts decodes the associated account ID set.
func (d *DeviceFingerprint) Accounts() ([]uuid.UUID, error) {
	if len(d.AccountIDs) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(d.AccountIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetAccounts encodes the associated account ID set and keeps AccountCount
// in sync.
func (d *DeviceFingerprint) SetAccounts(ids []uuid.UUID) error {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	d.AccountIDs = datatypes.JSON(payload)
	d.AccountCount = len(ids)
	return nil
}

// HasAccount reports whether the account is already associated.
func (d *DeviceFingerprint) HasAccount(id uuid.UUID) (bool, error) {
	ids, err := d.Accounts()
	if err != nil {
		return false, err
	}
	for _, existing := range ids {
		if existing == id {
			return true, nil
		}
	}
	return false, nil
}
